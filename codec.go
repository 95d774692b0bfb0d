package soapd

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Use selects whether SOAP section-5 encoding annotations (xsi:type,
// soap-enc:arrayType) are emitted — spec.md §4.1.
type Use int

const (
	UseLiteral Use = iota
	UseEncoded
)

// Version selects the SOAP envelope namespace/content-type pair of
// spec.md §6.
type Version int

const (
	Version11 Version = iota
	Version12
)

// Namespace constants from spec.md §6.
const (
	NSSoap11    = "http://schemas.xmlsoap.org/soap/envelope/"
	NSSoap12    = "http://www.w3.org/2003/05/soap-envelope"
	NSXSD       = "http://www.w3.org/2001/XMLSchema"
	NSXSI       = "http://www.w3.org/2001/XMLSchema-instance"
	NSSoapEnc11 = "http://schemas.xmlsoap.org/soap/encoding/"
	NSSoapEnc12 = "http://www.w3.org/2003/05/soap-encoding"

	ContentType11 = `text/xml; charset="utf-8"`
	ContentType12 = `application/soap+xml; charset=utf-8`
)

func envelopeNS(v Version) string {
	if v == Version12 {
		return NSSoap12
	}
	return NSSoap11
}

func encodingNS(v Version) string {
	if v == Version12 {
		return NSSoapEnc12
	}
	return NSSoapEnc11
}

// EncodeOptions configures EncodeEnvelope.
type EncodeOptions struct {
	Version          Version
	Use              Use
	MessageNamespace string // the service's message namespace, spec.md §6
}

// encodeCtx tracks prefix assignment while writing one envelope.
type encodeCtx struct {
	opts      EncodeOptions
	env       *etree.Element
	next      int
	prefixes  map[string]string // namespace URI -> assigned prefix
}

func (c *encodeCtx) prefixFor(uri string) string {
	if uri == "" {
		return ""
	}
	if p, ok := c.prefixes[uri]; ok {
		return p
	}
	p := fmt.Sprintf("n%d", c.next)
	c.next++
	c.prefixes[uri] = p
	c.env.CreateAttr("xmlns:"+p, uri)
	return p
}

// EncodeEnvelope serializes msg to a SOAP envelope per spec.md §4.1 and §6.
func EncodeEnvelope(msg *Message, opts EncodeOptions) ([]byte, error) {
	doc := etree.NewDocument()
	soapPrefix := "soap"
	env := doc.CreateElement(soapPrefix + ":Envelope")
	env.CreateAttr("xmlns:"+soapPrefix, envelopeNS(opts.Version))
	env.CreateAttr("xmlns:xsd", NSXSD)
	env.CreateAttr("xmlns:xsi", NSXSI)
	if opts.Use == UseEncoded {
		env.CreateAttr("xmlns:soap-enc", encodingNS(opts.Version))
	}

	ctx := &encodeCtx{opts: opts, env: env, prefixes: map[string]string{}}

	if len(msg.Headers) > 0 {
		hdr := env.CreateElement(soapPrefix + ":Header")
		for _, h := range msg.Headers {
			encodeValue(hdr, h.Value, ctx, opts.MessageNamespace)
		}
	}

	body := env.CreateElement(soapPrefix + ":Body")
	if msg.IsFault && msg.Fault != nil {
		encodeFault(body, soapPrefix, msg.Fault)
	} else {
		methodEl := createQualified(body, msg.Name, opts.MessageNamespace, ctx)
		encodeChildren(methodEl, msg.Value, ctx, opts.MessageNamespace)
	}

	return doc.WriteToBytes()
}

func encodeFault(body *etree.Element, soapPrefix string, f *Fault) {
	el := body.CreateElement(soapPrefix + ":Fault")
	el.CreateElement("faultcode").SetText(f.Code)
	el.CreateElement("faultstring").SetText(f.String)
	if f.Actor != "" {
		el.CreateElement("faultactor").SetText(f.Actor)
	}
	if f.Detail != nil {
		d := el.CreateElement("detail")
		encodeChildren(d, *f.Detail, &encodeCtx{prefixes: map[string]string{}}, "")
	}
}

// createQualified creates child element name under parent, in ns. The
// element is written unprefixed only when ns is empty.
func createQualified(parent *etree.Element, name, ns string, ctx *encodeCtx) *etree.Element {
	if ns == "" {
		return parent.CreateElement(name)
	}
	prefix := ctx.prefixFor(ns)
	return parent.CreateElement(prefix + ":" + name)
}

// encodeValue writes v as a new child element of parent.
func encodeValue(parent *etree.Element, v Value, ctx *encodeCtx, enclosingNS string) {
	ns := v.Namespace
	var el *etree.Element
	if v.Qualified || (ns != "" && ns != enclosingNS) {
		el = createQualified(parent, v.Name, ns, ctx)
	} else {
		el = parent.CreateElement(v.Name)
	}

	if v.IsNil() {
		if v.Nillable {
			el.CreateAttr("xsi:nil", "true")
		}
		return
	}

	if ctx.opts.Use == UseEncoded {
		typ := v.Type
		if typ.IsZero() && !v.IsNull() {
			typ = inferType(v)
		}
		if !typ.IsZero() {
			prefix := ctx.prefixFor(typ.Namespace)
			el.CreateAttr("xsi:type", prefix+":"+typ.Local)
		}
		if !v.ArrayType.IsZero() {
			prefix := ctx.prefixFor(v.ArrayType.Namespace)
			el.CreateAttr("soap-enc:arrayType", fmt.Sprintf("%s:%s[%d]", prefix, v.ArrayType.Local, len(v.Children)))
		}
	}

	encodeChildren(el, v, ctx, v.Namespace)
}

func encodeChildren(el *etree.Element, v Value, ctx *encodeCtx, enclosingNS string) {
	for _, a := range v.Attributes {
		el.CreateAttr(a.Name, formatText(a))
	}
	for _, c := range v.Children {
		encodeValue(el, c, ctx, enclosingNS)
	}
	if len(v.Children) == 0 && v.Kind != KindNull {
		el.SetText(formatText(v))
	}
}

// inferType infers an xsd type from v's runtime Kind, per spec.md §4.1.
func inferType(v Value) TypeName {
	switch v.Kind {
	case KindString:
		return TypeName{NSXSD, "string"}
	case KindBinary:
		return TypeName{NSXSD, "base64Binary"}
	case KindInt64:
		return TypeName{NSXSD, "int"}
	case KindUint64:
		return TypeName{NSXSD, "unsignedInt"}
	case KindBool:
		return TypeName{NSXSD, "boolean"}
	case KindFloat32:
		return TypeName{NSXSD, "float"}
	case KindFloat64:
		return TypeName{NSXSD, "double"}
	case KindDate:
		return TypeName{NSXSD, "date"}
	case KindTime:
		return TypeName{NSXSD, "time"}
	case KindDateTime:
		return TypeName{NSXSD, "dateTime"}
	default:
		return TypeName{}
	}
}

// formatText renders v's scalar text for the wire. Binary values are
// re-encoded as base64, or as hex when the xsd type is hexBinary; every
// other kind is written as its Text unchanged, so Text must already be in
// its canonical form.
func formatText(v Value) string {
	switch v.Kind {
	case KindBinary:
		raw, err := base64.StdEncoding.DecodeString(v.Text)
		if err != nil {
			raw = []byte(v.Text)
		}
		if strings.EqualFold(v.Type.Local, "hexBinary") {
			return hex.EncodeToString(raw)
		}
		return base64.StdEncoding.EncodeToString(raw)
	default:
		return v.Text
	}
}

// DecodeResult is the outcome of decoding one envelope (spec.md §4.1/§6).
type DecodeResult struct {
	Method      Value   // the body's sole child, decoded
	Namespace   string  // resolved namespace of the method element
	Headers     []Value // decoded soap:Header children
	Fault       *Fault  // non-nil if the body carried a soap:Fault
	SoapVersion Version
}

// DecodeEnvelope parses raw per spec.md §4.1. Unknown xsi:type is preserved
// verbatim on the Value; malformed XML yields a *DecodeError.
func DecodeEnvelope(raw []byte) (*DecodeResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, &DecodeError{Reason: "malformed XML", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, &DecodeError{Reason: "empty document"}
	}

	envNS := resolve(root, root.Space)
	var version Version
	switch envNS {
	case NSSoap12:
		version = Version12
	case NSSoap11, "":
		version = Version11
	default:
		return nil, &DecodeError{Reason: "unknown envelope namespace " + envNS}
	}

	result := &DecodeResult{SoapVersion: version}

	for _, child := range root.ChildElements() {
		switch localName(child, root) {
		case "Header":
			for _, h := range child.ChildElements() {
				result.Headers = append(result.Headers, decodeValue(h))
			}
		case "Body":
			bodyChildren := child.ChildElements()
			if len(bodyChildren) == 0 {
				return result, nil
			}
			first := bodyChildren[0]
			if localName(first, child) == "Fault" {
				result.Fault = decodeFault(first)
				return result, nil
			}
			result.Method = decodeValue(first)
			result.Namespace = result.Method.Namespace
		}
	}
	return result, nil
}

func decodeFault(el *etree.Element) *Fault {
	f := &Fault{}
	if c := el.SelectElement("faultcode"); c != nil {
		f.Code = c.Text()
	}
	if c := el.SelectElement("faultstring"); c != nil {
		f.String = c.Text()
	}
	if c := el.SelectElement("faultactor"); c != nil {
		f.Actor = c.Text()
	}
	if c := el.SelectElement("detail"); c != nil {
		v := decodeValue(c)
		f.Detail = &v
	}
	return f
}

// localName reports child's local tag, resolving nothing further (etree
// already splits Space/Tag at parse time).
func localName(child, _ *etree.Element) string { return child.Tag }

// resolve maps a raw xmlns prefix found on el to its URI by walking up the
// parent chain, per spec.md §4.1 "unprefixed element namespaces default to
// the nearest xmlns in scope".
func resolve(el *etree.Element, prefix string) string {
	key := "xmlns"
	if prefix != "" {
		key = "xmlns:" + prefix
	}
	for e := el; e != nil; e = e.Parent() {
		if a := e.SelectAttr(key); a != nil {
			return a.Value
		}
	}
	return ""
}

func decodeValue(el *etree.Element) Value {
	v := Value{Name: el.Tag, Namespace: resolve(el, el.Space)}

	if nilAttr := el.SelectAttrValue("xsi:nil", ""); nilAttr == "true" {
		v.Kind = KindNull
		v.Nillable = true
		return v
	}

	if typeAttr := el.SelectAttr("xsi:type"); typeAttr != nil {
		prefix, local, _ := strings.Cut(typeAttr.Value, ":")
		if local == "" {
			local, prefix = prefix, ""
		}
		v.Type = TypeName{Namespace: resolve(el, prefix), Local: local}
		v.Kind = kindForType(v.Type.Local)
	}

	if arrTypeAttr := el.SelectAttr("soap-enc:arrayType"); arrTypeAttr != nil {
		if spec, ok := parseArrayType(arrTypeAttr.Value); ok {
			prefix, local, _ := strings.Cut(spec, ":")
			v.ArrayType = TypeName{Namespace: resolve(el, prefix), Local: local}
		}
	}

	for _, a := range el.Attr {
		if a.Space == "xmlns" || a.Key == "xmlns" || a.Space == "xsi" || a.Space == "soap-enc" {
			continue
		}
		v.Attributes = append(v.Attributes, String(a.Key, a.Value))
	}

	children := el.ChildElements()
	if len(children) == 0 {
		v.Text = el.Text()
		switch {
		case v.Text != "":
			if v.Kind == KindNull {
				v.Kind = KindString
			}
		case len(v.Attributes) == 0:
			// no text, no children, no attributes: nil per spec.md §3.
			v.Kind = KindNull
		default:
			v.Kind = KindString
		}
		return v
	}

	for _, c := range children {
		v.Children = append(v.Children, decodeValue(c))
	}
	return v
}

// parseArrayType splits "prefix:Local[N]" into "prefix:Local".
func parseArrayType(s string) (string, bool) {
	i := strings.IndexByte(s, '[')
	if i < 0 {
		return s, true
	}
	return s[:i], true
}

func kindForType(xsdLocal string) Kind {
	switch xsdLocal {
	case "string", "anyURI", "QName", "normalizedString", "token":
		return KindString
	case "boolean":
		return KindBool
	case "int", "integer", "long", "short", "byte":
		return KindInt64
	case "unsignedInt", "unsignedLong", "unsignedShort", "unsignedByte":
		return KindUint64
	case "float":
		return KindFloat32
	case "double", "decimal":
		return KindFloat64
	case "base64Binary", "hexBinary":
		return KindBinary
	case "date":
		return KindDate
	case "time":
		return KindTime
	case "dateTime":
		return KindDateTime
	default:
		return KindString
	}
}

// ParseInt64 / ParseUint64 / ParseFloat64 are small helpers handler code uses
// to read a decoded Value's Text as the Go type it names, matching the
// decimal/shortest-round-trip forms of spec.md §4.1.
func ParseInt64(v Value) (int64, error)   { return strconv.ParseInt(v.Text, 10, 64) }
func ParseUint64(v Value) (uint64, error) { return strconv.ParseUint(v.Text, 10, 64) }
func ParseFloat64(v Value) (float64, error) {
	return strconv.ParseFloat(v.Text, 64)
}

// DecodeBinary returns v's decoded bytes, honoring hexBinary vs the
// base64Binary default.
func DecodeBinary(v Value) ([]byte, error) {
	if strings.EqualFold(v.Type.Local, "hexBinary") {
		return hex.DecodeString(v.Text)
	}
	return base64.StdEncoding.DecodeString(v.Text)
}
