package soapd

import "time"

// Kind identifies the scalar type carried by a Value's text.
type Kind int

// The scalar kinds a Value can hold. Null carries no text at all.
const (
	KindNull Kind = iota
	KindString
	KindBool
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindBinary
	KindDate
	KindTime
	KindDateTime
)

// TypeName names a schema type by namespace and local name, e.g. the xsd
// "int" type is TypeName{NSXSD, "int"}.
type TypeName struct {
	Namespace string
	Local     string
}

// IsZero reports whether no type annotation is present.
func (t TypeName) IsZero() bool { return t.Namespace == "" && t.Local == "" }

// NamespaceDecl is a local xmlns declaration carried by a Value.
type NamespaceDecl struct {
	Prefix string // "" for the default namespace
	URI    string
}

// Value is the in-memory node of spec.md §3: a named, typed SOAP value with
// attributes, namespaces, nil/qualified flags and an ordered child list.
//
// Value is a value type intended for copy-on-write use: callers never
// mutate a Value obtained from another tree in place. The With* methods
// return a shallow copy; unchanged slices keep their original backing
// arrays, so sibling trees that share unmodified structure never allocate
// because of an edit elsewhere.
type Value struct {
	Name      string
	Namespace string // element namespace; empty means "use enclosing message namespace"

	Kind Kind
	Text string // canonical textual form; meaningless when Kind == KindNull

	Type TypeName // explicit xsi:type, zero value means "infer at encode time"

	Children   []Value
	Attributes []Value
	LocalNS    []NamespaceDecl // namespaces declared on this element
	EnvNS      []NamespaceDecl // namespaces in scope from ancestors, for decode-time reference

	Qualified bool // emit in Namespace even when it matches the enclosing default
	Nillable  bool // emit xsi:nil="true" when nil

	ArrayType TypeName // non-zero marks v as a SOAP-encoded array container over Children
}

// IsNil reports whether v carries no text, no children and no attributes —
// the invariant from spec.md §3: "a value is nil iff its textual value is
// null AND it has neither children nor attributes".
func (v Value) IsNil() bool {
	return v.Kind == KindNull && len(v.Children) == 0 && len(v.Attributes) == 0
}

// IsNull reports whether v is the distinguished null value: unnamed and nil.
func (v Value) IsNull() bool {
	return v.Name == "" && v.IsNil()
}

// WithChild returns a copy of v with child appended, sharing the rest of
// v's structure.
func (v Value) WithChild(child Value) Value {
	out := v
	out.Children = append(append([]Value(nil), v.Children...), child)
	return out
}

// WithChildren returns a copy of v with its child list replaced.
func (v Value) WithChildren(children []Value) Value {
	out := v
	out.Children = children
	return out
}

// WithAttr returns a copy of v with attr appended to its attribute list.
func (v Value) WithAttr(attr Value) Value {
	out := v
	out.Attributes = append(append([]Value(nil), v.Attributes...), attr)
	return out
}

// WithText returns a copy of v carrying a new scalar text value.
func (v Value) WithText(kind Kind, text string) Value {
	out := v
	out.Kind = kind
	out.Text = text
	return out
}

// WithType returns a copy of v carrying an explicit xsi:type annotation.
func (v Value) WithType(t TypeName) Value {
	out := v
	out.Type = t
	return out
}

// Attr looks up an attribute value by local name; ok is false if absent.
func (v Value) Attr(name string) (Value, bool) {
	for _, a := range v.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Value{}, false
}

// Child looks up the first child value by local name; ok is false if absent.
func (v Value) Child(name string) (Value, bool) {
	for _, c := range v.Children {
		if c.Name == name {
			return c, true
		}
	}
	return Value{}, false
}

// String builds a string-kind Value named name.
func String(name, text string) Value {
	return Value{Name: name, Kind: KindString, Text: text}
}

// Split expands v, whose text is a whitespace-separated token list, into a
// sibling ValueList of values named like v, each inheriting v's type — used
// for xsd list types (spec.md §4.1 "Splitting").
func (v Value) Split() ValueList {
	var out []Value
	start := -1
	for i := 0; i <= len(v.Text); i++ {
		atEnd := i == len(v.Text)
		isSpace := !atEnd && (v.Text[i] == ' ' || v.Text[i] == '\t' || v.Text[i] == '\n' || v.Text[i] == '\r')
		if !atEnd && !isSpace {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, Value{Name: v.Name, Namespace: v.Namespace, Kind: v.Kind, Text: v.Text[start:i], Type: v.Type})
			start = -1
		}
	}
	return ValueList{Items: out}
}

// ValueList is an ordered sequence of values with an optional SOAP-encoded
// array type, used only by the serializer (spec.md §3).
type ValueList struct {
	Items     []Value
	ArrayType TypeName // zero value: not SOAP-encoded
}

// AsArray wraps list as a Value named name: its Items become Children and
// its ArrayType is carried onto the container so the codec can emit
// soap-enc:arrayType under encoded use.
func AsArray(name string, list ValueList) Value {
	return Value{Name: name, Children: list.Items, ArrayType: list.ArrayType}
}

// Fault carries the SOAP fault payload of spec.md §6.
type Fault struct {
	Code   string
	String string
	Actor  string
	Detail *Value
}

// Error implements the error interface so a *Fault can be returned directly
// from a handler.
func (f *Fault) Error() string { return f.Code + ": " + f.String }

// HeaderItem is a single additional HTTP response header published by a
// service object (spec.md §4.3 "Additional response headers").
type HeaderItem struct {
	Name  string
	Value string
}

// Message is a Value whose children are the method arguments and whose
// Name is the RPC method name, plus SOAP-specific fault/header state
// (spec.md §3).
type Message struct {
	Value
	IsFault bool
	Fault   *Fault
	Headers []Message
}

// NewMessage builds an empty, non-fault message named name.
func NewMessage(name string) *Message {
	return &Message{Value: Value{Name: name}}
}

// SetFault marks m as carrying a fault, replacing any prior content.
func (m *Message) SetFault(f *Fault) {
	m.IsFault = true
	m.Fault = f
	m.Children = nil
}

// WithArg returns a copy of m with an additional argument child appended.
func (m *Message) WithArg(v Value) *Message {
	out := *m
	out.Value = m.Value.WithChild(v)
	return &out
}

// dateLayout / timeLayout / dateTimeLayout are the ISO 8601 forms used for
// the three temporal kinds (spec.md §4.1 "Text serialization").
const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
	dateTimeLayout = "2006-01-02T15:04:05"
)

// FormatDateTime renders t per spec.md §4.1: millisecond precision only
// when non-zero, ISO 8601 offset notation — "Z" for UTC, "+hh:mm"/"-hh:mm"
// otherwise; Go's "Z07:00" layout token already picks between the two.
func FormatDateTime(t time.Time) string {
	layout := dateTimeLayout
	if t.Nanosecond() != 0 {
		layout += ".000"
	}
	return t.Format(layout + "Z07:00")
}

// FormatDate renders t as a bare ISO 8601 calendar date, for KindDate
// values (spec.md §4.1 "dates and times in ISO 8601").
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// FormatTime renders t as a bare ISO 8601 time-of-day, for KindTime values
// (spec.md §4.1 "dates and times in ISO 8601").
func FormatTime(t time.Time) string {
	return t.Format(timeLayout)
}
