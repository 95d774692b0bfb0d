package soapd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip is spec.md §8's property #1: encoding a message
// and decoding the result must reproduce the same method name and argument
// values.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewMessage("getEmployeeCountry").WithArg(String("employeeName", "David Ä Faure"))

	xmlBytes, err := EncodeEnvelope(msg, EncodeOptions{Version: Version11, Use: UseLiteral, MessageNamespace: "http://www.kdab.com/xml/MyWsdl/"})
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(xmlBytes)
	require.NoError(t, err)
	require.Nil(t, decoded.Fault)
	assert.Equal(t, Version11, decoded.SoapVersion)
	assert.Equal(t, "getEmployeeCountry", decoded.Method.Name)

	arg, ok := decoded.Method.Child("employeeName")
	require.True(t, ok)
	assert.Equal(t, "David Ä Faure", arg.Text)
}

func TestEncodeDecodeSoap12(t *testing.T) {
	msg := NewMessage("ping")
	xmlBytes, err := EncodeEnvelope(msg, EncodeOptions{Version: Version12, Use: UseLiteral})
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(xmlBytes)
	require.NoError(t, err)
	assert.Equal(t, Version12, decoded.SoapVersion)
	assert.Equal(t, "ping", decoded.Method.Name)
}

func TestEncodeFaultAndDecodeFault(t *testing.T) {
	fault := &Message{IsFault: true, Fault: &Fault{Code: FaultServerMethodNotFound, String: "doesNotExist not found"}}
	xmlBytes, err := EncodeEnvelope(fault, EncodeOptions{Version: Version11})
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(xmlBytes)
	require.NoError(t, err)
	require.NotNil(t, decoded.Fault)
	assert.Equal(t, FaultServerMethodNotFound, decoded.Fault.Code)
	assert.Equal(t, "doesNotExist not found", decoded.Fault.String)
}

// TestHexAndBase64Echo is spec.md §8's literal "Hex+Base64 echo" scenario:
// base64 by default, hexBinary opt-in.
func TestHexAndBase64Echo(t *testing.T) {
	base64Val := Value{Name: "a", Kind: KindBinary, Text: "S0RTb2Fw"} // base64("KDSoap")
	hexVal := Value{Name: "b", Kind: KindBinary, Text: "U29hcA==", Type: TypeName{NSXSD, "hexBinary"}}

	msg := NewMessage("hexBinaryTest")
	msg.Value = msg.Value.WithChild(base64Val).WithChild(hexVal)

	xmlBytes, err := EncodeEnvelope(msg, EncodeOptions{Version: Version11, Use: UseEncoded})
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(xmlBytes)
	require.NoError(t, err)

	a, ok := decoded.Method.Child("a")
	require.True(t, ok)
	aBytes, err := DecodeBinary(a)
	require.NoError(t, err)
	assert.Equal(t, "KDSoap", string(aBytes))

	b, ok := decoded.Method.Child("b")
	require.True(t, ok)
	bBytes, err := DecodeBinary(b)
	require.NoError(t, err)
	assert.Equal(t, "Soap", string(bBytes))
}

func TestDecodeValueNilVsNull(t *testing.T) {
	xmlBytes := []byte(`<?xml version="1.0"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <soap:Body>
    <m:doStuff xmlns:m="urn:test">
      <nilField xsi:nil="true"></nilField>
      <emptyNoAttrs></emptyNoAttrs>
      <emptyWithAttrs id="1"></emptyWithAttrs>
    </m:doStuff>
  </soap:Body>
</soap:Envelope>`)

	decoded, err := DecodeEnvelope(xmlBytes)
	require.NoError(t, err)

	nilField, ok := decoded.Method.Child("nilField")
	require.True(t, ok)
	assert.True(t, nilField.IsNil())

	empty, ok := decoded.Method.Child("emptyNoAttrs")
	require.True(t, ok)
	assert.True(t, empty.IsNil(), "no text, no children, no attributes must decode as nil")

	withAttrs, ok := decoded.Method.Child("emptyWithAttrs")
	require.True(t, ok)
	assert.False(t, withAttrs.IsNil(), "an empty element carrying attributes is not nil")
}
