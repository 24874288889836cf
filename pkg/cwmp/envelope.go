package cwmp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrCodec wraps every decoding failure of a malformed envelope.
	ErrCodec = errors.New("cwmp: malformed envelope")
	// ErrUnknownMethod is returned for a well-formed envelope whose body
	// names a method this codec does not know. The returned envelope still
	// carries the header and the method name.
	ErrUnknownMethod = errors.New("cwmp: unknown method")
	// ErrEmptyBody is returned when the SOAP body holds no element.
	ErrEmptyBody = errors.New("cwmp: empty body")
)

// Envelope is one SOAP message of a CWMP session.
type Envelope struct {
	// Namespace is the cwmp URN: detected when decoding, used when encoding.
	Namespace      string
	ID             string
	HoldRequests   *bool
	NoMoreRequests bool

	// Method is the local name of the body element.
	Method string
	// Body is nil when the envelope carries a Fault.
	Body  Message
	Fault *SoapFault
}

// SoapFault is a SOAP-ENV:Fault, optionally carrying a cwmp:Fault detail.
type SoapFault struct {
	FaultCode   string `xml:"faultcode" json:"faultCode"`
	FaultString string `xml:"faultstring" json:"faultString"`
	Detail      *Fault `xml:"detail>Fault" json:"detail,omitempty"`
}

// CwmpFault returns the cwmp detail, synthesizing one from faultstring when
// the peer sent a plain SOAP fault.
func (f *SoapFault) CwmpFault() *Fault {
	if f.Detail != nil {
		return f.Detail
	}
	return &Fault{FaultCode: FaultInternalError, FaultString: f.FaultString}
}

// NewSoapFault builds the fault the ACS sends back for a rejected request.
func NewSoapFault(code uint32, msg string) *SoapFault {
	return &SoapFault{
		FaultCode:   "Client",
		FaultString: "CWMP fault",
		Detail:      &Fault{FaultCode: code, FaultString: msg},
	}
}

func (f *SoapFault) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeElement(f.FaultCode, xml.StartElement{Name: xml.Name{Local: "faultcode"}}); err != nil {
		return err
	}
	if err := e.EncodeElement(f.FaultString, xml.StartElement{Name: xml.Name{Local: "faultstring"}}); err != nil {
		return err
	}
	if f.Detail != nil {
		detail := xml.StartElement{Name: xml.Name{Local: "detail"}}
		if err := e.EncodeToken(detail); err != nil {
			return err
		}
		if err := e.EncodeElement(f.Detail, xml.StartElement{Name: xml.Name{Local: "cwmp:Fault"}}); err != nil {
			return err
		}
		if err := e.EncodeToken(detail.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func local(name string) xml.Name { return xml.Name{Local: name} }

func mustUnderstand() xml.Attr {
	return xml.Attr{Name: local("SOAP-ENV:mustUnderstand"), Value: "1"}
}

// Encode writes env to w. Prefixes are fixed: SOAP-ENV, SOAP-ENC, xsd, xsi
// and cwmp. No encodingStyle attribute is ever emitted.
func Encode(w io.Writer, env *Envelope) error {
	ns := env.Namespace
	if ns == "" {
		ns = NamespaceCWMP10
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	e := xml.NewEncoder(w)
	root := xml.StartElement{
		Name: local("SOAP-ENV:Envelope"),
		Attr: []xml.Attr{
			{Name: local("xmlns:SOAP-ENV"), Value: NamespaceSOAPEnv},
			{Name: local("xmlns:SOAP-ENC"), Value: NamespaceSOAPEnc},
			{Name: local("xmlns:xsd"), Value: NamespaceXSD},
			{Name: local("xmlns:xsi"), Value: NamespaceXSI},
			{Name: local("xmlns:cwmp"), Value: ns},
		},
	}
	if err := e.EncodeToken(root); err != nil {
		return err
	}

	header := xml.StartElement{Name: local("SOAP-ENV:Header")}
	if err := e.EncodeToken(header); err != nil {
		return err
	}
	if err := e.EncodeElement(env.ID, xml.StartElement{Name: local("cwmp:ID"), Attr: []xml.Attr{mustUnderstand()}}); err != nil {
		return err
	}
	if env.HoldRequests != nil {
		v := "0"
		if *env.HoldRequests {
			v = "1"
		}
		if err := e.EncodeElement(v, xml.StartElement{Name: local("cwmp:HoldRequests"), Attr: []xml.Attr{mustUnderstand()}}); err != nil {
			return err
		}
	}
	if env.NoMoreRequests {
		if err := e.EncodeElement("1", xml.StartElement{Name: local("cwmp:NoMoreRequests")}); err != nil {
			return err
		}
	}
	if err := e.EncodeToken(header.End()); err != nil {
		return err
	}

	body := xml.StartElement{Name: local("SOAP-ENV:Body")}
	if err := e.EncodeToken(body); err != nil {
		return err
	}
	switch {
	case env.Fault != nil:
		if err := e.EncodeElement(env.Fault, xml.StartElement{Name: local("SOAP-ENV:Fault")}); err != nil {
			return err
		}
	case env.Body != nil:
		if err := e.EncodeElement(env.Body, xml.StartElement{Name: local("cwmp:" + env.Body.Method())}); err != nil {
			return fmt.Errorf("encode %s: %w", env.Body.Method(), err)
		}
	}
	if err := e.EncodeToken(body.End()); err != nil {
		return err
	}
	if err := e.EncodeToken(root.End()); err != nil {
		return err
	}
	return e.Flush()
}

// Marshal is Encode into a fresh buffer.
func Marshal(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one envelope. Element prefixes are irrelevant; the cwmp
// namespace is recognized by its urn:dslforum-org:cwmp-1- prefix.
func Decode(r io.Reader) (*Envelope, error) {
	d := xml.NewDecoder(r)
	env := &Envelope{}

	if err := seek(d, "Envelope"); err != nil {
		return nil, err
	}

	for {
		tok, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Header":
				if err := decodeHeader(d, env); err != nil {
					return nil, err
				}
			case "Body":
				return env, decodeBody(d, env)
			default:
				if err := d.Skip(); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrCodec, err)
				}
			}
		case xml.EndElement:
			return nil, fmt.Errorf("%w: no Body", ErrCodec)
		}
	}
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(data []byte) (*Envelope, error) {
	return Decode(bytes.NewReader(data))
}

func seek(d *xml.Decoder, name string) error {
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: no %s", ErrCodec, name)
			}
			return fmt.Errorf("%w: %v", ErrCodec, err)
		}
		if t, ok := tok.(xml.StartElement); ok {
			if t.Name.Local != name {
				return fmt.Errorf("%w: unexpected root %s", ErrCodec, t.Name.Local)
			}
			return nil
		}
	}
}

func decodeHeader(d *xml.Decoder, env *Envelope) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCodec, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if IsCWMPNamespace(t.Name.Space) {
				env.Namespace = t.Name.Space
			}
			var text string
			if err := d.DecodeElement(&text, &t); err != nil {
				return fmt.Errorf("%w: header %s: %v", ErrCodec, t.Name.Local, err)
			}
			text = strings.TrimSpace(text)
			switch t.Name.Local {
			case "ID":
				env.ID = text
			case "HoldRequests":
				v := parseFlag(text)
				env.HoldRequests = &v
			case "NoMoreRequests":
				env.NoMoreRequests = parseFlag(text)
			}
		case xml.EndElement:
			return nil
		}
	}
}

func parseFlag(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func decodeBody(d *xml.Decoder, env *Envelope) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCodec, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			env.Method = t.Name.Local
			if IsCWMPNamespace(t.Name.Space) {
				env.Namespace = t.Name.Space
			}

			if t.Name.Local == "Fault" && !IsCWMPNamespace(t.Name.Space) {
				f := &SoapFault{}
				if err := d.DecodeElement(f, &t); err != nil {
					return fmt.Errorf("%w: fault: %v", ErrCodec, err)
				}
				env.Fault = f
				return nil
			}

			msg, ok := NewMessage(t.Name.Local)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownMethod, t.Name.Local)
			}
			if err := d.DecodeElement(msg, &t); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCodec, t.Name.Local, err)
			}
			env.Body = msg
			return nil
		case xml.EndElement:
			return ErrEmptyBody
		}
	}
}
