// Package soap encodes UPnP control requests and decodes their responses.
package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"upnpctl/internal/upnperr"
)

const (
	EncodingStyle = "http://schemas.xmlsoap.org/soap/encoding/"
	EnvelopeNS    = "http://schemas.xmlsoap.org/soap/envelope/"

	// notImplemented is what some renderers return for optional out arguments.
	notImplemented = "NOT_IMPLEMENTED"
)

// Arg is one action argument. Argument order is significant on the wire.
type Arg struct {
	Name  string
	Value string
}

// BuildEnvelope wraps args in a SOAP 1.1 body element named for action.
func BuildEnvelope(action, serviceURN string, args []Arg) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope s:encodingStyle="` + EncodingStyle + `" xmlns:s="` + EnvelopeNS + `">`)
	b.WriteString(`<s:Body>`)
	b.WriteString(`<u:` + action + ` xmlns:u="`)
	_ = xml.EscapeText(&b, []byte(serviceURN))
	b.WriteString(`">`)
	for _, a := range args {
		b.WriteString("<" + a.Name + ">")
		_ = xml.EscapeText(&b, []byte(a.Value))
		b.WriteString("</" + a.Name + ">")
	}
	b.WriteString(`</u:` + action + `>`)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.Bytes()
}

// ParseEnvelope flattens the children of the response element inside
// Envelope/Body into a map keyed by local name. Empty values and
// NOT_IMPLEMENTED are left out.
func ParseEnvelope(b []byte) (map[string]string, error) {
	out := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		stack   []string
		key     string
		val     strings.Builder
		sawBody bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: soap envelope: %w", upnperr.ErrProtocol, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if len(stack) == 2 && stack[0] == "Envelope" && stack[1] == "Body" {
				sawBody = true
			}
			if len(stack) == 4 && stack[0] == "Envelope" && stack[1] == "Body" {
				key = t.Name.Local
				val.Reset()
			}
		case xml.CharData:
			if len(stack) >= 4 && key != "" {
				val.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 4 && key != "" {
				if v := strings.TrimSpace(val.String()); v != "" && v != notImplemented {
					out[key] = v
				}
				key = ""
			}
			stack = stack[:len(stack)-1]
		}
	}
	if !sawBody {
		return nil, fmt.Errorf("%w: soap envelope: no Envelope/Body", upnperr.ErrProtocol)
	}
	return out, nil
}

// FaultError is a UPnPError returned inside a SOAP fault.
type FaultError struct {
	Code        int
	Description string
}

func (e *FaultError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("upnp error %d", e.Code)
	}
	return fmt.Sprintf("upnp error %d: %s", e.Code, e.Description)
}

func (e *FaultError) Is(target error) bool {
	return target == upnperr.ErrProtocol
}

// parseFault extracts errorCode/errorDescription from a fault body.
func parseFault(b []byte) (*FaultError, bool) {
	var fault struct {
		Body struct {
			Fault struct {
				Detail struct {
					UPnPError struct {
						Code        string `xml:"errorCode"`
						Description string `xml:"errorDescription"`
					} `xml:"UPnPError"`
				} `xml:"detail"`
			} `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(b, &fault); err != nil {
		return nil, false
	}
	ue := fault.Body.Fault.Detail.UPnPError
	code, err := strconv.Atoi(strings.TrimSpace(ue.Code))
	if err != nil {
		return nil, false
	}
	return &FaultError{Code: code, Description: strings.TrimSpace(ue.Description)}, true
}
