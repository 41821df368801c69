// Package xmlpath is an event-driven XML reader that reports start, end and
// text events for elements whose path from the document root matches one of
// a set of registered patterns.
//
// A pattern is a list of element names. Besides exact paths two wildcard
// forms are supported:
//
//	*/device/icon        any path ending in device/icon
//	root/device/*        any direct child of root/device
//
// Element names are compared by local name; namespace prefixes are ignored.
package xmlpath

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Wildcard stands for any run of leading elements, or any single trailing element.
const Wildcard = "*"

var (
	ErrMismatchedTag = errors.New("xmlpath: mismatched closing tag")
	ErrUnexpectedEOF = errors.New("xmlpath: unexpected end of document")
)

// Observation binds callbacks to an element path pattern. Any callback may be nil.
type Observation struct {
	Path []string

	OnStart func(name string, attrs map[string]string)
	OnEnd   func(name string)
	// OnText receives the element's accumulated character data, trimmed,
	// right before OnEnd. It is not called when the text is empty.
	OnText func(name, text string)
}

type observer struct {
	Observation
	text strings.Builder
}

// Parser holds the registered observations. A Parser is not safe for
// concurrent use; build one per document.
type Parser struct {
	observers []*observer
}

func New() *Parser {
	return &Parser{}
}

// Register adds an observation.
func (p *Parser) Register(o Observation) {
	p.observers = append(p.observers, &observer{Observation: o})
}

// Parse walks the whole document.
func (p *Parser) Parse(b []byte) error {
	return p.ParseReader(bytes.NewReader(b))
}

func (p *Parser) ParseReader(r io.Reader) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = passthroughCharset

	var stack []string
	for {
		tok, err := dec.RawToken()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(stack) > 0 {
					return fmt.Errorf("%w: <%s> not closed", ErrUnexpectedEOF, stack[len(stack)-1])
				}
				return nil
			}
			return fmt.Errorf("xmlpath: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if o := p.match(stack); o != nil {
				o.text.Reset()
				if o.OnStart != nil {
					o.OnStart(t.Name.Local, attrMap(t.Attr))
				}
			}
		case xml.EndElement:
			if len(stack) == 0 || stack[len(stack)-1] != t.Name.Local {
				return fmt.Errorf("%w: </%s>", ErrMismatchedTag, t.Name.Local)
			}
			if o := p.match(stack); o != nil {
				if text := strings.TrimSpace(o.text.String()); text != "" && o.OnText != nil {
					o.OnText(t.Name.Local, text)
				}
				o.text.Reset()
				if o.OnEnd != nil {
					o.OnEnd(t.Name.Local)
				}
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			if o := p.match(stack); o != nil {
				o.text.Write(t)
			}
		}
	}
}

// match picks the observation for the current stack. Exact paths take
// precedence over leading wildcards, which take precedence over trailing ones.
// Within a class the earliest registration wins.
func (p *Parser) match(stack []string) *observer {
	for _, o := range p.observers {
		if slices.Equal(o.Path, stack) {
			return o
		}
	}
	for _, o := range p.observers {
		if matchLeading(o.Path, stack) {
			return o
		}
	}
	for _, o := range p.observers {
		if matchTrailing(o.Path, stack) {
			return o
		}
	}
	return nil
}

// Match reports whether pattern matches the element stack.
func Match(pattern, stack []string) bool {
	if len(pattern) == 0 {
		return false
	}
	return slices.Equal(pattern, stack) || matchLeading(pattern, stack) || matchTrailing(pattern, stack)
}

func matchLeading(pattern, stack []string) bool {
	if len(pattern) == 0 || pattern[0] != Wildcard || len(stack) < len(pattern) {
		return false
	}
	rest := pattern[1:]
	return slices.Equal(rest, stack[len(stack)-len(rest):])
}

func matchTrailing(pattern, stack []string) bool {
	n := len(pattern)
	if n == 0 || pattern[n-1] != Wildcard || len(stack) != n || n < 2 {
		return false
	}
	return slices.Equal(pattern[:n-1], stack[:n-1])
}

func attrMap(attrs []xml.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		out[a.Name.Local] = a.Value
	}
	return out
}

// Devices in the wild declare charsets like ISO-8859-1 for documents that are
// plain ASCII; decode them as-is rather than failing.
func passthroughCharset(_ string, r io.Reader) (io.Reader, error) {
	return r, nil
}
