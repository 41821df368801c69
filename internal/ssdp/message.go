package ssdp

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	multicastGroup = "239.255.255.250"
	multicastPort  = 1900
)

var multicastAddr = &net.UDPAddr{IP: net.ParseIP(multicastGroup).To4(), Port: multicastPort}

type messageKind int

const (
	kindSearchResponse messageKind = iota + 1
	kindAlive
	kindUpdate
	kindByeBye
)

type message struct {
	kind    messageKind
	headers map[string]string
}

// parseMessage frames an SSDP datagram. It reports false for datagrams the
// explorer does not act on, including other control points' M-SEARCH requests.
func parseMessage(b []byte) (message, bool) {
	s := bufio.NewScanner(bytes.NewReader(b))
	s.Split(bufio.ScanLines)

	if !s.Scan() {
		return message{}, false
	}
	first := strings.TrimSpace(s.Text())

	headers := map[string]string{}
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	msg := message{headers: headers}
	switch {
	case first == "HTTP/1.1 200 OK":
		msg.kind = kindSearchResponse
	case first == "NOTIFY * HTTP/1.1":
		switch headers["nts"] {
		case "ssdp:alive":
			msg.kind = kindAlive
		case "ssdp:update":
			msg.kind = kindUpdate
		case "ssdp:byebye":
			// byebye carries no LOCATION; the discovery identity is the USN.
			if host := headers["host"]; host != "" {
				headers["location"] = "http://" + host + "/"
			}
			msg.kind = kindByeBye
		default:
			return message{}, false
		}
	default:
		return message{}, false
	}
	return msg, true
}

// discovery extracts the sighting carried by msg. The type comes from ST for
// search responses and NT for notifications.
func (m message) discovery() (Discovery, error) {
	usn, err := ParseUSN(m.headers["usn"])
	if err != nil {
		return Discovery{}, err
	}
	loc := m.headers["location"]
	if loc == "" {
		return Discovery{}, fmt.Errorf("ssdp: %s: missing location", usn)
	}
	u, err := url.Parse(loc)
	if err != nil {
		return Discovery{}, fmt.Errorf("ssdp: %s: location: %w", usn, err)
	}
	rawType := m.headers["st"]
	if rawType == "" {
		rawType = m.headers["nt"]
	}
	typ, err := ParseType(rawType)
	if err != nil {
		return Discovery{}, err
	}
	return Discovery{USN: usn, DescriptionURL: u, Type: typ}, nil
}

func searchRequest(t Type, mx int, userAgent string) []byte {
	lines := []string{
		"M-SEARCH * HTTP/1.1",
		fmt.Sprintf("HOST: %s:%d", multicastGroup, multicastPort),
		`MAN: "ssdp:discover"`,
		"ST: " + t.String(),
		fmt.Sprintf("MX: %d", mx),
	}
	if userAgent != "" {
		lines = append(lines, "USER-AGENT: "+userAgent)
	}
	lines = append(lines, "", "")
	return []byte(strings.Join(lines, "\r\n"))
}
