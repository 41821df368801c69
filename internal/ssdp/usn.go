package ssdp

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidUSN = errors.New("ssdp: invalid USN")

// USN is a Unique Service Name: either a bare "uuid:..." or "uuid:...::<type>".
// USN values are comparable; two USNs are equal exactly when their raw strings are.
type USN struct {
	raw        string
	uuid       string
	urn        string
	rootDevice bool
}

// ParseUSN splits raw into its components. It fails when the first component
// does not carry a uuid.
func ParseUSN(raw string) (USN, error) {
	parts := strings.Split(raw, "::")
	if !strings.Contains(parts[0], "uuid:") {
		return USN{}, fmt.Errorf("%w: %q", ErrInvalidUSN, raw)
	}
	u := USN{raw: raw, uuid: parts[0]}
	if len(parts) >= 2 {
		if strings.Contains(parts[1], "urn:") {
			u.urn = parts[1]
		}
		u.rootDevice = strings.Contains(parts[1], "upnp:rootdevice")
	}
	return u, nil
}

// NewUSN joins uuid and urn into the "uuid::urn" form.
func NewUSN(uuid, urn string) (USN, error) {
	if urn == "" {
		return ParseUSN(uuid)
	}
	return ParseUSN(uuid + "::" + urn)
}

func (u USN) String() string { return u.raw }

// UUID is the leading component, including its "uuid:" prefix.
func (u USN) UUID() string { return u.uuid }

// URN is the device or service type, empty for bare and root-device USNs.
func (u USN) URN() string { return u.urn }

func (u USN) IsRootDevice() bool { return u.rootDevice }

func (u USN) IsZero() bool { return u.raw == "" }

func (u USN) MarshalText() ([]byte, error) { return []byte(u.raw), nil }

func (u *USN) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*u = USN{}
		return nil
	}
	parsed, err := ParseUSN(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
