package ssdp

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownType = errors.New("ssdp: unrecognized notification type")

type TypeKind int

const (
	KindAll TypeKind = iota + 1
	KindRootDevice
	KindUUID
	KindDevice
	KindService
)

func (k TypeKind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindRootDevice:
		return "rootDevice"
	case KindUUID:
		return "uuid"
	case KindDevice:
		return "device"
	case KindService:
		return "service"
	default:
		return fmt.Sprintf("TypeKind(%d)", int(k))
	}
}

const (
	rawAll        = "ssdp:all"
	rawRootDevice = "upnp:rootdevice"
)

// Common search targets.
const (
	MediaServer1       = "urn:schemas-upnp-org:device:MediaServer:1"
	MediaRenderer1     = "urn:schemas-upnp-org:device:MediaRenderer:1"
	ContentDirectory1  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	ConnectionManager1 = "urn:schemas-upnp-org:service:ConnectionManager:1"
	RenderingControl1  = "urn:schemas-upnp-org:service:RenderingControl:1"
	AVTransport1       = "urn:schemas-upnp-org:service:AVTransport:1"
)

// Type is a search target or notification type. The zero value is invalid.
type Type struct {
	kind TypeKind
	raw  string
}

var (
	TypeAll        = Type{kind: KindAll, raw: rawAll}
	TypeRootDevice = Type{kind: KindRootDevice, raw: rawRootDevice}
)

// ParseType classifies an ST or NT value.
func ParseType(raw string) (Type, error) {
	switch {
	case raw == rawAll:
		return TypeAll, nil
	case raw == rawRootDevice:
		return TypeRootDevice, nil
	case strings.Contains(raw, "uuid:"):
		return Type{kind: KindUUID, raw: raw}, nil
	case strings.Contains(raw, ":device:"):
		return Type{kind: KindDevice, raw: raw}, nil
	case strings.Contains(raw, ":service:"):
		return Type{kind: KindService, raw: raw}, nil
	}
	return Type{}, fmt.Errorf("%w: %q", ErrUnknownType, raw)
}

// MustParseType is ParseType for compile-time constants.
func MustParseType(raw string) Type {
	t, err := ParseType(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Type) Kind() TypeKind { return t.kind }
func (t Type) String() string { return t.raw }

// Matches reports whether a message of type other satisfies a search for t.
// ssdp:all accepts everything; all other types must be equal.
func (t Type) Matches(other Type) bool {
	return t.kind == KindAll || t == other
}
