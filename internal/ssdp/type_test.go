package ssdp

import (
	"errors"
	"testing"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want TypeKind
	}{
		{"ssdp:all", KindAll},
		{"upnp:rootdevice", KindRootDevice},
		{"uuid:X", KindUUID},
		{"urn:schemas-upnp-org:device:Foo:1", KindDevice},
		{"urn:schemas-upnp-org:service:Foo:1", KindService},
	}
	for _, tc := range cases {
		typ, err := ParseType(tc.raw)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tc.raw, err)
		}
		if typ.Kind() != tc.want || typ.String() != tc.raw {
			t.Fatalf("ParseType(%q) = %v/%q, want %v", tc.raw, typ.Kind(), typ.String(), tc.want)
		}
	}

	for _, raw := range []string{"", "ssdp:discover", "urn:schemas-upnp-org:Foo:1"} {
		if _, err := ParseType(raw); !errors.Is(err, ErrUnknownType) {
			t.Fatalf("ParseType(%q): expected ErrUnknownType, got %v", raw, err)
		}
	}
}

func TestTypeMatches(t *testing.T) {
	t.Parallel()

	server := MustParseType(MediaServer1)
	renderer := MustParseType(MediaRenderer1)

	if !TypeAll.Matches(server) || !TypeAll.Matches(TypeRootDevice) {
		t.Fatalf("ssdp:all should match everything")
	}
	if !server.Matches(MustParseType(MediaServer1)) {
		t.Fatalf("equal types should match")
	}
	if server.Matches(renderer) || TypeRootDevice.Matches(server) {
		t.Fatalf("distinct types should not match")
	}
}
