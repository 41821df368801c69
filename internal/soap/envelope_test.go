package soap

import (
	"errors"
	"strings"
	"testing"

	"upnpctl/internal/upnperr"
)

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	got := string(BuildEnvelope("Play", "urn:schemas-upnp-org:service:AVTransport:1", []Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "Speed", Value: "1"},
	}))

	want := `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">` +
		`<InstanceID>0</InstanceID><Speed>1</Speed>` +
		`</u:Play></s:Body></s:Envelope>`
	if got != want {
		t.Fatalf("envelope:\n got %s\nwant %s", got, want)
	}
}

func TestBuildEnvelopeEscapesValues(t *testing.T) {
	t.Parallel()

	got := string(BuildEnvelope("SetAVTransportURI", "urn:x", []Arg{
		{Name: "CurrentURI", Value: "http://h/a?x=1&y=<2>"},
	}))
	if !strings.Contains(got, "<CurrentURI>http://h/a?x=1&amp;y=&lt;2&gt;</CurrentURI>") {
		t.Fatalf("value not escaped: %s", got)
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	resp := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:GetTransportSettingsResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
      <PlayMode>NORMAL</PlayMode>
      <RecQualityMode>NOT_IMPLEMENTED</RecQualityMode>
      <CurrentSpeed>1</CurrentSpeed>
      <Empty></Empty>
    </u:GetTransportSettingsResponse>
  </s:Body>
</s:Envelope>`

	got, err := ParseEnvelope([]byte(resp))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if len(got) != 2 || got["CurrentSpeed"] != "1" || got["PlayMode"] != "NORMAL" {
		t.Fatalf("unexpected values: %#v", got)
	}
	if _, ok := got["RecQualityMode"]; ok {
		t.Fatalf("NOT_IMPLEMENTED value kept")
	}
}

func TestParseEnvelopeKeepsEscapedDIDL(t *testing.T) {
	t.Parallel()

	resp := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">` +
		`<Result>&lt;DIDL-Lite&gt;&lt;/DIDL-Lite&gt;</Result><NumberReturned>0</NumberReturned>` +
		`</u:BrowseResponse></s:Body></s:Envelope>`
	got, err := ParseEnvelope([]byte(resp))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got["Result"] != "<DIDL-Lite></DIDL-Lite>" || got["NumberReturned"] != "0" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"<html><body>oops</body></html>", "<s:Envelope><s:Body>"} {
		if _, err := ParseEnvelope([]byte(body)); !errors.Is(err, upnperr.ErrProtocol) {
			t.Fatalf("ParseEnvelope(%q): expected ErrProtocol, got %v", body, err)
		}
	}
}

func TestParseFault(t *testing.T) {
	t.Parallel()

	body := `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault>` +
		`<faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>` +
		`<detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0"><errorCode>701</errorCode>` +
		`<errorDescription>Transition not available</errorDescription></UPnPError></detail>` +
		`</s:Fault></s:Body></s:Envelope>`
	f, ok := parseFault([]byte(body))
	if !ok {
		t.Fatalf("parseFault failed")
	}
	if f.Code != 701 || f.Description != "Transition not available" {
		t.Fatalf("unexpected fault: %+v", f)
	}
	if !errors.Is(f, upnperr.ErrProtocol) {
		t.Fatalf("fault should be a protocol error")
	}
}
