package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"upnpctl/internal/didl"
)

const testDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>Attic NAS</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>NAS-2</modelName>
    <UDN>uuid:nas-2</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
        <SCPDURL>/cd.xml</SCPDURL>
        <controlURL>/cd/control</controlURL>
        <eventSubURL>/cd/event</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
        <friendlyName>Attic Speaker</friendlyName>
        <manufacturer>Acme</manufacturer>
        <modelName>SPK</modelName>
        <UDN>uuid:spk-1</UDN>
      </device>
    </deviceList>
  </device>
</root>`

const browseResult = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">` +
	`<container id="music" parentID="0" childCount="12"><dc:title>Music</dc:title><upnp:class>object.container</upnp:class></container>` +
	`<item id="t1" parentID="0"><dc:title>Track</dc:title><upnp:class>object.item.audioItem</upnp:class><upnp:artist>Band</upnp:artist><res>http://h/t1.mp3</res></item>` +
	`</DIDL-Lite>`

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func newTestDevice(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/desc.xml":
			_, _ = io.WriteString(w, testDescription)
		case "/cd.xml":
			_, _ = io.WriteString(w, `<scpd><actionList><action><name>Browse</name></action></actionList></scpd>`)
		case "/cd/control":
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "<ObjectID>0</ObjectID>") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = io.WriteString(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>`+
				`<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">`+
				`<Result>`+xmlEscaper.Replace(browseResult)+`</Result><NumberReturned>2</NumberReturned><TotalMatches>2</TotalMatches><UpdateID>5</UpdateID>`+
				`</u:BrowseResponse></s:Body></s:Envelope>`)
		case "/rc/control":
			_, _ = io.WriteString(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>`+
				`<u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1"><CurrentVolume>31</CurrentVolume><Extra>x</Extra></u:GetVolumeResponse>`+
				`</s:Body></s:Envelope>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// cacheDirs gives each test one location cache shared by its runs.
var cacheDirs = map[*testing.T]string{}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	for _, k := range []string{"UPNPCTL_SEARCH_TYPES", "UPNPCTL_CALLBACK_PORT", "UPNPCTL_EVENT_TIMEOUT", "UPNPCTL_MQTT_BROKER"} {
		t.Setenv(k, "")
	}
	dir, ok := cacheDirs[t]
	if !ok {
		dir = t.TempDir()
		cacheDirs[t] = dir
		t.Cleanup(func() { delete(cacheDirs, t) })
	}
	t.Setenv("UPNPCTL_CACHE_DIR", dir)
	var stdout, stderr bytes.Buffer
	root := NewRootCommand("1.2.3")
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := root.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if stdout != "1.2.3\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"version", "--bogus"},
		{"version", "extra"},
		{"describe"},
		{"describe", "not a url"},
		{"invoke", "http://h/control", "urn:x"},
		{"invoke", "http://h/control", "urn:x", "Act", "novalue"},
		{"browse", "urn:schemas-upnp-org:device:MediaServer:1"},
		{"subscribe", "uuid:spk-1::urn:schemas-upnp-org:device:MediaRenderer:1"},
	} {
		_, _, err := runCLI(t, args...)
		var ue UsageError
		if !errors.As(err, &ue) {
			t.Fatalf("%v: err = %v, want UsageError", args, err)
		}
	}
}

func TestInvoke(t *testing.T) {
	srv := newTestDevice(t)

	stdout, _, err := runCLI(t, "invoke", srv.URL+"/rc/control", "urn:schemas-upnp-org:service:RenderingControl:1", "GetVolume", "InstanceID=0", "Channel=Master")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if stdout != "CurrentVolume=31\nExtra=x\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestDescribe(t *testing.T) {
	srv := newTestDevice(t)

	stdout, _, err := runCLI(t, "describe", srv.URL+"/desc.xml")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, want := range []string{"Attic NAS (urn:schemas-upnp-org:device:MediaServer:1)", "  model: NAS-2", "  service: urn:schemas-upnp-org:service:ContentDirectory:1", "  Attic Speaker"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("missing %q in:\n%s", want, stdout)
		}
	}
}

func TestDescribeJSON(t *testing.T) {
	srv := newTestDevice(t)

	stdout, _, err := runCLI(t, "--json", "describe", srv.URL+"/desc.xml", srv.URL+"/desc.xml")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var got struct {
		Devices []deviceView `json:"devices"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	if len(got.Devices) != 2 || got.Devices[0].USN != "uuid:nas-2::urn:schemas-upnp-org:device:MediaServer:1" {
		t.Fatalf("devices = %#v", got.Devices)
	}
	if len(got.Devices[0].Devices) != 1 || got.Devices[0].Devices[0].FriendlyName != "Attic Speaker" {
		t.Fatalf("children = %#v", got.Devices[0].Devices)
	}
	if got.Devices[0].Services[0].ControlURL != srv.URL+"/cd/control" {
		t.Fatalf("control url = %q", got.Devices[0].Services[0].ControlURL)
	}
}

func TestDescribeFetchFailure(t *testing.T) {
	srv := newTestDevice(t)

	_, _, err := runCLI(t, "describe", srv.URL+"/missing.xml")
	var ue UsageError
	if err == nil || errors.As(err, &ue) {
		t.Fatalf("err = %v, want runtime failure", err)
	}
}

func TestBrowseWithLocation(t *testing.T) {
	srv := newTestDevice(t)

	stdout, _, err := runCLI(t, "browse", "uuid:nas-2::urn:schemas-upnp-org:device:MediaServer:1", "--location", srv.URL+"/desc.xml")
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if !strings.Contains(stdout, "music        Music/ (12)") || !strings.Contains(stdout, "t1           Track") || !strings.Contains(stdout, "  artist: Band") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestBrowseJSON(t *testing.T) {
	srv := newTestDevice(t)

	stdout, _, err := runCLI(t, "--json", "browse", "uuid:nas-2::urn:schemas-upnp-org:service:ContentDirectory:1", "--location", srv.URL+"/desc.xml")
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	var got struct {
		Objects      []contentView `json:"objects"`
		TotalMatches int           `json:"totalMatches"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TotalMatches != 2 || len(got.Objects) != 2 || got.Objects[0].Kind != "container" || got.Objects[1].Kind != "audio" {
		t.Fatalf("got = %#v", got)
	}
	if got.Objects[1].ResourceURL != "http://h/t1.mp3" || got.Objects[0].ResourceURL != "" {
		t.Fatalf("resource urls = %q, %q", got.Objects[0].ResourceURL, got.Objects[1].ResourceURL)
	}
}

func TestContentOfURLs(t *testing.T) {
	t.Parallel()

	art, _ := url.Parse("http://h/art.jpg")
	res, _ := url.Parse("http://h/v.mp4")
	v := contentOf(&didl.VideoItem{Item: didl.Item{Object: didl.Object{ID: "v1", AlbumArtURL: art}, ResourceURL: res}})
	if v.Kind != "video" || v.ResourceURL != "http://h/v.mp4" || v.AlbumArtURL != "http://h/art.jpg" {
		t.Fatalf("view = %#v", v)
	}

	v = contentOf(&didl.Item{Object: didl.Object{ID: "i1"}})
	if v.Kind != "item" || v.ResourceURL != "" || v.AlbumArtURL != "" {
		t.Fatalf("view without urls = %#v", v)
	}
}

func TestParseActionArgsKeepsOrder(t *testing.T) {
	t.Parallel()

	args, err := parseActionArgs([]string{"InstanceID=0", "CurrentURI=http://h/a?x=1", "CurrentURIMetaData="})
	if err != nil {
		t.Fatalf("parseActionArgs: %v", err)
	}
	if len(args) != 3 || args[1].Name != "CurrentURI" || args[1].Value != "http://h/a?x=1" || args[2].Value != "" {
		t.Fatalf("args = %#v", args)
	}
}

func TestBrowseUsesRememberedLocation(t *testing.T) {
	srv := newTestDevice(t)

	if _, _, err := runCLI(t, "describe", srv.URL+"/desc.xml"); err != nil {
		t.Fatalf("describe: %v", err)
	}
	stdout, _, err := runCLI(t, "browse", "uuid:nas-2::urn:schemas-upnp-org:device:MediaServer:1", "--wait", "1ms")
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if !strings.Contains(stdout, "t1           Track") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestCacheListAndForget(t *testing.T) {
	srv := newTestDevice(t)

	if _, _, err := runCLI(t, "describe", srv.URL+"/desc.xml"); err != nil {
		t.Fatalf("describe: %v", err)
	}
	stdout, _, err := runCLI(t, "--json", "cache", "list")
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	var got struct {
		Locations []locationView `json:"locations"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	want := map[string]bool{
		"uuid:nas-2::urn:schemas-upnp-org:device:MediaServer:1":       true,
		"uuid:nas-2::urn:schemas-upnp-org:service:ContentDirectory:1": true,
		"uuid:spk-1::urn:schemas-upnp-org:device:MediaRenderer:1":     true,
	}
	if len(got.Locations) != len(want) {
		t.Fatalf("locations = %#v", got.Locations)
	}
	for _, l := range got.Locations {
		if !want[l.USN] || l.Location != srv.URL+"/desc.xml" {
			t.Fatalf("unexpected location %#v", l)
		}
	}

	if _, _, err := runCLI(t, "cache", "forget", "uuid:spk-1::urn:schemas-upnp-org:device:MediaRenderer:1"); err != nil {
		t.Fatalf("cache forget: %v", err)
	}
	stdout, _, err = runCLI(t, "--json", "cache", "list")
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	if strings.Contains(stdout, "spk-1") {
		t.Fatalf("forgotten location still listed:\n%s", stdout)
	}
}

func TestCacheDisabled(t *testing.T) {
	_, _, err := runCLI(t, "--no-cache", "cache", "list")
	var ue UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UsageError", err)
	}
}

func TestSetupHonoursLoggingOutput(t *testing.T) {
	t.Setenv("UPNPCTL_LOG_LEVEL", "")
	t.Setenv("UPNPCTL_LOG_FORMAT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  output: stdout\n  format: json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	a := &app{version: "1.2.3", opts: rootOptions{ConfigPath: path}}
	if err := a.setup(cmd); err != nil {
		t.Fatalf("setup: %v", err)
	}
	a.log.Info("upnp: ready")

	if !strings.Contains(stdout.String(), `"msg":"upnp: ready"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if strings.Contains(stderr.String(), "upnp: ready") {
		t.Fatalf("log line also on stderr: %q", stderr.String())
	}
}
