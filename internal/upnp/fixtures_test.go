package upnp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"upnpctl/internal/ssdp"
)

const mediaServerDescription = `<?xml version="1.0" encoding="utf-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>Living Room NAS</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>NAS-1</modelName>
    <modelNumber>1.0</modelNumber>
    <UDN>uuid:ms-1</UDN>
    <iconList>
      <icon><mimetype>image/png</mimetype><width>48</width><height>48</height><depth>24</depth><url>/icons/48.png</url></icon>
      <icon><mimetype>image/png</mimetype><width>120</width><url>/icons/broken.png</url></icon>
    </iconList>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
        <SCPDURL>cd/scpd.xml</SCPDURL>
        <controlURL>/cd/control</controlURL>
        <eventSubURL>/cd/event</eventSubURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
        <SCPDURL>cm/scpd.xml</SCPDURL>
        <controlURL>/cm/control</controlURL>
        <eventSubURL>/cm/event</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
        <friendlyName>Living Room Player</friendlyName>
        <manufacturer>Acme</manufacturer>
        <modelName>Player</modelName>
        <UDN>uuid:mr-1</UDN>
        <serviceList>
          <service>
            <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
            <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
            <SCPDURL>/mr/cm.xml</SCPDURL>
            <controlURL>/mr/cm/control</controlURL>
            <eventSubURL>/mr/cm/event</eventSubURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

const contentDirectorySCPD = `<?xml version="1.0"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <actionList>
    <action><name>Browse</name></action>
    <action><name>GetSystemUpdateID</name></action>
    <action><name>Search</name></action>
  </actionList>
</scpd>`

const (
	msUSN = "uuid:ms-1::urn:schemas-upnp-org:device:MediaServer:1"
	cdUSN = "uuid:ms-1::urn:schemas-upnp-org:service:ContentDirectory:1"
	cmUSN = "uuid:ms-1::urn:schemas-upnp-org:service:ConnectionManager:1"
	mrUSN = "uuid:mr-1::urn:schemas-upnp-org:device:MediaRenderer:1"
)

// fakeMediaServer serves the description, SCPD and ContentDirectory control
// endpoints and counts requests per path.
type fakeMediaServer struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	hits    map[string]int
	scpd    string
	soap    func(action string, body string) (int, string)
	release chan struct{}
}

func newFakeMediaServer(t *testing.T) *fakeMediaServer {
	t.Helper()
	f := &fakeMediaServer{t: t, hits: map[string]int{}, scpd: contentDirectorySCPD}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMediaServer) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	scpd, soap, release := f.scpd, f.soap, f.release
	f.mu.Unlock()

	switch r.URL.Path {
	case "/dev/desc.xml":
		if release != nil {
			<-release
		}
		_, _ = io.WriteString(w, mediaServerDescription)
	case "/dev/cd/scpd.xml":
		if scpd == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, scpd)
	case "/cd/control":
		body, _ := io.ReadAll(r.Body)
		action := r.Header.Get("SOAPACTION")
		action = strings.Trim(action[strings.Index(action, "#")+1:], `"`)
		if soap == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		code, resp := soap(action, string(body))
		w.WriteHeader(code)
		_, _ = io.WriteString(w, resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeMediaServer) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeMediaServer) descriptionURL() *url.URL {
	u, err := url.Parse(f.srv.URL + "/dev/desc.xml")
	if err != nil {
		f.t.Fatalf("parse url: %v", err)
	}
	return u
}

func (f *fakeMediaServer) discovery(usn string) ssdp.Discovery {
	u := mustUSN(f.t, usn)
	return ssdp.Discovery{USN: u, DescriptionURL: f.descriptionURL(), Type: ssdp.MustParseType(u.URN())}
}

func mustUSN(t *testing.T, raw string) ssdp.USN {
	t.Helper()
	u, err := ssdp.ParseUSN(raw)
	if err != nil {
		t.Fatalf("ParseUSN(%q): %v", raw, err)
	}
	return u
}

func soapResponse(action string, inner string) string {
	return `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
		`<u:` + action + `Response xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">` + inner +
		`</u:` + action + `Response></s:Body></s:Envelope>`
}
