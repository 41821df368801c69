// Package upnp turns SSDP discoveries into typed device and service objects,
// keeps the registry of what is currently on the network, and provides the
// AV profile types built on top of the SOAP and GENA layers.
package upnp

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"upnpctl/internal/gena"
	"upnpctl/internal/soap"
	"upnpctl/internal/ssdp"
	"upnpctl/internal/upnperr"
)

// Object is the identity shared by devices and services.
type Object struct {
	USN            ssdp.USN
	DescriptionURL *url.URL
	// BaseURL resolves relative URLs in the description: URLBase when the
	// document has one, otherwise the description URL's directory.
	BaseURL *url.URL
}

func (o *Object) Identity() *Object { return o }

func (o *Object) UUID() string { return o.USN.UUID() }
func (o *Object) URN() string  { return o.USN.URN() }

// Entity is a device or service object produced by the registry.
type Entity interface {
	Identity() *Object
}

// DeviceObject is a *Device or a type that embeds one.
type DeviceObject interface {
	Entity
	DeviceInfo() *Device
}

// ServiceObject is a *Service or a type that embeds one.
type ServiceObject interface {
	Entity
	ServiceInfo() *Service
}

// lookup resolves sibling objects by identity so devices and services never
// hold pointers to each other.
type lookup interface {
	DeviceFor(usn ssdp.USN) (DeviceObject, bool)
	ServiceFor(usn ssdp.USN) (ServiceObject, bool)
	ServicesOf(uuid string) []ServiceObject
}

// env carries the collaborators every object needs.
type env struct {
	http   Doer
	soap   *soap.Client
	events *gena.Manager
	lookup lookup
	log    *slog.Logger
}

type Icon struct {
	MIMEType string   `json:"mimeType"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Depth    int      `json:"depth"`
	URL      *url.URL `json:"-"`
}

// ServiceRef is an entry of a device's serviceList with URLs resolved.
type ServiceRef struct {
	ServiceType string
	ServiceID   string
	SCPDURL     *url.URL
	ControlURL  *url.URL
	EventURL    *url.URL
}

type Device struct {
	Object

	DeviceType       string
	FriendlyName     string
	Manufacturer     string
	ManufacturerURL  string
	ModelName        string
	ModelDescription string
	ModelNumber      string
	ModelURL         string
	SerialNumber     string
	PresentationURL  string

	Icons       []Icon
	ServiceRefs []ServiceRef
	Children    []*Device // embedded devices from the same document
	RootDevice  bool

	env *env
}

func (d *Device) DeviceInfo() *Device { return d }

// Service returns the registered service of type urn on this device.
func (d *Device) Service(urn string) (ServiceObject, bool) {
	if d.env == nil || d.env.lookup == nil {
		return nil, false
	}
	usn, err := ssdp.NewUSN(d.UUID(), urn)
	if err != nil {
		return nil, false
	}
	return d.env.lookup.ServiceFor(usn)
}

// Services returns the registered services that share this device's UUID.
func (d *Device) Services() []ServiceObject {
	if d.env == nil || d.env.lookup == nil {
		return nil
	}
	return d.env.lookup.ServicesOf(d.UUID())
}

func newDevice(e *env, usn ssdp.USN, descriptionURL *url.URL, xml []byte) (*Device, error) {
	urlBase, rec, err := parseDeviceDescription(xml, usn.UUID())
	if err != nil {
		return nil, err
	}
	base, err := chooseBase(descriptionURL, urlBase)
	if err != nil {
		return nil, err
	}
	return buildDevice(e, usn, descriptionURL, base, rec)
}

func chooseBase(descriptionURL *url.URL, urlBase string) (*url.URL, error) {
	if urlBase == "" {
		return baseFor(descriptionURL), nil
	}
	u, err := url.Parse(urlBase)
	if err != nil || u.Host == "" {
		return nil, upnperr.Construction("bad URLBase %q", urlBase)
	}
	return u, nil
}

func buildDevice(e *env, usn ssdp.USN, descriptionURL, base *url.URL, rec *deviceRecord) (*Device, error) {
	f := rec.fields
	for _, k := range []string{"friendlyName", "manufacturer", "modelName"} {
		if f[k] == "" {
			return nil, upnperr.Construction("device %s: missing %s", usn, k)
		}
	}
	d := &Device{
		Object:           Object{USN: usn, DescriptionURL: descriptionURL, BaseURL: base},
		DeviceType:       f["deviceType"],
		FriendlyName:     f["friendlyName"],
		Manufacturer:     f["manufacturer"],
		ManufacturerURL:  f["manufacturerURL"],
		ModelName:        f["modelName"],
		ModelDescription: f["modelDescription"],
		ModelNumber:      f["modelNumber"],
		ModelURL:         f["modelURL"],
		SerialNumber:     f["serialNumber"],
		PresentationURL:  f["presentationURL"],
		RootDevice:       rec.root,
		env:              e,
	}
	for _, ic := range rec.icons {
		u, err := resolve(base, ic["url"])
		if err != nil {
			continue
		}
		w, _ := strconv.Atoi(ic["width"])
		h, _ := strconv.Atoi(ic["height"])
		depth, _ := strconv.Atoi(ic["depth"])
		d.Icons = append(d.Icons, Icon{MIMEType: ic["mimetype"], Width: w, Height: h, Depth: depth, URL: u})
	}
	for _, s := range rec.services {
		ref := ServiceRef{ServiceType: s["serviceType"], ServiceID: s["serviceId"]}
		ref.SCPDURL, _ = resolveOptional(base, s["SCPDURL"])
		ref.ControlURL, _ = resolveOptional(base, s["controlURL"])
		ref.EventURL, _ = resolveOptional(base, s["eventSubURL"])
		d.ServiceRefs = append(d.ServiceRefs, ref)
	}
	for _, c := range rec.children {
		cusn, err := ssdp.NewUSN(c.udn(), c.fields["deviceType"])
		if err != nil {
			continue
		}
		child, err := buildDevice(e, cusn, descriptionURL, base, c)
		if err != nil {
			continue
		}
		d.Children = append(d.Children, child)
	}
	return d, nil
}

func resolveOptional(base *url.URL, ref string) (*url.URL, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil
	}
	return resolve(base, ref)
}
