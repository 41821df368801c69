package upnp

import (
	"strings"
	"sync"

	"upnpctl/internal/ssdp"
)

const (
	deviceFamily  = "urn:schemas-upnp-org:device"
	serviceFamily = "urn:schemas-upnp-org:service"
)

// DeviceConstructor wraps a parsed generic device in a specialised type.
type DeviceConstructor func(d *Device) DeviceObject

// ServiceConstructor wraps a parsed generic service in a specialised type.
type ServiceConstructor func(s *Service) ServiceObject

// Types maps URNs to constructors. Unregistered URNs produce the generic
// *Device or *Service.
type Types struct {
	mu       sync.RWMutex
	devices  map[string]DeviceConstructor
	services map[string]ServiceConstructor
}

func NewTypes() *Types {
	return &Types{
		devices:  map[string]DeviceConstructor{},
		services: map[string]ServiceConstructor{},
	}
}

// DefaultTypes knows the AV profile devices and services.
func DefaultTypes() *Types {
	t := NewTypes()
	t.RegisterDevice(ssdp.MediaServer1, func(d *Device) DeviceObject { return &MediaServer{Device: d} })
	t.RegisterDevice(ssdp.MediaRenderer1, func(d *Device) DeviceObject { return &MediaRenderer{Device: d} })
	t.RegisterService(ssdp.ContentDirectory1, func(s *Service) ServiceObject { return &ContentDirectory{Service: s} })
	t.RegisterService(ssdp.AVTransport1, func(s *Service) ServiceObject { return &AVTransport{Service: s} })
	t.RegisterService(ssdp.RenderingControl1, func(s *Service) ServiceObject { return &RenderingControl{Service: s} })
	t.RegisterService(ssdp.ConnectionManager1, func(s *Service) ServiceObject { return &ConnectionManager{Service: s} })
	return t
}

func (t *Types) RegisterDevice(urn string, c DeviceConstructor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[urn] = c
}

func (t *Types) RegisterService(urn string, c ServiceConstructor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services[urn] = c
}

// objectKind is what a URN constructs: a device or a service.
type objectKind int

const (
	kindDevice objectKind = iota + 1
	kindService
)

// kindOf applies the lookup chain: a registered URN, then the UPnP device
// or service family, then the kind the discovery was announced as.
func (t *Types) kindOf(urn string, announced ssdp.TypeKind) (objectKind, bool) {
	t.mu.RLock()
	_, isDevice := t.devices[urn]
	_, isService := t.services[urn]
	t.mu.RUnlock()
	switch {
	case isDevice:
		return kindDevice, true
	case isService:
		return kindService, true
	case strings.Contains(urn, deviceFamily):
		return kindDevice, true
	case strings.Contains(urn, serviceFamily):
		return kindService, true
	case announced == ssdp.KindDevice:
		return kindDevice, true
	case announced == ssdp.KindService:
		return kindService, true
	}
	return 0, false
}

func (t *Types) wrapDevice(d *Device) DeviceObject {
	t.mu.RLock()
	c := t.devices[d.URN()]
	t.mu.RUnlock()
	if c == nil {
		return d
	}
	return c(d)
}

func (t *Types) wrapService(s *Service) ServiceObject {
	t.mu.RLock()
	c := t.services[s.URN()]
	t.mu.RUnlock()
	if c == nil {
		return s
	}
	return c(s)
}
