package upnp

import (
	"upnpctl/internal/upnperr"
	"upnpctl/internal/xmlpath"
)

type deviceRecord struct {
	fields   map[string]string
	icons    []map[string]string
	services []serviceRecord
	children []*deviceRecord
	root     bool
}

func (d *deviceRecord) udn() string { return d.fields["UDN"] }

type serviceRecord map[string]string

var (
	deviceFields  = []string{"deviceType", "UDN", "friendlyName", "manufacturer", "manufacturerURL", "modelDescription", "modelName", "modelNumber", "modelURL", "serialNumber", "presentationURL"}
	iconFields    = []string{"mimetype", "width", "height", "depth", "url"}
	serviceFields = []string{"serviceType", "serviceId", "SCPDURL", "controlURL", "eventSubURL"}
)

// parseDeviceDescription walks a device description and returns the device
// whose UDN equals udn, or the root device when udn is empty. Embedded
// devices are parsed structurally into the children of their parent.
func parseDeviceDescription(b []byte, udn string) (urlBase string, found *deviceRecord, err error) {
	var (
		stack   []*deviceRecord
		icon    map[string]string
		service serviceRecord
	)
	top := func() *deviceRecord {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	push := func(root bool) func(string, map[string]string) {
		return func(string, map[string]string) {
			d := &deviceRecord{fields: map[string]string{}, root: root}
			if parent := top(); parent != nil {
				parent.children = append(parent.children, d)
			}
			stack = append(stack, d)
		}
	}
	pop := func(string) {
		d := top()
		if d == nil {
			return
		}
		stack = stack[:len(stack)-1]
		if found == nil && (d.udn() == udn || udn == "" && d.root) {
			found = d
		}
	}

	p := xmlpath.New()
	p.Register(xmlpath.Observation{
		Path:   []string{"root", "URLBase"},
		OnText: func(_, text string) { urlBase = text },
	})
	p.Register(xmlpath.Observation{Path: []string{"root", "device"}, OnStart: push(true), OnEnd: pop})
	p.Register(xmlpath.Observation{
		Path:    []string{xmlpath.Wildcard, "device", "deviceList", "device"},
		OnStart: push(false),
		OnEnd:   pop,
	})
	for _, f := range deviceFields {
		p.Register(xmlpath.Observation{
			Path: []string{xmlpath.Wildcard, "device", f},
			OnText: func(name, text string) {
				if d := top(); d != nil {
					d.fields[name] = text
				}
			},
		})
	}

	p.Register(xmlpath.Observation{
		Path:    []string{xmlpath.Wildcard, "device", "iconList", "icon"},
		OnStart: func(string, map[string]string) { icon = map[string]string{} },
		OnEnd: func(string) {
			if d := top(); d != nil && icon != nil && complete(icon, iconFields) {
				d.icons = append(d.icons, icon)
			}
			icon = nil
		},
	})
	for _, f := range iconFields {
		p.Register(xmlpath.Observation{
			Path: []string{xmlpath.Wildcard, "icon", f},
			OnText: func(name, text string) {
				if icon != nil {
					icon[name] = text
				}
			},
		})
	}

	p.Register(xmlpath.Observation{
		Path:    []string{xmlpath.Wildcard, "device", "serviceList", "service"},
		OnStart: func(string, map[string]string) { service = serviceRecord{} },
		OnEnd: func(string) {
			if d := top(); d != nil && service != nil {
				d.services = append(d.services, service)
			}
			service = nil
		},
	})
	for _, f := range serviceFields {
		p.Register(xmlpath.Observation{
			Path: []string{xmlpath.Wildcard, "service", f},
			OnText: func(name, text string) {
				if service != nil {
					service[name] = text
				}
			},
		})
	}

	if err := p.Parse(b); err != nil {
		return "", nil, upnperr.Construction("device description: %v", err)
	}
	if found == nil {
		return "", nil, upnperr.Construction("device description has no device with UDN %q", udn)
	}
	return urlBase, found, nil
}

func complete(m map[string]string, keys []string) bool {
	for _, k := range keys {
		if m[k] == "" {
			return false
		}
	}
	return true
}

type serviceMatch struct {
	service    serviceRecord
	deviceType string
}

// parseServiceDescription finds the service of type urn in the description
// of its parent device. A service inside the device whose UDN equals udn is
// preferred over the first service of that type anywhere in the document.
func parseServiceDescription(b []byte, udn, urn string) (urlBase string, match serviceMatch, err error) {
	type frame struct{ udn, deviceType string }
	var (
		stack   []*frame
		current serviceRecord
		matches []*serviceMatch
		owners  = map[*serviceMatch]*frame{}
	)
	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	push := func(string, map[string]string) { stack = append(stack, &frame{}) }
	pop := func(string) {
		if len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
	}

	p := xmlpath.New()
	p.Register(xmlpath.Observation{
		Path:   []string{"root", "URLBase"},
		OnText: func(_, text string) { urlBase = text },
	})
	p.Register(xmlpath.Observation{Path: []string{"root", "device"}, OnStart: push, OnEnd: pop})
	p.Register(xmlpath.Observation{Path: []string{xmlpath.Wildcard, "device", "deviceList", "device"}, OnStart: push, OnEnd: pop})
	p.Register(xmlpath.Observation{
		Path: []string{xmlpath.Wildcard, "device", "deviceType"},
		OnText: func(_, text string) {
			if f := top(); f != nil {
				f.deviceType = text
			}
		},
	})
	p.Register(xmlpath.Observation{
		Path: []string{xmlpath.Wildcard, "device", "UDN"},
		OnText: func(_, text string) {
			if f := top(); f != nil {
				f.udn = text
			}
		},
	})
	p.Register(xmlpath.Observation{
		Path:    []string{xmlpath.Wildcard, "device", "serviceList", "service"},
		OnStart: func(string, map[string]string) { current = serviceRecord{} },
		OnEnd: func(string) {
			f := top()
			if current == nil || f == nil || current["serviceType"] != urn {
				current = nil
				return
			}
			m := &serviceMatch{service: current}
			owners[m] = f
			matches = append(matches, m)
			current = nil
		},
	})
	for _, name := range serviceFields {
		p.Register(xmlpath.Observation{
			Path: []string{xmlpath.Wildcard, "device", "serviceList", "service", name},
			OnText: func(name, text string) {
				if current != nil {
					current[name] = text
				}
			},
		})
	}

	if err := p.Parse(b); err != nil {
		return "", serviceMatch{}, upnperr.Construction("service description: %v", err)
	}
	if len(matches) == 0 {
		return "", serviceMatch{}, upnperr.Construction("description has no service of type %s", urn)
	}
	// Owners are read after the pass since UDN may follow serviceList.
	chosen := matches[0]
	for _, m := range matches {
		if owners[m].udn == udn {
			chosen = m
			break
		}
	}
	chosen.deviceType = owners[chosen].deviceType
	return urlBase, *chosen, nil
}

// parseSCPD returns the action names declared by a service description.
func parseSCPD(b []byte) (map[string]bool, error) {
	actions := map[string]bool{}
	p := xmlpath.New()
	p.Register(xmlpath.Observation{
		Path:   []string{"scpd", "actionList", "action", "name"},
		OnText: func(_, text string) { actions[text] = true },
	})
	if err := p.Parse(b); err != nil {
		return nil, upnperr.Construction("scpd: %v", err)
	}
	return actions, nil
}
