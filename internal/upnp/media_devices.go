package upnp

import "upnpctl/internal/ssdp"

// MediaServer is urn:schemas-upnp-org:device:MediaServer:1.
type MediaServer struct {
	*Device
}

func (m *MediaServer) ContentDirectory() (*ContentDirectory, bool) {
	return serviceAs[*ContentDirectory](m.Device, ssdp.ContentDirectory1)
}

func (m *MediaServer) ConnectionManager() (*ConnectionManager, bool) {
	return serviceAs[*ConnectionManager](m.Device, ssdp.ConnectionManager1)
}

// AVTransport is optional on a media server.
func (m *MediaServer) AVTransport() (*AVTransport, bool) {
	return serviceAs[*AVTransport](m.Device, ssdp.AVTransport1)
}

// MediaRenderer is urn:schemas-upnp-org:device:MediaRenderer:1.
type MediaRenderer struct {
	*Device
}

func (m *MediaRenderer) AVTransport() (*AVTransport, bool) {
	return serviceAs[*AVTransport](m.Device, ssdp.AVTransport1)
}

func (m *MediaRenderer) RenderingControl() (*RenderingControl, bool) {
	return serviceAs[*RenderingControl](m.Device, ssdp.RenderingControl1)
}

func (m *MediaRenderer) ConnectionManager() (*ConnectionManager, bool) {
	return serviceAs[*ConnectionManager](m.Device, ssdp.ConnectionManager1)
}

func serviceAs[T ServiceObject](d *Device, urn string) (T, bool) {
	var zero T
	s, ok := d.Service(urn)
	if !ok {
		return zero, false
	}
	t, ok := s.(T)
	return t, ok
}
