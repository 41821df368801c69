package mqtt

import (
	"encoding/json"
	"log/slog"

	"upnpctl/internal/upnp"
)

// Publisher is satisfied by *Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type BridgeOptions struct {
	Topics Topics
	QoS    byte
	Logger *slog.Logger
}

// Bridge turns registry changes and service events into JSON messages.
// Publish failures are logged and dropped.
type Bridge struct {
	pub    Publisher
	topics Topics
	qos    byte
	log    *slog.Logger
}

func NewBridge(pub Publisher, opts BridgeOptions) *Bridge {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{pub: pub, topics: opts.Topics, qos: opts.QoS, log: log}
}

// Attach forwards every change of r until the returned func is called.
func (b *Bridge) Attach(r *upnp.Registry) (detach func()) {
	return r.AddObserver(b.HandleChange)
}

type devicePayload struct {
	USN            string `json:"usn"`
	DeviceType     string `json:"deviceType"`
	FriendlyName   string `json:"friendlyName,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	ModelName      string `json:"modelName,omitempty"`
	DescriptionURL string `json:"descriptionURL,omitempty"`
	RootDevice     bool   `json:"rootDevice"`
}

type servicePayload struct {
	USN        string `json:"usn"`
	ServiceID  string `json:"serviceId"`
	DeviceUSN  string `json:"deviceUSN"`
	ControlURL string `json:"controlURL"`
	EventURL   string `json:"eventURL"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (b *Bridge) HandleChange(c upnp.Change) {
	switch c.Kind {
	case upnp.DeviceAdded:
		b.publish(b.topics.DeviceAdded(), devicePayloadOf(c.Device))
	case upnp.DeviceRemoved:
		b.publish(b.topics.DeviceRemoved(), devicePayloadOf(c.Device))
	case upnp.ServiceAdded:
		b.publish(b.topics.ServiceAdded(), servicePayloadOf(c.Service))
	case upnp.ServiceRemoved:
		b.publish(b.topics.ServiceRemoved(), servicePayloadOf(c.Service))
	case upnp.DiscoveryError:
		msg := ""
		if c.Err != nil {
			msg = c.Err.Error()
		}
		b.publish(b.topics.DiscoveryError(), errorPayload{Error: msg})
	}
}

// HandleEvent publishes ev under the event topic of its service. Terminal
// subscription failures are published as an error payload on the same topic;
// undecodable bodies are dropped.
func (b *Bridge) HandleEvent(ev upnp.Event) {
	topic := b.topics.Event(ev.Service.String())
	if ev.ParseErr != nil {
		b.log.Debug("mqtt: dropping malformed event", "service", ev.Service.String(), "err", ev.ParseErr)
		return
	}
	if ev.Err != nil {
		b.publish(topic, errorPayload{Error: ev.Err.Error()})
		return
	}
	b.publish(topic, ev)
}

func (b *Bridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Warn("mqtt: encode payload", "topic", topic, "err", err)
		return
	}
	if err := b.pub.Publish(topic, payload, b.qos, false); err != nil {
		b.log.Warn("mqtt: publish failed", "topic", topic, "err", err)
	}
}

func devicePayloadOf(d upnp.DeviceObject) devicePayload {
	if d == nil {
		return devicePayload{}
	}
	dev := d.DeviceInfo()
	p := devicePayload{
		USN:          dev.USN.String(),
		DeviceType:   dev.DeviceType,
		FriendlyName: dev.FriendlyName,
		Manufacturer: dev.Manufacturer,
		ModelName:    dev.ModelName,
		RootDevice:   dev.RootDevice,
	}
	if dev.DescriptionURL != nil {
		p.DescriptionURL = dev.DescriptionURL.String()
	}
	return p
}

func servicePayloadOf(s upnp.ServiceObject) servicePayload {
	if s == nil {
		return servicePayload{}
	}
	svc := s.ServiceInfo()
	p := servicePayload{
		USN:       svc.USN.String(),
		ServiceID: svc.ServiceID,
		DeviceUSN: svc.DeviceUSN.String(),
	}
	if svc.ControlURL != nil {
		p.ControlURL = svc.ControlURL.String()
	}
	if svc.EventURL != nil {
		p.EventURL = svc.EventURL.String()
	}
	return p
}
