package mqtt

import "strings"

const DefaultTopicPrefix = "upnp"

// Topics builds topic names under Prefix.
//
//	upnp/device/added
//	upnp/event/uuid:abc::urn:schemas-upnp-org:service:AVTransport:1
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

func (t Topics) Status() string         { return t.prefix() + "/status" }
func (t Topics) DeviceAdded() string    { return t.prefix() + "/device/added" }
func (t Topics) DeviceRemoved() string  { return t.prefix() + "/device/removed" }
func (t Topics) ServiceAdded() string   { return t.prefix() + "/service/added" }
func (t Topics) ServiceRemoved() string { return t.prefix() + "/service/removed" }
func (t Topics) DiscoveryError() string { return t.prefix() + "/discovery/error" }

// Event is the topic for events of the service with the given USN. Topic
// separators and wildcards in the USN are replaced with '_'.
func (t Topics) Event(usn string) string {
	return t.prefix() + "/event/" + topicEscaper.Replace(usn)
}

var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")
