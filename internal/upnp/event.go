package upnp

import (
	"strings"

	"upnpctl/internal/didl"
	"upnpctl/internal/ssdp"
	"upnpctl/internal/xmlpath"
)

// Event is one GENA notification from a service, or a terminal subscription
// failure when Err is set.
type Event struct {
	Service ssdp.USN `json:"service"`
	// Properties holds the propertyset variables by name.
	Properties map[string]string `json:"properties,omitempty"`
	// Instances holds the decoded LastChange state keyed by InstanceID.
	Instances map[string]*InstanceState `json:"instances,omitempty"`
	Raw       []byte                    `json:"-"`
	// ParseErr is set when the NOTIFY body could not be decoded; Raw still
	// holds it and the subscription stays active.
	ParseErr error `json:"-"`
	Err      error `json:"-"`
}

type InstanceState struct {
	// Values maps state variable names to their val attribute. Channelled
	// variables are keyed name_channel, e.g. Volume_Master.
	Values map[string]string `json:"values"`
	// Metadata holds *MetaData variables decoded as DIDL-Lite item fields.
	Metadata map[string]map[string]string `json:"metadata,omitempty"`
}

// ParseEvent decodes a propertyset payload. A LastChange property is decoded
// into per-instance state as well; a malformed LastChange leaves Instances nil.
func ParseEvent(payload []byte) (Event, error) {
	ev := Event{Properties: map[string]string{}}
	p := xmlpath.New()
	p.Register(xmlpath.Observation{
		Path:   []string{"propertyset", "property", xmlpath.Wildcard},
		OnText: func(name, text string) { ev.Properties[name] = text },
	})
	if err := p.Parse(payload); err != nil {
		return Event{}, err
	}
	if lc := ev.Properties["LastChange"]; lc != "" {
		if inst, err := parseLastChange(lc); err == nil {
			ev.Instances = inst
		}
	}
	return ev, nil
}

func parseLastChange(doc string) (map[string]*InstanceState, error) {
	out := map[string]*InstanceState{}
	var cur *InstanceState

	p := xmlpath.New()
	for _, scope := range []string{"InstanceID", "QueueID"} {
		p.Register(xmlpath.Observation{
			Path: []string{"Event", scope},
			OnStart: func(_ string, attrs map[string]string) {
				id := attrs["val"]
				if out[id] == nil {
					out[id] = &InstanceState{Values: map[string]string{}}
				}
				cur = out[id]
			},
			OnEnd: func(string) { cur = nil },
		})
		p.Register(xmlpath.Observation{
			Path: []string{"Event", scope, xmlpath.Wildcard},
			OnStart: func(name string, attrs map[string]string) {
				val := attrs["val"]
				if cur == nil || val == "" {
					return
				}
				key := name
				if ch := attrs["channel"]; ch != "" {
					key += "_" + ch
				}
				cur.Values[key] = val
				if strings.Contains(name, "MetaData") {
					if fields, err := didl.ParseFields([]byte(val)); err == nil && len(fields) > 0 {
						if cur.Metadata == nil {
							cur.Metadata = map[string]map[string]string{}
						}
						cur.Metadata[name] = fields
					}
				}
			},
		})
	}
	if err := p.Parse([]byte(doc)); err != nil {
		return nil, err
	}
	return out, nil
}
