// Package didl parses DIDL-Lite documents returned by ContentDirectory
// Browse/Search and carried in AVTransport metadata.
package didl

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"upnpctl/internal/xmlpath"
)

const (
	ClassVideoItem = "object.item.videoItem"
	ClassAudioItem = "object.item.audioItem"

	containerPrefix = "object.container"
)

// Content is implemented by every parsed DIDL object. Use a type switch on
// *Container, *Item, *VideoItem or *AudioItem for the specialised forms.
type Content interface {
	Base() *Object
}

type Object struct {
	ID          string   `json:"id"`
	ParentID    string   `json:"parentID"`
	Title       string   `json:"title"`
	Class       string   `json:"class"`
	AlbumArtURL *url.URL `json:"-"`
}

func (o *Object) Base() *Object { return o }

type Container struct {
	Object
	ChildCount *int `json:"childCount,omitempty"`
}

type Item struct {
	Object
	ResourceURL *url.URL `json:"-"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type VideoItem struct {
	Item
	Bitrate         *int          `json:"bitrate,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
	AudioChannels   *int          `json:"nrAudioChannels,omitempty"`
	ProtocolInfo    string        `json:"protocolInfo,omitempty"`
	Resolution      *Resolution   `json:"resolution,omitempty"`
	SampleFrequency *int          `json:"sampleFrequency,omitempty"`
	Size            *int64        `json:"size,omitempty"`
}

type AudioItem struct {
	Item
	Creator string `json:"creator,omitempty"`
	Artist  string `json:"artist,omitempty"`
	Album   string `json:"album,omitempty"`
	Genre   string `json:"genre,omitempty"`
}

// record collects one direct child of DIDL-Lite while it is parsed.
type record struct {
	attrs    map[string]string
	fields   map[string]string
	resAttrs map[string]string
}

func (r *record) setField(name, text string) {
	if _, ok := r.fields[name]; !ok {
		r.fields[name] = text
	}
}

// Parse returns the direct children of DIDL-Lite in document order. Children
// missing required fields are skipped.
func Parse(b []byte) ([]Content, error) {
	if strings.TrimSpace(string(b)) == "" {
		return nil, nil
	}

	var (
		out []Content
		cur *record
	)
	p := xmlpath.New()
	p.Register(xmlpath.Observation{
		Path: []string{"DIDL-Lite", xmlpath.Wildcard},
		OnStart: func(_ string, attrs map[string]string) {
			cur = &record{attrs: attrs, fields: map[string]string{}}
		},
		OnEnd: func(name string) {
			if cur == nil {
				return
			}
			if c := cur.build(name); c != nil {
				out = append(out, c)
			}
			cur = nil
		},
	})
	field := xmlpath.Observation{
		OnStart: func(name string, attrs map[string]string) {
			if cur != nil && name == "res" && cur.resAttrs == nil {
				cur.resAttrs = attrs
			}
		},
		OnText: func(name, text string) {
			if cur != nil {
				cur.setField(name, text)
			}
		},
	}
	for _, kind := range []string{"item", "container"} {
		o := field
		o.Path = []string{"DIDL-Lite", kind, xmlpath.Wildcard}
		p.Register(o)
	}

	if err := p.Parse(b); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseFields returns the child element text of the first item in a
// metadata document, keyed by local name.
func ParseFields(b []byte) (map[string]string, error) {
	fields := map[string]string{}
	seen := 0
	p := xmlpath.New()
	p.Register(xmlpath.Observation{
		Path:  []string{"DIDL-Lite", "item"},
		OnEnd: func(string) { seen++ },
	})
	p.Register(xmlpath.Observation{
		Path: []string{"DIDL-Lite", "item", xmlpath.Wildcard},
		OnText: func(name, text string) {
			if seen == 0 {
				fields[name] = text
			}
		},
	})
	if err := p.Parse(b); err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *record) build(element string) Content {
	base, ok := r.object()
	if !ok {
		return nil
	}
	switch {
	case strings.Contains(base.Class, containerPrefix):
		c := &Container{Object: base}
		if n, err := strconv.Atoi(r.attrs["childCount"]); err == nil {
			c.ChildCount = &n
		}
		return c
	case base.Class == ClassVideoItem:
		item, ok := r.item(base)
		if !ok {
			return nil
		}
		return r.videoItem(item)
	case base.Class == ClassAudioItem:
		item, ok := r.item(base)
		if !ok {
			return nil
		}
		return &AudioItem{
			Item:    item,
			Creator: r.fields["creator"],
			Artist:  r.fields["artist"],
			Album:   r.fields["album"],
			Genre:   r.fields["genre"],
		}
	case element == "item":
		if item, ok := r.item(base); ok {
			return &item
		}
		return &base
	default:
		return &base
	}
}

func (r *record) object() (Object, bool) {
	o := Object{
		ID:       r.attrs["id"],
		ParentID: r.attrs["parentID"],
		Title:    r.fields["title"],
		Class:    r.fields["class"],
	}
	_, hasID := r.attrs["id"]
	_, hasParent := r.attrs["parentID"]
	if !hasID || !hasParent || o.Title == "" || o.Class == "" {
		return Object{}, false
	}
	if raw := r.fields["albumArtURI"]; raw != "" {
		if u, err := url.Parse(raw); err == nil {
			o.AlbumArtURL = u
		}
	}
	return o, true
}

func (r *record) item(base Object) (Item, bool) {
	raw := r.fields["res"]
	if raw == "" {
		return Item{}, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Item{}, false
	}
	return Item{Object: base, ResourceURL: u}, true
}

func (r *record) videoItem(item Item) *VideoItem {
	v := &VideoItem{Item: item}
	a := r.resAttrs
	if a == nil {
		return v
	}
	v.Bitrate = intAttr(a["bitrate"])
	v.AudioChannels = intAttr(a["nrAudioChannels"])
	v.SampleFrequency = intAttr(a["sampleFrequency"])
	v.ProtocolInfo = a["protocolInfo"]
	if n, err := strconv.ParseInt(a["size"], 10, 64); err == nil {
		v.Size = &n
	}
	if d, ok := ParseDuration(a["duration"]); ok {
		v.Duration = d
	}
	if w, h, ok := strings.Cut(a["resolution"], "x"); ok {
		wi, errW := strconv.Atoi(w)
		hi, errH := strconv.Atoi(h)
		if errW == nil && errH == nil {
			v.Resolution = &Resolution{Width: wi, Height: hi}
		}
	}
	return v
}

func intAttr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// ParseDuration reads the H+:MM:SS[.F+] form used by res@duration and
// AVTransport position values.
func ParseDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var secs float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		secs = secs*60 + v
	}
	return time.Duration(secs * float64(time.Second)), true
}
