package cli

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"upnpctl/internal/didl"
	"upnpctl/internal/upnp"
)

type iconView struct {
	MIMEType string `json:"mimeType"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	URL      string `json:"url"`
}

type serviceView struct {
	ServiceType string `json:"serviceType"`
	ServiceID   string `json:"serviceId"`
	ControlURL  string `json:"controlURL,omitempty"`
	EventURL    string `json:"eventURL,omitempty"`
	SCPDURL     string `json:"scpdURL,omitempty"`
}

type deviceView struct {
	USN            string        `json:"usn"`
	DeviceType     string        `json:"deviceType"`
	FriendlyName   string        `json:"friendlyName"`
	Manufacturer   string        `json:"manufacturer"`
	ModelName      string        `json:"modelName"`
	ModelNumber    string        `json:"modelNumber,omitempty"`
	SerialNumber   string        `json:"serialNumber,omitempty"`
	DescriptionURL string        `json:"descriptionURL,omitempty"`
	Icons          []iconView    `json:"icons,omitempty"`
	Services       []serviceView `json:"services,omitempty"`
	Devices        []deviceView  `json:"devices,omitempty"`
}

func viewOf(d *upnp.Device) deviceView {
	v := deviceView{
		USN:          d.USN.String(),
		DeviceType:   d.DeviceType,
		FriendlyName: d.FriendlyName,
		Manufacturer: d.Manufacturer,
		ModelName:    d.ModelName,
		ModelNumber:  d.ModelNumber,
		SerialNumber: d.SerialNumber,
	}
	if d.DescriptionURL != nil {
		v.DescriptionURL = d.DescriptionURL.String()
	}
	for _, ic := range d.Icons {
		v.Icons = append(v.Icons, iconView{MIMEType: ic.MIMEType, Width: ic.Width, Height: ic.Height, URL: urlString(ic.URL)})
	}
	for _, s := range d.ServiceRefs {
		v.Services = append(v.Services, serviceView{
			ServiceType: s.ServiceType,
			ServiceID:   s.ServiceID,
			ControlURL:  urlString(s.ControlURL),
			EventURL:    urlString(s.EventURL),
			SCPDURL:     urlString(s.SCPDURL),
		})
	}
	for _, c := range d.Children {
		v.Devices = append(v.Devices, viewOf(c))
	}
	return v
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

func (a *app) printDevice(v deviceView, indent int) {
	pad := strings.Repeat(" ", indent)
	a.out.Print(pad + a.out.Bold(v.FriendlyName) + " " + a.out.Gray("("+v.DeviceType+")"))
	a.out.KV(indent+2, "usn", v.USN)
	a.out.KV(indent+2, "manufacturer", v.Manufacturer)
	a.out.KV(indent+2, "model", joinNonEmpty(" ", v.ModelName, v.ModelNumber))
	a.out.KV(indent+2, "serial", v.SerialNumber)
	a.out.KV(indent+2, "location", v.DescriptionURL)
	if a.opts.Verbose {
		for _, ic := range v.Icons {
			a.out.KV(indent+2, "icon", fmt.Sprintf("%s %dx%d %s", ic.MIMEType, ic.Width, ic.Height, ic.URL))
		}
	}
	for _, s := range v.Services {
		a.out.KV(indent+2, "service", s.ServiceType)
		if a.opts.Verbose {
			a.out.KV(indent+4, "control", s.ControlURL)
			a.out.KV(indent+4, "event", s.EventURL)
			a.out.KV(indent+4, "scpd", s.SCPDURL)
		}
	}
	for _, c := range v.Devices {
		a.printDevice(c, indent+2)
	}
}

type contentView struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	ParentID    string `json:"parentId"`
	Title       string `json:"title"`
	Class       string `json:"class"`
	ChildCount  *int   `json:"childCount,omitempty"`
	ResourceURL string `json:"resourceURL,omitempty"`
	AlbumArtURL string `json:"albumArtURL,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
}

func contentOf(c didl.Content) contentView {
	b := c.Base()
	v := contentView{ID: b.ID, ParentID: b.ParentID, Title: b.Title, Class: b.Class, AlbumArtURL: urlString(b.AlbumArtURL)}
	switch o := c.(type) {
	case *didl.Container:
		v.Kind = "container"
		v.ChildCount = o.ChildCount
	case *didl.VideoItem:
		v.Kind = "video"
		v.ResourceURL = urlString(o.ResourceURL)
	case *didl.AudioItem:
		v.Kind = "audio"
		v.ResourceURL = urlString(o.ResourceURL)
		v.Artist = o.Artist
		v.Album = o.Album
	case *didl.Item:
		v.Kind = "item"
		v.ResourceURL = urlString(o.ResourceURL)
	default:
		v.Kind = "object"
	}
	return v
}

func (a *app) printContent(v contentView) {
	label := v.Title
	if v.Kind == "container" {
		label = a.out.Bold(label + "/")
		if v.ChildCount != nil {
			label += a.out.Gray(fmt.Sprintf(" (%d)", *v.ChildCount))
		}
	}
	a.out.Print(fmt.Sprintf("%-12s %s", v.ID, label))
	a.out.KV(2, "artist", v.Artist)
	a.out.KV(2, "album", v.Album)
	if a.opts.Verbose {
		a.out.KV(2, "class", v.Class)
		a.out.KV(2, "url", v.ResourceURL)
	}
}

func (a *app) printEvent(ev upnp.Event) {
	if ev.Err != nil {
		a.out.Warn("subscription ended: " + ev.Err.Error())
		return
	}
	if ev.ParseErr != nil {
		a.out.Warn("ignored malformed event from " + ev.Service.String() + ": " + ev.ParseErr.Error())
		return
	}
	a.out.Print(a.out.Bold(ev.Service.String()))
	for _, k := range slices.Sorted(maps.Keys(ev.Properties)) {
		if k == "LastChange" && ev.Instances != nil {
			continue
		}
		a.out.KV(2, k, ev.Properties[k])
	}
	for _, id := range slices.Sorted(maps.Keys(ev.Instances)) {
		inst := ev.Instances[id]
		a.out.Print("  " + a.out.Gray("instance "+id))
		for _, k := range slices.Sorted(maps.Keys(inst.Values)) {
			if _, ok := inst.Metadata[k]; ok {
				continue
			}
			a.out.KV(4, k, inst.Values[k])
		}
		for _, k := range slices.Sorted(maps.Keys(inst.Metadata)) {
			md := inst.Metadata[k]
			a.out.KV(4, k, joinNonEmpty(" - ", md["creator"], md["album"], md["title"]))
		}
	}
}
