package didl

import (
	"testing"
	"time"
)

const browseResult = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
  xmlns:dc="http://purl.org/dc/elements/1.1/"
  xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">
  <container id="64" parentID="0" childCount="3" restricted="1">
    <dc:title>Videos</dc:title>
    <upnp:class>object.container.storageFolder</upnp:class>
  </container>
  <item id="64$1" parentID="64" restricted="1">
    <dc:title>Holiday</dc:title>
    <upnp:class>object.item.videoItem</upnp:class>
    <upnp:albumArtURI>http://10.0.0.5:8200/art/1.jpg</upnp:albumArtURI>
    <res size="1048576" duration="1:02:03.500" bitrate="250000" resolution="1280x720" nrAudioChannels="2" sampleFrequency="48000" protocolInfo="http-get:*:video/mp4:*">http://10.0.0.5:8200/v/1.mp4</res>
  </item>
</DIDL-Lite>`

func TestParseContainerAndVideoItemInOrder(t *testing.T) {
	t.Parallel()

	objs, err := Parse([]byte(browseResult))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objs))
	}
	c, ok := objs[0].(*Container)
	if !ok {
		t.Fatalf("first object is %T, want *Container", objs[0])
	}
	if c.ID != "64" || c.Title != "Videos" || c.ChildCount == nil || *c.ChildCount != 3 {
		t.Fatalf("unexpected container: %+v", c)
	}
	v, ok := objs[1].(*VideoItem)
	if !ok {
		t.Fatalf("second object is %T, want *VideoItem", objs[1])
	}
	if v.ResourceURL.String() != "http://10.0.0.5:8200/v/1.mp4" {
		t.Fatalf("resource: %v", v.ResourceURL)
	}
	if v.AlbumArtURL == nil || v.AlbumArtURL.Path != "/art/1.jpg" {
		t.Fatalf("album art: %v", v.AlbumArtURL)
	}
	if v.Duration != time.Hour+2*time.Minute+3500*time.Millisecond {
		t.Fatalf("duration: %v", v.Duration)
	}
	if v.Resolution == nil || v.Resolution.Width != 1280 || v.Resolution.Height != 720 {
		t.Fatalf("resolution: %+v", v.Resolution)
	}
	if v.Size == nil || *v.Size != 1048576 || v.Bitrate == nil || *v.Bitrate != 250000 {
		t.Fatalf("size/bitrate: %v %v", v.Size, v.Bitrate)
	}
	if v.ProtocolInfo != "http-get:*:video/mp4:*" {
		t.Fatalf("protocolInfo: %q", v.ProtocolInfo)
	}
}

func TestParseSkipsIncompleteObjects(t *testing.T) {
	t.Parallel()

	doc := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">
  <item id="1" parentID="0"><upnp:class>object.item.audioItem</upnp:class><res>http://h/a.mp3</res></item>
  <item id="2" parentID="0"><dc:title>No res</dc:title><upnp:class>object.item.videoItem</upnp:class></item>
  <item id="3" parentID="0"><dc:title>Song</dc:title><upnp:class>object.item.audioItem</upnp:class>
    <dc:creator>Someone</dc:creator><upnp:album>Record</upnp:album><upnp:genre>Jazz</upnp:genre><res>http://h/3.mp3</res></item>
</DIDL-Lite>`

	objs, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objs))
	}
	a, ok := objs[0].(*AudioItem)
	if !ok {
		t.Fatalf("got %T, want *AudioItem", objs[0])
	}
	if a.ID != "3" || a.Creator != "Someone" || a.Album != "Record" || a.Genre != "Jazz" {
		t.Fatalf("unexpected audio item: %+v", a)
	}
}

func TestParseFallsBackToGenericTypes(t *testing.T) {
	t.Parallel()

	doc := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">
  <item id="t1" parentID="p"><dc:title>Track</dc:title><upnp:class>object.item.audioItem.musicTrack</upnp:class><res>http://h/t1.flac</res></item>
  <item id="t2" parentID="p"><dc:title>Photo</dc:title><upnp:class>object.item.imageItem.photo</upnp:class></item>
</DIDL-Lite>`

	objs, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objs))
	}
	if _, ok := objs[0].(*Item); !ok {
		t.Fatalf("got %T, want *Item", objs[0])
	}
	if o, ok := objs[1].(*Object); !ok || o.Title != "Photo" {
		t.Fatalf("got %T %+v, want *Object", objs[1], objs[1])
	}
}

func TestParseEmptyAndMalformed(t *testing.T) {
	t.Parallel()

	objs, err := Parse([]byte("  "))
	if err != nil || objs != nil {
		t.Fatalf("empty input: %v %v", objs, err)
	}
	if _, err := Parse([]byte(`<DIDL-Lite><item></container></DIDL-Lite>`)); err == nil {
		t.Fatalf("expected error for mismatched tags")
	}
}

func TestParseFields(t *testing.T) {
	t.Parallel()

	doc := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">
<item id="-1" parentID="-1"><dc:title>Now Playing</dc:title><upnp:artist>Band</upnp:artist></item>
<item id="-2" parentID="-1"><dc:title>Next</dc:title></item>
</DIDL-Lite>`

	fields, err := ParseFields([]byte(doc))
	if err != nil {
		t.Fatalf("ParseFields: %v", err)
	}
	if fields["title"] != "Now Playing" || fields["artist"] != "Band" {
		t.Fatalf("unexpected fields: %#v", fields)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"0:03:25", 3*time.Minute + 25*time.Second, true},
		{"12:00", 12 * time.Minute, true},
		{"1:00:00.250", time.Hour + 250*time.Millisecond, true},
		{"", 0, false},
		{"NOT_IMPLEMENTED", 0, false},
		{"1:2:3:4", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseDuration(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
