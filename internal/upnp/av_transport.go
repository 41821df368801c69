package upnp

import (
	"context"
	"strconv"
	"time"

	"upnpctl/internal/didl"
	"upnpctl/internal/soap"
	"upnpctl/internal/upnperr"
)

// AVTransport is urn:schemas-upnp-org:service:AVTransport:1.
type AVTransport struct {
	*Service
}

type TransportInfo struct {
	State  string `json:"state"`
	Status string `json:"status"`
	Speed  string `json:"speed"`
}

type PositionInfo struct {
	Track         int           `json:"track"`
	TrackDuration time.Duration `json:"trackDuration"`
	TrackURI      string        `json:"trackURI"`
	RelTime       time.Duration `json:"relTime"`
	// TrackMetadata holds the DIDL-Lite item fields of TrackMetaData.
	TrackMetadata map[string]string `json:"trackMetadata,omitempty"`
}

func instanceArg(id uint32) soap.Arg {
	return soap.Arg{Name: "InstanceID", Value: strconv.FormatUint(uint64(id), 10)}
}

func (a *AVTransport) SetAVTransportURI(ctx context.Context, instanceID uint32, uri, metadata string) error {
	_, err := a.Invoke(ctx, "SetAVTransportURI",
		instanceArg(instanceID),
		soap.Arg{Name: "CurrentURI", Value: uri},
		soap.Arg{Name: "CurrentURIMetaData", Value: metadata},
	)
	return err
}

// Play starts playback; an empty speed means "1".
func (a *AVTransport) Play(ctx context.Context, instanceID uint32, speed string) error {
	if speed == "" {
		speed = "1"
	}
	_, err := a.Invoke(ctx, "Play", instanceArg(instanceID), soap.Arg{Name: "Speed", Value: speed})
	return err
}

// Pause is optional in AVTransport:1.
func (a *AVTransport) Pause(ctx context.Context, instanceID uint32) error {
	_, err := a.InvokeOptional(ctx, "Pause", instanceArg(instanceID))
	return err
}

func (a *AVTransport) Stop(ctx context.Context, instanceID uint32) error {
	_, err := a.Invoke(ctx, "Stop", instanceArg(instanceID))
	return err
}

func (a *AVTransport) GetTransportInfo(ctx context.Context, instanceID uint32) (TransportInfo, error) {
	resp, err := a.Invoke(ctx, "GetTransportInfo", instanceArg(instanceID))
	if err != nil {
		return TransportInfo{}, err
	}
	state, ok := resp["CurrentTransportState"]
	if !ok {
		return TransportInfo{}, upnperr.Protocol("GetTransportInfo", "response missing CurrentTransportState")
	}
	return TransportInfo{
		State:  state,
		Status: resp["CurrentTransportStatus"],
		Speed:  resp["CurrentSpeed"],
	}, nil
}

func (a *AVTransport) GetPositionInfo(ctx context.Context, instanceID uint32) (PositionInfo, error) {
	resp, err := a.Invoke(ctx, "GetPositionInfo", instanceArg(instanceID))
	if err != nil {
		return PositionInfo{}, err
	}
	out := PositionInfo{TrackURI: resp["TrackURI"]}
	out.Track, _ = strconv.Atoi(resp["Track"])
	out.TrackDuration, _ = didl.ParseDuration(resp["TrackDuration"])
	out.RelTime, _ = didl.ParseDuration(resp["RelTime"])
	if md := resp["TrackMetaData"]; md != "" {
		if fields, err := didl.ParseFields([]byte(md)); err == nil && len(fields) > 0 {
			out.TrackMetadata = fields
		}
	}
	return out, nil
}
