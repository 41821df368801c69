package upnp

import (
	"context"
	"fmt"
	"strconv"

	"upnpctl/internal/soap"
	"upnpctl/internal/upnperr"
)

const ChannelMaster = "Master"

// RenderingControl is urn:schemas-upnp-org:service:RenderingControl:1.
type RenderingControl struct {
	*Service
}

func channelArg(channel string) soap.Arg {
	if channel == "" {
		channel = ChannelMaster
	}
	return soap.Arg{Name: "Channel", Value: channel}
}

func (r *RenderingControl) GetVolume(ctx context.Context, instanceID uint32, channel string) (int, error) {
	resp, err := r.Invoke(ctx, "GetVolume", instanceArg(instanceID), channelArg(channel))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(resp["CurrentVolume"])
	if err != nil {
		return 0, upnperr.Protocol("GetVolume", "bad CurrentVolume %q", resp["CurrentVolume"])
	}
	return v, nil
}

func (r *RenderingControl) SetVolume(ctx context.Context, instanceID uint32, channel string, volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("upnp: volume %d out of range 0..100", volume)
	}
	_, err := r.Invoke(ctx, "SetVolume",
		instanceArg(instanceID),
		channelArg(channel),
		soap.Arg{Name: "DesiredVolume", Value: strconv.Itoa(volume)},
	)
	return err
}

func (r *RenderingControl) GetMute(ctx context.Context, instanceID uint32, channel string) (bool, error) {
	resp, err := r.Invoke(ctx, "GetMute", instanceArg(instanceID), channelArg(channel))
	if err != nil {
		return false, err
	}
	switch resp["CurrentMute"] {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, upnperr.Protocol("GetMute", "bad CurrentMute %q", resp["CurrentMute"])
}

func (r *RenderingControl) SetMute(ctx context.Context, instanceID uint32, channel string, mute bool) error {
	v := "0"
	if mute {
		v = "1"
	}
	_, err := r.Invoke(ctx, "SetMute", instanceArg(instanceID), channelArg(channel), soap.Arg{Name: "DesiredMute", Value: v})
	return err
}
