package cli

import (
	"time"

	"github.com/spf13/cobra"

	"upnpctl/internal/upnp"
)

func newDiscoverCommand(a *app) *cobra.Command {
	var (
		wait    time.Duration
		targets []string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search the network and list the devices that answered",
		Args:  argsBetween(0, 0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cp, err := a.controlPoint(targets)
			if err != nil {
				return err
			}
			defer closeControlPoint(cp)

			if err := cp.Start(); err != nil {
				return err
			}
			if err := waitOrDone(cmd.Context(), wait); err != nil {
				return err
			}
			devices := cp.Registry().Devices()
			for _, d := range devices {
				if d.DeviceInfo().RootDevice {
					a.rememberDevice(d.DeviceInfo())
				}
			}
			return a.printDevices(devices)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "How long to collect answers")
	cmd.Flags().StringSliceVarP(&targets, "type", "t", nil, "Search target (repeatable); defaults to the configured ones")
	return cmd
}

// printDevices prints root devices with their embedded devices nested,
// followed by any embedded device whose root was not discovered.
func (a *app) printDevices(devices []upnp.DeviceObject) error {
	covered := map[string]bool{}
	var views []deviceView
	for _, d := range devices {
		dev := d.DeviceInfo()
		if !dev.RootDevice {
			continue
		}
		v := viewOf(dev)
		markCovered(covered, v)
		views = append(views, v)
	}
	for _, d := range devices {
		dev := d.DeviceInfo()
		if !covered[dev.USN.String()] {
			views = append(views, viewOf(dev))
		}
	}

	if a.opts.JSON {
		if views == nil {
			views = []deviceView{}
		}
		return a.out.EmitJSON(map[string]any{"devices": views})
	}
	if len(views) == 0 {
		a.out.Warn("No devices found.")
		return nil
	}
	for _, v := range views {
		a.printDevice(v, 0)
	}
	return nil
}

func markCovered(covered map[string]bool, v deviceView) {
	covered[v.USN] = true
	for _, c := range v.Devices {
		markCovered(covered, c)
	}
}
