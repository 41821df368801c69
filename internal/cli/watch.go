package cli

import (
	"github.com/spf13/cobra"

	"upnpctl/internal/mqtt"
	"upnpctl/internal/upnp"
)

type changeView struct {
	Kind    string       `json:"kind"`
	Device  *deviceView  `json:"device,omitempty"`
	Service *serviceView `json:"service,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func newWatchCommand(a *app) *cobra.Command {
	var (
		targets []string
		broker  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream devices and services as they appear and disappear",
		Args:  argsBetween(0, 0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cp, err := a.controlPoint(targets)
			if err != nil {
				return err
			}
			defer closeControlPoint(cp)

			if bridge, closeBridge, err := a.bridge(broker); err != nil {
				return err
			} else if bridge != nil {
				defer closeBridge()
				defer bridge.Attach(cp.Registry())()
			}
			defer cp.Registry().AddObserver(a.printChange)()

			if err := cp.Start(); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return cmd.Context().Err()
		},
	}
	cmd.Flags().StringSliceVarP(&targets, "type", "t", nil, "Search target (repeatable); defaults to the configured ones")
	cmd.Flags().StringVar(&broker, "mqtt", "", "Also publish changes to this MQTT broker (overrides mqtt.broker)")
	return cmd
}

func (a *app) printChange(c upnp.Change) {
	v := changeView{Kind: c.Kind.String()}
	switch {
	case c.Device != nil:
		dv := viewOf(c.Device.DeviceInfo())
		v.Device = &dv
	case c.Service != nil:
		s := c.Service.ServiceInfo()
		v.Service = &serviceView{
			ServiceType: s.ServiceType(),
			ServiceID:   s.ServiceID,
			ControlURL:  urlString(s.ControlURL),
			EventURL:    urlString(s.EventURL),
			SCPDURL:     urlString(s.SCPDURL),
		}
	case c.Err != nil:
		v.Error = c.Err.Error()
	}

	if a.opts.JSON {
		if err := a.out.EmitJSONLine(v); err != nil {
			a.log.Warn("cli: write change", "err", err)
		}
		return
	}
	switch c.Kind {
	case upnp.DeviceAdded:
		a.out.Success("+ " + v.Device.FriendlyName + " " + a.out.Gray(v.Device.USN))
	case upnp.DeviceRemoved:
		a.out.Print(a.out.Red("- ") + v.Device.FriendlyName + " " + a.out.Gray(v.Device.USN))
	case upnp.ServiceAdded:
		a.out.Print("  + " + c.Service.Identity().USN.String())
	case upnp.ServiceRemoved:
		a.out.Print("  - " + c.Service.Identity().USN.String())
	case upnp.DiscoveryError:
		a.out.Error("discovery failed: " + v.Error)
	}
}

// bridge connects to the MQTT broker named by the flag or the config.
// It returns a nil bridge when neither names one.
func (a *app) bridge(brokerFlag string) (*mqtt.Bridge, func(), error) {
	cfg := a.cfg.MQTT
	if brokerFlag != "" {
		cfg.Broker = brokerFlag
	}
	if cfg.Broker == "" {
		return nil, nil, nil
	}
	client, err := mqtt.Connect(cfg, a.log)
	if err != nil {
		return nil, nil, err
	}
	b := mqtt.NewBridge(client, mqtt.BridgeOptions{Topics: client.Topics(), QoS: client.QoS(), Logger: a.log})
	return b, func() { _ = client.Close() }, nil
}
