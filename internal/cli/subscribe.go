package cli

import (
	"time"

	"github.com/spf13/cobra"

	"upnpctl/internal/upnp"
)

func newSubscribeCommand(a *app) *cobra.Command {
	var (
		location    string
		serviceType string
		broker      string
		wait        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "subscribe <usn>",
		Short: "Print a service's events until interrupted",
		Args:  argsBetween(1, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			usn, err := serviceUSN(args[0], serviceType)
			if err != nil {
				return err
			}
			cp, err := a.controlPoint([]string{usn.URN()})
			if err != nil {
				return err
			}
			defer closeControlPoint(cp)

			ctx := cmd.Context()
			svc, err := a.findService(ctx, cp, usn, location, wait)
			if err != nil {
				return err
			}

			bridge, closeBridge, err := a.bridge(broker)
			if err != nil {
				return err
			}
			if bridge != nil {
				defer closeBridge()
			}

			ended := make(chan struct{})
			remove, err := svc.ServiceInfo().AddEventObserver(ctx, func(ev upnp.Event) {
				if bridge != nil {
					bridge.HandleEvent(ev)
				}
				if a.opts.JSON {
					switch {
					case ev.Err != nil:
						_ = a.out.EmitJSONLine(map[string]string{"service": ev.Service.String(), "error": ev.Err.Error()})
					case ev.ParseErr != nil:
						_ = a.out.EmitJSONLine(map[string]string{"service": ev.Service.String(), "parseError": ev.ParseErr.Error()})
					default:
						_ = a.out.EmitJSONLine(ev)
					}
				} else {
					a.printEvent(ev)
				}
				if ev.Err != nil {
					select {
					case <-ended:
					default:
						close(ended)
					}
				}
			})
			if err != nil {
				return err
			}
			defer remove()
			a.out.Debug("subscribed to " + usn.String())

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ended:
				return nil
			}
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&location, "location", "", "Description URL; skips discovery")
	fs.StringVar(&serviceType, "service-type", "", "Service type when <usn> names a device")
	fs.StringVar(&broker, "mqtt", "", "Also publish events to this MQTT broker (overrides mqtt.broker)")
	fs.DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the service to be discovered")
	return cmd
}
