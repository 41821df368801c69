package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"upnpctl/internal/upnp"
)

// describeConcurrency caps parallel description fetches.
const describeConcurrency = 4

func newDescribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <description-url>...",
		Short: "Fetch device descriptions and print their device trees",
		Args:  argsBetween(1, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := make([]*url.URL, len(args))
			for i, raw := range args {
				u, err := url.Parse(raw)
				if err != nil || u.Host == "" {
					return UsageError{Msg: fmt.Sprintf("invalid description URL %q", raw)}
				}
				urls[i] = u
			}

			reg := upnp.NewRegistry(upnp.RegistryOptions{
				HTTP:         &http.Client{Timeout: a.cfg.HTTPTimeout()},
				FetchTimeout: a.cfg.HTTPTimeout(),
				Logger:       a.log,
			})
			defer reg.Close()

			devices := make([]*upnp.Device, len(urls))
			views := make([]deviceView, len(urls))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(describeConcurrency)
			for i, u := range urls {
				g.Go(func() error {
					d, err := reg.DescribeDevice(ctx, u)
					if err != nil {
						return fmt.Errorf("%s: %w", u, err)
					}
					devices[i] = d.DeviceInfo()
					views[i] = viewOf(devices[i])
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for _, d := range devices {
				a.rememberDevice(d)
			}

			if a.opts.JSON {
				return a.out.EmitJSON(map[string]any{"devices": views})
			}
			for _, v := range views {
				a.printDevice(v, 0)
			}
			return nil
		},
	}
}
