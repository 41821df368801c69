package cli

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"upnpctl/internal/soap"
)

func newInvokeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <control-url> <service-type> <action> [name=value...]",
		Short: "Call a SOAP action and print its output arguments",
		Args:  argsBetween(3, -1),
		RunE: func(cmd *cobra.Command, args []string) error {
			control, err := url.Parse(args[0])
			if err != nil || control.Host == "" {
				return UsageError{Msg: fmt.Sprintf("invalid control URL %q", args[0])}
			}
			in, err := parseActionArgs(args[3:])
			if err != nil {
				return err
			}

			client := soap.NewClient(&http.Client{Timeout: a.cfg.HTTPTimeout()})
			client.UserAgent = a.cfg.SSDP.UserAgent
			resp, err := client.Call(cmd.Context(), control.String(), args[1], args[2], in)
			if err != nil {
				return err
			}

			if a.opts.JSON {
				return a.out.EmitJSON(resp)
			}
			for _, k := range slices.Sorted(maps.Keys(resp)) {
				a.out.Print(k + "=" + resp[k])
			}
			return nil
		},
	}
}

// parseActionArgs keeps argument order; UPnP actions expect it.
func parseActionArgs(raw []string) ([]soap.Arg, error) {
	out := make([]soap.Arg, 0, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, UsageError{Msg: fmt.Sprintf("argument %q is not name=value", kv)}
		}
		out = append(out, soap.Arg{Name: name, Value: value})
	}
	return out, nil
}
