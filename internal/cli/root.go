// Package cli is the upnpctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"upnpctl/internal/config"
	"upnpctl/internal/gena"
	"upnpctl/internal/logging"
	"upnpctl/internal/output"
	"upnpctl/internal/ssdp"
	"upnpctl/internal/storage"
	"upnpctl/internal/upnp"
)

// UsageError is a command line mistake; the binary exits with status 2.
type UsageError struct{ Msg string }

func (e UsageError) Error() string { return e.Msg }

// closeTimeout bounds the UNSUBSCRIBE round trips on exit.
const closeTimeout = 5 * time.Second

type rootOptions struct {
	JSON       bool
	Plain      bool
	Quiet      bool
	Verbose    bool
	NoColor    bool
	Debug      bool
	NoCache    bool
	ConfigPath string
}

type app struct {
	version string
	opts    rootOptions
	cfg     config.Config
	out     *output.Output
	log     *slog.Logger
	store   *storage.Store
	stdout  io.Writer
	stderr  io.Writer
}

// Execute runs the command line in args. It returns a UsageError for bad
// invocations and ctx.Err() when interrupted.
func Execute(ctx context.Context, args []string, version string) error {
	root := NewRootCommand(version)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version}
	root := &cobra.Command{
		Use:           "upnpctl",
		Short:         "Discover and control UPnP devices on the local network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	addGlobalFlags(root.PersistentFlags(), &a.opts)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return UsageError{Msg: err.Error()}
	})

	root.AddCommand(
		newDiscoverCommand(a),
		newWatchCommand(a),
		newDescribeCommand(a),
		newBrowseCommand(a),
		newSubscribeCommand(a),
		newInvokeCommand(a),
		newCacheCommand(a),
		newVersionCommand(a),
	)
	return root
}

func addGlobalFlags(fs *pflag.FlagSet, o *rootOptions) {
	fs.BoolVar(&o.JSON, "json", false, "Output JSON")
	fs.BoolVar(&o.Plain, "plain", false, "Plain output without decoration")
	fs.BoolVarP(&o.Quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVarP(&o.Verbose, "verbose", "v", false, "Verbose output")
	fs.BoolVar(&o.NoColor, "no-color", false, "Disable color")
	fs.BoolVar(&o.Debug, "debug", false, "Debug logging to stderr")
	fs.BoolVar(&o.NoCache, "no-cache", false, "Do not read or write remembered description locations")
	fs.StringVar(&o.ConfigPath, "config", "", "Config file (default $UPNPCTL_CONFIG or the user config dir)")
}

func (a *app) setup(cmd *cobra.Command) error {
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()

	path := a.opts.ConfigPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.opts.Debug {
		logging.EnableDebug(a.stderr)
		a.log = slog.Default()
	} else {
		a.log = logging.NewWriter(cfg.Logging, a.version, logging.Output(cfg.Logging.Output, a.stdout, a.stderr))
		slog.SetDefault(a.log)
	}

	a.out = output.New(output.Options{
		JSON:    a.opts.JSON,
		Plain:   a.opts.Plain,
		Quiet:   a.opts.Quiet,
		Verbose: a.opts.Verbose,
		NoColor: a.opts.NoColor || os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb",
		Stdout:  a.stdout,
		Stderr:  a.stderr,
	})
	return nil
}

// controlPoint builds a control point from the loaded config. Explicit
// search targets replace the configured ones.
func (a *app) controlPoint(targets []string) (*upnp.ControlPoint, error) {
	types := a.cfg.Types()
	if len(targets) > 0 {
		types = types[:0:0]
		for _, raw := range targets {
			t, err := ssdp.ParseType(raw)
			if err != nil {
				return nil, UsageError{Msg: fmt.Sprintf("invalid search target %q", raw)}
			}
			types = append(types, t)
		}
	}
	return upnp.NewControlPoint(upnp.Options{
		SearchTypes: types,
		Explorer: ssdp.Options{
			MX:        a.cfg.SSDP.MX,
			UserAgent: a.cfg.SSDP.UserAgent,
			Interface: a.cfg.SSDP.Interface,
			Logger:    a.log,
		},
		Events: gena.Options{
			Timeout:      a.cfg.EventTimeout(),
			RenewMargin:  a.cfg.RenewMargin(),
			CallbackPort: a.cfg.Events.CallbackPort,
			Logger:       a.log,
		},
		HTTPTimeout: a.cfg.HTTPTimeout(),
		Logger:      a.log,
	}), nil
}

func closeControlPoint(cp *upnp.ControlPoint) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	cp.Close(ctx)
}

// argsBetween is cobra.RangeArgs reporting a UsageError.
func argsBetween(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < lo || (hi >= 0 && len(args) > hi) {
			return UsageError{Msg: fmt.Sprintf("usage: %s", cmd.UseLine())}
		}
		return nil
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  argsBetween(0, 0),
		RunE: func(*cobra.Command, []string) error {
			if a.opts.JSON {
				return a.out.EmitJSON(map[string]string{"version": a.version})
			}
			fmt.Fprintln(a.stdout, a.version)
			return nil
		},
	}
}

// waitOrDone sleeps for d unless ctx ends first.
func waitOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
