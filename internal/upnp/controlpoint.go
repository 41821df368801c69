package upnp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"upnpctl/internal/gena"
	"upnpctl/internal/soap"
	"upnpctl/internal/ssdp"
)

type Options struct {
	// SearchTypes are sent as M-SEARCH targets; ssdp:all when empty.
	SearchTypes []ssdp.Type
	Explorer    ssdp.Options
	Events      gena.Options
	Types       *Types
	// HTTPTimeout bounds description, SCPD and SOAP requests.
	HTTPTimeout time.Duration
	HTTP        Doer
	Logger      *slog.Logger
}

// ControlPoint wires the explorer, registry and subscription manager
// together. Build one per process and pass it to whatever needs it.
type ControlPoint struct {
	explorer *ssdp.Explorer
	registry *Registry
	events   *gena.Manager
	types    []ssdp.Type
	log      *slog.Logger

	detach    func()
	closeOnce sync.Once
}

func NewControlPoint(opts Options) *ControlPoint {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultFetchTimeout
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: opts.HTTPTimeout}
	}
	types := opts.SearchTypes
	if len(types) == 0 {
		types = []ssdp.Type{ssdp.TypeAll}
	}
	if opts.Explorer.Logger == nil {
		opts.Explorer.Logger = log
	}
	if opts.Events.Logger == nil {
		opts.Events.Logger = log
	}
	if opts.Events.HTTP == nil {
		opts.Events.HTTP = opts.HTTP
	}

	events := gena.NewManager(opts.Events)
	cp := &ControlPoint{
		explorer: ssdp.NewExplorer(opts.Explorer),
		registry: NewRegistry(RegistryOptions{
			HTTP:         opts.HTTP,
			SOAP:         soap.NewClient(opts.HTTP),
			Events:       events,
			Types:        opts.Types,
			FetchTimeout: opts.HTTPTimeout,
			Logger:       log,
		}),
		events: events,
		types:  types,
		log:    log,
	}
	cp.detach = cp.explorer.AddObserver(cp.registry)
	return cp
}

func (cp *ControlPoint) Explorer() *ssdp.Explorer { return cp.explorer }
func (cp *ControlPoint) Registry() *Registry      { return cp.registry }
func (cp *ControlPoint) Events() *gena.Manager    { return cp.events }

// Start begins discovery; the registry fills as descriptions arrive.
func (cp *ControlPoint) Start() error {
	if err := cp.explorer.Start(cp.types); err != nil {
		return err
	}
	cp.log.Info("upnp: control point started", "types", len(cp.types))
	return nil
}

// Stop ends discovery. The registry drops every object once the explorer
// reports its empty set.
func (cp *ControlPoint) Stop() { cp.explorer.Stop() }

// Restart stops and starts discovery with the configured types.
func (cp *ControlPoint) Restart() error {
	cp.explorer.Stop()
	return cp.Start()
}

// Running reports whether discovery is active. It turns false on its own
// when the explorer fails.
func (cp *ControlPoint) Running() bool { return cp.explorer.Running() }

// Close stops discovery, drops all event subscriptions and waits for
// in-flight description fetches.
func (cp *ControlPoint) Close(ctx context.Context) {
	cp.closeOnce.Do(func() {
		cp.explorer.Close()
		cp.detach()
		cp.events.Close(ctx)
		cp.registry.Close()
	})
}
