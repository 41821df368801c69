package upnp

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"upnpctl/internal/dispatch"
	"upnpctl/internal/gena"
	"upnpctl/internal/soap"
	"upnpctl/internal/ssdp"
	"upnpctl/internal/upnperr"
)

const DefaultFetchTimeout = 10 * time.Second

type ChangeKind int

const (
	DeviceAdded ChangeKind = iota + 1
	DeviceRemoved
	ServiceAdded
	ServiceRemoved
	DiscoveryError
)

func (k ChangeKind) String() string {
	switch k {
	case DeviceAdded:
		return "device-added"
	case DeviceRemoved:
		return "device-removed"
	case ServiceAdded:
		return "service-added"
	case ServiceRemoved:
		return "service-removed"
	case DiscoveryError:
		return "discovery-error"
	default:
		return "unknown"
	}
}

// Change is a registry notification. Device is set for device changes,
// Service for service changes and Err for discovery errors.
type Change struct {
	Kind    ChangeKind
	Device  DeviceObject
	Service ServiceObject
	Err     error
}

type RegistryOptions struct {
	HTTP   Doer
	SOAP   *soap.Client
	Events *gena.Manager
	Types  *Types
	// FetchTimeout bounds each description fetch.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Registry consumes explorer discovery sets and maintains the devices and
// services currently on the network. It implements ssdp.Observer.
type Registry struct {
	env          *env
	types        *Types
	log          *slog.Logger
	fetchTimeout time.Duration

	mu       sync.RWMutex
	devices  map[ssdp.USN]DeviceObject
	services map[ssdp.USN]ServiceObject
	latest   map[ssdp.USN]ssdp.Discovery
	closed   bool

	obsMu     sync.RWMutex
	observers map[uint64]func(Change)
	nextObs   uint64

	queue   *dispatch.Queue
	fetches singleflight.Group
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if opts.SOAP == nil {
		opts.SOAP = soap.NewClient(opts.HTTP)
	}
	if opts.Types == nil {
		opts.Types = DefaultTypes()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		types:        opts.Types,
		log:          log,
		fetchTimeout: opts.FetchTimeout,
		devices:      map[ssdp.USN]DeviceObject{},
		services:     map[ssdp.USN]ServiceObject{},
		latest:       map[ssdp.USN]ssdp.Discovery{},
		observers:    map[uint64]func(Change){},
		queue:        dispatch.NewQueue(),
		ctx:          ctx,
		cancel:       cancel,
	}
	r.env = &env{http: opts.HTTP, soap: opts.SOAP, events: opts.Events, lookup: r, log: log}
	return r
}

// AddObserver registers f for registry changes. Changes are delivered in
// order on the registry's delivery goroutine.
func (r *Registry) AddObserver(f func(Change)) (remove func()) {
	r.obsMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = f
	r.obsMu.Unlock()
	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

// DiscoveriesChanged diffs the new discovery set against the known objects:
// known ones still present are kept, absent ones are removed, and new ones
// are fetched in the background.
func (r *Registry) DiscoveriesChanged(discoveries []ssdp.Discovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	latest := make(map[ssdp.USN]ssdp.Discovery, len(discoveries))
	for _, d := range discoveries {
		latest[d.USN] = d
	}
	r.latest = latest

	for _, usn := range sortedKeys(r.devices) {
		if _, ok := latest[usn]; !ok {
			dev := r.devices[usn]
			delete(r.devices, usn)
			r.postLocked(Change{Kind: DeviceRemoved, Device: dev})
		}
	}
	for _, usn := range sortedKeys(r.services) {
		if _, ok := latest[usn]; !ok {
			svc := r.services[usn]
			delete(r.services, usn)
			r.postLocked(Change{Kind: ServiceRemoved, Service: svc})
		}
	}

	for _, d := range discoveries {
		if !eligible(d) {
			continue
		}
		if _, ok := r.devices[d.USN]; ok {
			continue
		}
		if _, ok := r.services[d.USN]; ok {
			continue
		}
		r.fetchLocked(d)
	}
}

func (r *Registry) DiscoveryFailed(err error) {
	r.log.Warn("upnp: discovery failed", "err", err)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.postLocked(Change{Kind: DiscoveryError, Err: err})
	}
}

func eligible(d ssdp.Discovery) bool {
	k := d.Type.Kind()
	return d.USN.URN() != "" && d.DescriptionURL != nil && (k == ssdp.KindDevice || k == ssdp.KindService)
}

func (r *Registry) fetchLocked(d ssdp.Discovery) {
	r.group.Go(func() error {
		_, _, _ = r.fetches.Do(d.USN.String(), func() (any, error) {
			ctx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
			defer cancel()
			obj, err := r.CreateObject(ctx, d.USN, d.DescriptionURL)
			if err != nil {
				// Retried on the next discovery update that still reports it.
				r.log.Warn("upnp: description failed", "usn", d.USN.String(), "url", d.DescriptionURL.String(), "err", err)
				return nil, nil
			}
			r.promote(d.USN, obj)
			return nil, nil
		})
		return nil
	})
}

// promote inserts obj if its discovery is still in the latest snapshot.
func (r *Registry) promote(usn ssdp.USN, obj Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.latest[usn]; !ok {
		r.log.Debug("upnp: discovery gone before description completed", "usn", usn.String())
		return
	}
	switch o := obj.(type) {
	case DeviceObject:
		if _, ok := r.devices[usn]; ok {
			return
		}
		r.devices[usn] = o
		r.postLocked(Change{Kind: DeviceAdded, Device: o})
	case ServiceObject:
		if _, ok := r.services[usn]; ok {
			return
		}
		r.services[usn] = o
		r.postLocked(Change{Kind: ServiceAdded, Service: o})
	}
}

// CreateObject fetches the description at descriptionURL and builds the
// typed object for usn without adding it to the registry.
func (r *Registry) CreateObject(ctx context.Context, usn ssdp.USN, descriptionURL *url.URL) (Entity, error) {
	var announced ssdp.TypeKind
	if t, err := ssdp.ParseType(usn.URN()); err == nil {
		announced = t.Kind()
	}
	kind, ok := r.types.kindOf(usn.URN(), announced)
	if !ok {
		return nil, upnperr.Construction("%s is neither a device nor a service", usn)
	}

	b, err := fetchDocument(ctx, r.env.http, descriptionURL)
	if err != nil {
		return nil, err
	}
	if kind == kindDevice {
		d, err := newDevice(r.env, usn, descriptionURL, b)
		if err != nil {
			return nil, err
		}
		return r.types.wrapDevice(d), nil
	}
	s, err := newService(r.env, usn, descriptionURL, b)
	if err != nil {
		return nil, err
	}
	return r.types.wrapService(s), nil
}

// DescribeDevice fetches a description document and builds its root device,
// taking the identity from the document's UDN and deviceType.
func (r *Registry) DescribeDevice(ctx context.Context, descriptionURL *url.URL) (DeviceObject, error) {
	b, err := fetchDocument(ctx, r.env.http, descriptionURL)
	if err != nil {
		return nil, err
	}
	urlBase, rec, err := parseDeviceDescription(b, "")
	if err != nil {
		return nil, err
	}
	usn, err := ssdp.NewUSN(rec.udn(), rec.fields["deviceType"])
	if err != nil {
		return nil, upnperr.Construction("root device: %v", err)
	}
	base, err := chooseBase(descriptionURL, urlBase)
	if err != nil {
		return nil, err
	}
	d, err := buildDevice(r.env, usn, descriptionURL, base, rec)
	if err != nil {
		return nil, err
	}
	return r.types.wrapDevice(d), nil
}

func (r *Registry) DeviceFor(usn ssdp.USN) (DeviceObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[usn]
	return d, ok
}

func (r *Registry) ServiceFor(usn ssdp.USN) (ServiceObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[usn]
	return s, ok
}

// ServicesOf returns the services whose USN carries uuid, ordered by USN.
func (r *Registry) ServicesOf(uuid string) []ServiceObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServiceObject
	for _, usn := range sortedKeys(r.services) {
		if usn.UUID() == uuid {
			out = append(out, r.services[usn])
		}
	}
	return out
}

func (r *Registry) Devices() []DeviceObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviceObject, 0, len(r.devices))
	for _, usn := range sortedKeys(r.devices) {
		out = append(out, r.devices[usn])
	}
	return out
}

func (r *Registry) Services() []ServiceObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceObject, 0, len(r.services))
	for _, usn := range sortedKeys(r.services) {
		out = append(out, r.services[usn])
	}
	return out
}

// Objects returns devices followed by services.
func (r *Registry) Objects() []Entity {
	var out []Entity
	for _, d := range r.Devices() {
		out = append(out, d)
	}
	for _, s := range r.Services() {
		out = append(out, s)
	}
	return out
}

// Close stops accepting updates, cancels in-flight fetches and waits for them.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancel()
	r.mu.Unlock()

	_ = r.group.Wait()
	r.queue.Close()
}

func (r *Registry) postLocked(c Change) {
	r.queue.Post(func() {
		r.obsMu.RLock()
		fs := make([]func(Change), 0, len(r.observers))
		for _, id := range slices.Sorted(maps.Keys(r.observers)) {
			fs = append(fs, r.observers[id])
		}
		r.obsMu.RUnlock()
		for _, f := range fs {
			f(c)
		}
	})
}

func sortedKeys[V any](m map[ssdp.USN]V) []ssdp.USN {
	keys := make([]ssdp.USN, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ssdp.USN) int { return cmp.Compare(a.String(), b.String()) })
	return keys
}
