// Package ssdp implements the discovery side of the Simple Service Discovery
// Protocol: multicast M-SEARCH, NOTIFY listening and a discovery cache keyed
// by Unique Service Name.
package ssdp

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"

	"upnpctl/internal/dispatch"
	"upnpctl/internal/upnperr"
)

var (
	ErrAlreadyRunning = errors.New("ssdp: explorer already running")
	ErrNotRunning     = errors.New("ssdp: explorer not running")
	ErrNoTypes        = errors.New("ssdp: no search types")
)

const (
	DefaultMX        = 3
	DefaultUserAgent = "upnpctl/1.0 UPnP/1.1"
)

// Discovery is one SSDP sighting of a device or service.
type Discovery struct {
	USN            USN
	DescriptionURL *url.URL
	Type           Type
}

// Observer receives explorer notifications on the explorer's delivery
// goroutine, never on a socket goroutine.
type Observer interface {
	// DiscoveriesChanged carries the full current discovery set.
	DiscoveriesChanged(discoveries []Discovery)
	DiscoveryFailed(err error)
}

type Options struct {
	MX        int
	UserAgent string
	// Interface restricts sockets to one network interface by name.
	Interface string
	Logger    *slog.Logger
}

type Explorer struct {
	opts  Options
	log   *slog.Logger
	queue *dispatch.Queue

	mu        sync.RWMutex
	sess      *session
	types     []Type
	lastTypes []Type
	cache     map[USN]Discovery

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

type session struct {
	ucast, mcast udpConn
	closed       chan struct{}
	closeOnce    sync.Once
	failOnce     sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.ucast.Close()
		_ = s.mcast.Close()
	})
}

func NewExplorer(opts Options) *Explorer {
	if opts.MX <= 0 {
		opts.MX = DefaultMX
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Explorer{
		opts:      opts,
		log:       log,
		queue:     dispatch.NewQueue(),
		cache:     map[USN]Discovery{},
		observers: map[int]Observer{},
	}
}

// AddObserver registers o and returns a function that unregisters it.
func (e *Explorer) AddObserver(o Observer) (remove func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = o
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

// Start opens the unicast and multicast sockets and sends one M-SEARCH per
// type. Only messages whose ST or NT matches one of types are cached.
func (e *Explorer) Start(types []Type) error {
	if len(types) == 0 {
		return ErrNoTypes
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return ErrAlreadyRunning
	}

	ifi, err := lookupInterface(e.opts.Interface)
	if err != nil {
		return upnperr.Transport("ssdp start", err)
	}
	ucast, err := listenUnicast(ifi)
	if err != nil {
		return upnperr.Transport("ssdp listen unicast", err)
	}
	mcast, err := listenMulticast(ifi)
	if err != nil {
		_ = ucast.Close()
		return upnperr.Transport("ssdp listen multicast", err)
	}

	s := &session{ucast: ucast, mcast: mcast, closed: make(chan struct{})}
	e.sess = s
	e.types = slices.Clone(types)
	e.lastTypes = e.types
	clear(e.cache)

	go e.receive(s, ucast)
	go e.receive(s, mcast)
	go e.search(s, e.types)
	return nil
}

// Stop closes the sockets, clears the cache and notifies observers with an
// empty set. Once Stop returns no further cache updates happen.
func (e *Explorer) Stop() {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	e.types = nil
	clear(e.cache)
	e.postDiscoveries([]Discovery{})
	e.mu.Unlock()

	s.close()
	e.log.Debug("ssdp: explorer stopped")
}

// Restart stops and restarts with the types of the last Start.
func (e *Explorer) Restart() error {
	e.mu.RLock()
	types := e.lastTypes
	e.mu.RUnlock()
	if len(types) == 0 {
		return ErrNotRunning
	}
	e.Stop()
	return e.Start(types)
}

// Close stops exploring and shuts down notification delivery.
func (e *Explorer) Close() {
	e.Stop()
	e.queue.Close()
}

func (e *Explorer) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sess != nil
}

// Discoveries returns the cached discoveries ordered by USN.
func (e *Explorer) Discoveries() []Discovery {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Explorer) search(s *session, types []Type) {
	for _, t := range types {
		payload := searchRequest(t, e.opts.MX, e.opts.UserAgent)
		if _, err := s.ucast.WriteToUDP(payload, multicastAddr); err != nil {
			e.fail(s, upnperr.Transport("ssdp send M-SEARCH", err))
			return
		}
		e.log.Debug("ssdp: sent M-SEARCH", "st", t.String(), "dst", multicastAddr.String())
	}
}

func (e *Explorer) receive(s *session, conn udpConn) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			e.fail(s, upnperr.Transport("ssdp receive", err))
			return
		}
		e.handle(s, buf[:n], from)
	}
}

func (e *Explorer) handle(s *session, b []byte, from *net.UDPAddr) {
	msg, ok := parseMessage(b)
	if !ok {
		return
	}
	d, err := msg.discovery()
	if err != nil {
		e.log.Debug("ssdp: dropped message", "from", from.String(), "err", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != s || !e.wantsLocked(d.Type) {
		return
	}
	switch msg.kind {
	case kindByeBye:
		if _, ok := e.cache[d.USN]; !ok {
			return
		}
		delete(e.cache, d.USN)
		e.log.Debug("ssdp: byebye", "usn", d.USN.String())
	default:
		e.cache[d.USN] = d
		e.log.Debug("ssdp: discovery", "usn", d.USN.String(), "location", d.DescriptionURL.String())
	}
	e.postDiscoveries(e.snapshotLocked())
}

func (e *Explorer) fail(s *session, err error) {
	s.failOnce.Do(func() {
		e.mu.Lock()
		if e.sess != s {
			e.mu.Unlock()
			return
		}
		e.sess = nil
		e.types = nil
		e.mu.Unlock()

		s.close()
		e.log.Warn("ssdp: exploration failed", "err", err)
		e.queue.Post(func() {
			for _, o := range e.observerList() {
				o.DiscoveryFailed(err)
			}
		})
	})
}

func (e *Explorer) wantsLocked(t Type) bool {
	for _, want := range e.types {
		if want.Matches(t) {
			return true
		}
	}
	return false
}

func (e *Explorer) snapshotLocked() []Discovery {
	out := make([]Discovery, 0, len(e.cache))
	for _, d := range e.cache {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Discovery) int {
		return strings.Compare(a.USN.String(), b.USN.String())
	})
	return out
}

// postDiscoveries must be called with e.mu held so deliveries keep the order
// of the cache mutations that produced them.
func (e *Explorer) postDiscoveries(snapshot []Discovery) {
	e.queue.Post(func() {
		for _, o := range e.observerList() {
			o.DiscoveriesChanged(snapshot)
		}
	})
}

func (e *Explorer) observerList() []Observer {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	ids := make([]int, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.observers[id])
	}
	return out
}
