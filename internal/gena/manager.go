// Package gena manages UPnP event subscriptions: SUBSCRIBE, renewal before
// expiry, a single resubscribe when a subscription lapses, UNSUBSCRIBE, and
// the embedded HTTP server that receives NOTIFY callbacks.
package gena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"upnpctl/internal/dispatch"
)

var ErrClosed = errors.New("gena: manager closed")

const (
	DefaultTimeout      = 300 * time.Second
	DefaultRenewMargin  = 30 * time.Second
	DefaultCallbackPort = 52808

	requestTimeout = 10 * time.Second
	// notifyGrace bounds how long a NOTIFY with an unknown SID waits for an
	// in-flight SUBSCRIBE; devices often send the initial event before the
	// SUBSCRIBE response has been processed.
	notifyGrace = 2 * time.Second
)

// Subscription is a snapshot of one active subscription.
type Subscription struct {
	ID         string
	EventURL   string
	Expiration time.Time
	RenewAt    time.Time
}

// Subscriber receives events and terminal failures. Calls arrive on the
// manager's delivery goroutine, never on the HTTP server's goroutines.
type Subscriber interface {
	HandleEvent(sub Subscription, body []byte)
	SubscriptionFailed(sub Subscription, err error)
}

type Options struct {
	HTTP        Doer
	Timeout     time.Duration
	RenewMargin time.Duration
	// CallbackPort is the port of the embedded server; 0 picks a free port.
	CallbackPort int
	// CallbackHost overrides the address advertised in CALLBACK.
	CallbackHost string
	Clock        Clock
	Logger       *slog.Logger
}

type Manager struct {
	opts  Options
	log   *slog.Logger
	clock Clock
	path  string

	mu       sync.RWMutex
	subs     map[string]*entry // by event URL
	bySID    map[string]*entry
	inflight int
	changed  chan struct{}
	closed   bool

	srvMu  sync.Mutex
	server *callbackServer

	work    *dispatch.Queue
	deliver *dispatch.Queue
}

type entry struct {
	sub        Subscription
	subscriber Subscriber
	gen        uint64
	renew      Timer
	expire     Timer
}

func (e *entry) stopTimers() {
	if e.renew != nil {
		e.renew.Stop()
	}
	if e.expire != nil {
		e.expire.Stop()
	}
}

func NewManager(opts Options) *Manager {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: requestTimeout}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RenewMargin <= 0 {
		opts.RenewMargin = DefaultRenewMargin
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		opts:    opts,
		log:     log,
		clock:   opts.Clock,
		path:    "/Event/" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		subs:    map[string]*entry{},
		bySID:   map[string]*entry{},
		changed: make(chan struct{}),
		work:    dispatch.NewQueue(),
		deliver: dispatch.NewQueue(),
	}
}

// CallbackPath is the path NOTIFY requests are accepted on.
func (m *Manager) CallbackPath() string { return m.path }

// Subscribe returns the active subscription for eventURL, creating it if
// needed. Subscriptions are shared per URL, whichever subscriber asks first.
func (m *Manager) Subscribe(ctx context.Context, s Subscriber, eventURL string) (Subscription, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return Subscription{}, ErrClosed
	}
	if e := m.subs[eventURL]; e != nil {
		sub := e.sub
		m.mu.RUnlock()
		return sub, nil
	}
	m.mu.RUnlock()
	return m.trySubscribe(ctx, s, eventURL)
}

// Unsubscribe drops the subscription locally, then sends UNSUBSCRIBE. A
// failed UNSUBSCRIBE is only logged.
func (m *Manager) Unsubscribe(ctx context.Context, sub Subscription) {
	m.mu.Lock()
	e := m.subs[sub.EventURL]
	if e == nil {
		m.mu.Unlock()
		return
	}
	m.removeLocked(e)
	m.mu.Unlock()

	m.stopServerIfIdle()
	if err := sendUnsubscribe(ctx, m.opts.HTTP, e.sub.EventURL, e.sub.ID); err != nil {
		m.log.Warn("gena: unsubscribe failed", "url", e.sub.EventURL, "sid", e.sub.ID, "err", err)
	}
}

// Subscriptions returns the active subscriptions ordered by event URL.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, e := range m.subs {
		out = append(out, e.sub)
	}
	slices.SortFunc(out, func(a, b Subscription) int { return strings.Compare(a.EventURL, b.EventURL) })
	return out
}

// ServerRunning reports whether the callback server is up.
func (m *Manager) ServerRunning() bool {
	m.srvMu.Lock()
	defer m.srvMu.Unlock()
	return m.server != nil
}

// Close unsubscribes everything and stops the callback server.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.subs))
	for _, e := range m.subs {
		entries = append(entries, e)
	}
	for _, e := range entries {
		m.removeLocked(e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		if err := sendUnsubscribe(ctx, m.opts.HTTP, e.sub.EventURL, e.sub.ID); err != nil {
			m.log.Warn("gena: unsubscribe failed", "url", e.sub.EventURL, "err", err)
		}
	}

	m.srvMu.Lock()
	if m.server != nil {
		m.server.stop()
		m.server = nil
	}
	m.srvMu.Unlock()

	m.work.Close()
	m.deliver.Close()
}

func (m *Manager) trySubscribe(ctx context.Context, s Subscriber, eventURL string) (Subscription, error) {
	m.mu.Lock()
	m.inflight++
	m.mu.Unlock()

	sub, err := m.subscribe(ctx, s, eventURL)

	m.mu.Lock()
	m.inflight--
	m.broadcastLocked()
	m.mu.Unlock()

	if err != nil {
		m.stopServerIfIdle()
	}
	return sub, err
}

func (m *Manager) subscribe(ctx context.Context, s Subscriber, eventURL string) (Subscription, error) {
	cb, err := m.callbackURL(eventURL)
	if err != nil {
		return Subscription{}, err
	}
	g, err := sendSubscribe(ctx, m.opts.HTTP, eventURL, cb, m.opts.Timeout)
	if err != nil {
		return Subscription{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		go m.discard(eventURL, g.SID)
		return Subscription{}, ErrClosed
	}
	if existing := m.subs[eventURL]; existing != nil {
		go m.discard(eventURL, g.SID)
		return existing.sub, nil
	}

	e := &entry{
		sub: Subscription{
			ID:         g.SID,
			EventURL:   eventURL,
			Expiration: m.clock.Now().Add(g.Timeout),
		},
		subscriber: s,
	}
	m.subs[eventURL] = e
	m.bySID[g.SID] = e
	m.scheduleLocked(e)
	m.log.Debug("gena: subscribed", "url", eventURL, "sid", g.SID, "timeout", g.Timeout)
	return e.sub, nil
}

// discard cancels a subscription that lost a race and was never stored.
func (m *Manager) discard(eventURL, sid string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := sendUnsubscribe(ctx, m.opts.HTTP, eventURL, sid); err != nil {
		m.log.Debug("gena: discard duplicate subscription", "url", eventURL, "err", err)
	}
}

// scheduleLocked arms the renewal and expiration timers for e. Timer
// callbacks only post into the work queue; they never touch the maps.
func (m *Manager) scheduleLocked(e *entry) {
	e.stopTimers()
	e.gen++
	gen, url := e.gen, e.sub.EventURL

	now := m.clock.Now()
	lifetime := e.sub.Expiration.Sub(now)
	if lifetime < 0 {
		lifetime = 0
	}
	renewIn := lifetime - m.opts.RenewMargin
	if renewIn < lifetime/2 {
		renewIn = lifetime / 2
	}
	e.sub.RenewAt = now.Add(renewIn)

	e.renew = m.clock.AfterFunc(renewIn, func() {
		m.work.Post(func() { m.renew(url, gen) })
	})
	e.expire = m.clock.AfterFunc(lifetime, func() {
		m.work.Post(func() { m.expire(url, gen) })
	})
}

func (m *Manager) renew(url string, gen uint64) {
	m.mu.RLock()
	e := m.subs[url]
	if e == nil || e.gen != gen || m.closed {
		m.mu.RUnlock()
		return
	}
	sid := e.sub.ID
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	g, err := sendRenew(ctx, m.opts.HTTP, url, sid, m.opts.Timeout)
	if err != nil {
		// The expiration timer stays armed and resubscribes.
		m.log.Warn("gena: renew failed", "url", url, "sid", sid, "err", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[url] != e || e.gen != gen {
		return
	}
	if g.SID != sid {
		delete(m.bySID, sid)
		m.bySID[g.SID] = e
		e.sub.ID = g.SID
	}
	e.sub.Expiration = m.clock.Now().Add(g.Timeout)
	m.scheduleLocked(e)
	m.log.Debug("gena: renewed", "url", url, "sid", e.sub.ID, "timeout", g.Timeout)
}

func (m *Manager) expire(url string, gen uint64) {
	m.mu.Lock()
	e := m.subs[url]
	if e == nil || e.gen != gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.removeLocked(e)
	m.mu.Unlock()

	m.log.Info("gena: subscription expired, resubscribing", "url", url)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := m.trySubscribe(ctx, e.subscriber, url); err != nil {
		m.log.Warn("gena: resubscribe failed", "url", url, "err", err)
		old, s := e.sub, e.subscriber
		m.deliver.Post(func() { s.SubscriptionFailed(old, err) })
	}
}

func (m *Manager) removeLocked(e *entry) {
	e.stopTimers()
	e.gen++
	delete(m.subs, e.sub.EventURL)
	if m.bySID[e.sub.ID] == e {
		delete(m.bySID, e.sub.ID)
	}
}

func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) callbackURL(eventURL string) (string, error) {
	m.srvMu.Lock()
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		m.srvMu.Unlock()
		return "", ErrClosed
	}
	if m.server == nil {
		srv, err := startCallbackServer(m.opts.CallbackPort, m.path, m.handleNotify, m.log)
		if err != nil {
			m.srvMu.Unlock()
			return "", err
		}
		m.server = srv
	}
	port := m.server.port()
	m.srvMu.Unlock()

	host := m.opts.CallbackHost
	if host == "" {
		var err error
		if host, err = localAddrFor(eventURL); err != nil {
			return "", fmt.Errorf("gena: callback address for %s: %w", eventURL, err)
		}
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + m.path, nil
}

// stopServerIfIdle stops the callback server once no subscription exists or
// is being set up. Lock order is srvMu, then mu.
func (m *Manager) stopServerIfIdle() {
	m.srvMu.Lock()
	defer m.srvMu.Unlock()
	m.mu.RLock()
	idle := len(m.subs) == 0 && m.inflight == 0
	m.mu.RUnlock()
	if !idle || m.server == nil {
		return
	}
	m.server.stop()
	m.server = nil
	m.log.Debug("gena: callback server stopped")
}

func (m *Manager) handleNotify(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.Header.Get("SID"))
	sub, s, ok := m.lookupSID(r.Context(), sid)
	if !ok {
		m.log.Debug("gena: notify for unknown subscription", "sid", sid)
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	body, err := readEventBody(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.deliver.Post(func() { s.HandleEvent(sub, body) })
	w.WriteHeader(http.StatusOK)
}

func (m *Manager) lookupSID(ctx context.Context, sid string) (Subscription, Subscriber, bool) {
	if sid == "" {
		return Subscription{}, nil, false
	}
	grace := time.NewTimer(notifyGrace)
	defer grace.Stop()
	for {
		m.mu.RLock()
		e := m.bySID[sid]
		var (
			sub Subscription
			s   Subscriber
		)
		if e != nil {
			sub, s = e.sub, e.subscriber
		}
		pending, changed := m.inflight > 0, m.changed
		m.mu.RUnlock()

		if e != nil {
			return sub, s, true
		}
		if !pending {
			return Subscription{}, nil, false
		}
		select {
		case <-changed:
		case <-grace.C:
			return Subscription{}, nil, false
		case <-ctx.Done():
			return Subscription{}, nil, false
		}
	}
}
