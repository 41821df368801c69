package gena

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) fire(t *fakeTimer) {
	c.mu.Lock()
	t.fired = true
	c.mu.Unlock()
	t.f()
}

// activeDurations returns the armed timers, renew first then expire.
func activeDurations(c *fakeClock) []time.Duration {
	var out []time.Duration
	for _, t := range c.active() {
		out = append(out, t.d)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingSubscriber struct {
	events   chan []byte
	failures chan error
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{events: make(chan []byte, 8), failures: make(chan error, 8)}
}

func (r *recordingSubscriber) HandleEvent(_ Subscription, body []byte) { r.events <- body }

func (r *recordingSubscriber) SubscriptionFailed(_ Subscription, err error) { r.failures <- err }

// fakeDevice is a scripted GENA event endpoint.
type fakeDevice struct {
	mu          sync.Mutex
	subscribes  int
	renews      int
	unsubs      []string
	callback    string
	subStatus   []int
	renewStatus int
	renewTO     string
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case r.Method == "UNSUBSCRIBE":
		d.unsubs = append(d.unsubs, r.Header.Get("SID"))
	case r.Method == "SUBSCRIBE" && r.Header.Get("SID") != "":
		d.renews++
		if d.renewStatus != 0 {
			w.WriteHeader(d.renewStatus)
			return
		}
		w.Header().Set("TIMEOUT", d.renewTO)
	case r.Method == "SUBSCRIBE":
		d.subscribes++
		d.callback = strings.Trim(r.Header.Get("CALLBACK"), "<>")
		if n := d.subscribes - 1; n < len(d.subStatus) && d.subStatus[n] != 0 {
			w.WriteHeader(d.subStatus[n])
			return
		}
		w.Header().Set("SID", "uuid:sub-"+string(rune('0'+d.subscribes)))
		w.Header().Set("TIMEOUT", "Second-300")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d *fakeDevice) counts() (subscribes, renews int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribes, d.renews
}

func newTestManager(t *testing.T, dev *fakeDevice) (*Manager, *fakeClock, string) {
	t.Helper()
	srv := httptest.NewServer(dev)
	t.Cleanup(srv.Close)
	clock := newFakeClock()
	m := NewManager(Options{
		HTTP:         srv.Client(),
		CallbackHost: "127.0.0.1",
		Clock:        clock,
	})
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, clock, srv.URL + "/evt"
}

func TestManagerRenewsThenResubscribesOnce(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{renewStatus: http.StatusInternalServerError, subStatus: []int{0, http.StatusServiceUnavailable}}
	m, clock, eventURL := newTestManager(t, dev)
	s := newRecordingSubscriber()

	sub, err := m.Subscribe(context.Background(), s, eventURL)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.ID != "uuid:sub-1" {
		t.Fatalf("unexpected SID %q", sub.ID)
	}
	if got := sub.RenewAt.Sub(clock.Now()); got != 270*time.Second {
		t.Fatalf("renewal scheduled at %v, want 270s", got)
	}
	timers := clock.active()
	if len(timers) != 2 || timers[0].d != 270*time.Second || timers[1].d != 300*time.Second {
		t.Fatalf("unexpected timers: %v", activeDurations(clock))
	}
	if !m.ServerRunning() {
		t.Fatalf("callback server should be running")
	}

	clock.fire(timers[0])
	waitFor(t, "renewal attempt", func() bool { _, r := dev.counts(); return r == 1 })

	clock.fire(timers[1])
	select {
	case err := <-s.failures:
		if err == nil {
			t.Fatalf("expected failure error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("subscriber was not told about the failure")
	}

	subs, renews := dev.counts()
	if subs != 2 || renews != 1 {
		t.Fatalf("expected 2 subscribes and 1 renewal, got %d and %d", subs, renews)
	}
	if len(m.Subscriptions()) != 0 {
		t.Fatalf("failed subscription should be dropped")
	}
	if m.ServerRunning() {
		t.Fatalf("callback server should stop once idle")
	}
	if left := clock.active(); len(left) != 0 {
		t.Fatalf("no further attempts expected, timers armed: %v", activeDurations(clock))
	}
}

func TestManagerRenewalReschedules(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{renewTO: "Second-120"}
	m, clock, eventURL := newTestManager(t, dev)

	if _, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	clock.fire(clock.active()[0])

	waitFor(t, "rescheduled timers", func() bool {
		d := activeDurations(clock)
		return len(d) == 2 && d[0] == 90*time.Second && d[1] == 120*time.Second
	})
	subs := m.Subscriptions()
	if len(subs) != 1 || subs[0].ID != "uuid:sub-1" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
}

func TestManagerShortGrantRenewsAtHalfLife(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{renewTO: "Second-40"}
	m, clock, eventURL := newTestManager(t, dev)

	if _, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	clock.fire(clock.active()[0])

	// 40s minus the 30s margin would renew after 10s; half the grant wins.
	waitFor(t, "rescheduled timers", func() bool {
		d := activeDurations(clock)
		return len(d) == 2 && d[0] == 20*time.Second && d[1] == 40*time.Second
	})
	subs := m.Subscriptions()
	if len(subs) != 1 || subs[0].RenewAt.Sub(clock.Now()) != 20*time.Second {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
}

func TestManagerSubscribeIsSharedPerURL(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m, _, eventURL := newTestManager(t, dev)

	a, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected shared subscription, got %q and %q", a.ID, b.ID)
	}
	if subs, _ := dev.counts(); subs != 1 {
		t.Fatalf("expected one SUBSCRIBE, got %d", subs)
	}
}

func TestManagerRoutesNotify(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m, _, eventURL := newTestManager(t, dev)
	s := newRecordingSubscriber()

	sub, err := m.Subscribe(context.Background(), s, eventURL)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	dev.mu.Lock()
	callback := dev.callback
	dev.mu.Unlock()
	if !strings.HasPrefix(callback, "http://127.0.0.1:") || !strings.HasSuffix(callback, m.CallbackPath()) {
		t.Fatalf("unexpected callback URL %q", callback)
	}

	notify := func(sid, body string) int {
		req, _ := http.NewRequest("NOTIFY", callback, strings.NewReader(body))
		req.Header.Set("SID", sid)
		req.Header.Set("NT", "upnp:event")
		req.Header.Set("NTS", "upnp:propchange")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("NOTIFY: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := notify(sub.ID, "<e:propertyset/>"); code != http.StatusOK {
		t.Fatalf("NOTIFY status %d", code)
	}
	select {
	case body := <-s.events:
		if string(body) != "<e:propertyset/>" {
			t.Fatalf("unexpected body %q", body)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("event not delivered")
	}

	if code := notify("uuid:unknown", "<x/>"); code != http.StatusPreconditionFailed {
		t.Fatalf("unknown SID status %d", code)
	}

	m.Unsubscribe(context.Background(), sub)
	dev.mu.Lock()
	unsubs := append([]string(nil), dev.unsubs...)
	dev.mu.Unlock()
	if len(unsubs) != 1 || unsubs[0] != sub.ID {
		t.Fatalf("unexpected UNSUBSCRIBE calls: %v", unsubs)
	}
	if m.ServerRunning() {
		t.Fatalf("callback server should stop after the last unsubscribe")
	}
}

func TestManagerInitialSubscribeFailureStopsServer(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{subStatus: []int{http.StatusInternalServerError}}
	m, _, eventURL := newTestManager(t, dev)

	if _, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL); err == nil {
		t.Fatalf("expected error")
	}
	if m.ServerRunning() {
		t.Fatalf("callback server should not outlive a failed subscribe")
	}
}

func TestManagerClose(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	m, _, eventURL := newTestManager(t, dev)

	if _, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	m.Close(context.Background())

	dev.mu.Lock()
	n := len(dev.unsubs)
	dev.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one UNSUBSCRIBE on close, got %d", n)
	}
	if m.ServerRunning() {
		t.Fatalf("callback server should be stopped")
	}
	if _, err := m.Subscribe(context.Background(), newRecordingSubscriber(), eventURL); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
