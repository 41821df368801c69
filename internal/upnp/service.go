package upnp

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"upnpctl/internal/gena"
	"upnpctl/internal/soap"
	"upnpctl/internal/ssdp"
	"upnpctl/internal/upnperr"
)

var ErrNoEvents = errors.New("upnp: event subscriptions not configured")

const unsubscribeTimeout = 5 * time.Second

type Service struct {
	Object

	ServiceID  string
	SCPDURL    *url.URL
	ControlURL *url.URL
	EventURL   *url.URL
	// DeviceUSN names the owning device; resolve it with Device.
	DeviceUSN ssdp.USN

	env *env

	actionsMu sync.RWMutex
	actions   map[string]bool
	probe     singleflight.Group

	subMu sync.Mutex
	sub   *gena.Subscription

	obsMu     sync.RWMutex
	observers map[uint64]func(Event)
	nextObs   uint64
}

func (s *Service) ServiceInfo() *Service { return s }

// ServiceType is the service URN.
func (s *Service) ServiceType() string { return s.URN() }

// Device resolves the owning device through the registry.
func (s *Service) Device() (DeviceObject, bool) {
	if s.env == nil || s.env.lookup == nil {
		return nil, false
	}
	return s.env.lookup.DeviceFor(s.DeviceUSN)
}

func newService(e *env, usn ssdp.USN, descriptionURL *url.URL, xml []byte) (*Service, error) {
	urlBase, m, err := parseServiceDescription(xml, usn.UUID(), usn.URN())
	if err != nil {
		return nil, err
	}
	for _, k := range []string{"serviceId", "SCPDURL", "controlURL", "eventSubURL"} {
		if m.service[k] == "" {
			return nil, upnperr.Construction("service %s: missing %s", usn, k)
		}
	}
	if m.deviceType == "" {
		return nil, upnperr.Construction("service %s: owning device has no deviceType", usn)
	}
	deviceUSN, err := ssdp.NewUSN(usn.UUID(), m.deviceType)
	if err != nil {
		return nil, upnperr.Construction("service %s: %v", usn, err)
	}
	base, err := chooseBase(descriptionURL, urlBase)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Object:    Object{USN: usn, DescriptionURL: descriptionURL, BaseURL: base},
		ServiceID: m.service["serviceId"],
		DeviceUSN: deviceUSN,
		env:       e,
		observers: map[uint64]func(Event){},
	}
	for _, f := range []struct {
		ref string
		dst **url.URL
	}{
		{m.service["SCPDURL"], &s.SCPDURL},
		{m.service["controlURL"], &s.ControlURL},
		{m.service["eventSubURL"], &s.EventURL},
	} {
		u, err := resolve(base, f.ref)
		if err != nil {
			return nil, upnperr.Construction("service %s: bad URL %q", usn, f.ref)
		}
		*f.dst = u
	}
	return s, nil
}

// Invoke calls action on the service's control URL.
func (s *Service) Invoke(ctx context.Context, action string, args ...soap.Arg) (map[string]string, error) {
	return s.env.soap.Call(ctx, s.ControlURL.String(), s.ServiceType(), action, args)
}

// InvokeOptional calls an optional action after checking the SCPD lists it.
func (s *Service) InvokeOptional(ctx context.Context, action string, args ...soap.Arg) (map[string]string, error) {
	if !s.SupportsAction(ctx, action) {
		return nil, &upnperr.UnsupportedActionError{ServiceType: s.ServiceType(), Action: action}
	}
	return s.Invoke(ctx, action, args...)
}

// SupportsAction reports whether the service's SCPD declares action. The
// action list is fetched once and kept for the lifetime of the service; a
// failed fetch reports false and is retried on the next call.
func (s *Service) SupportsAction(ctx context.Context, action string) bool {
	s.actionsMu.RLock()
	actions := s.actions
	s.actionsMu.RUnlock()
	if actions != nil {
		return actions[action]
	}

	v, err, _ := s.probe.Do("scpd", func() (any, error) {
		b, err := fetchDocument(ctx, s.env.http, s.SCPDURL)
		if err != nil {
			return nil, err
		}
		actions, err := parseSCPD(b)
		if err != nil {
			return nil, err
		}
		s.actionsMu.Lock()
		s.actions = actions
		s.actionsMu.Unlock()
		return actions, nil
	})
	if err != nil {
		s.env.log.Warn("upnp: scpd probe failed", "service", s.USN.String(), "err", err)
		return false
	}
	return v.(map[string]bool)[action]
}

// AddEventObserver registers f for this service's events. The first observer
// subscribes; removing the last one unsubscribes. f runs on the event
// delivery goroutine.
func (s *Service) AddEventObserver(ctx context.Context, f func(Event)) (remove func(), err error) {
	if s.env.events == nil {
		return nil, ErrNoEvents
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = f
	s.obsMu.Unlock()

	if s.sub == nil {
		sub, err := s.env.events.Subscribe(ctx, serviceSubscriber{s}, s.EventURL.String())
		if err != nil {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
			return nil, err
		}
		s.sub = &sub
	}

	var once sync.Once
	return func() { once.Do(func() { s.removeEventObserver(id) }) }, nil
}

func (s *Service) removeEventObserver(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.obsMu.Lock()
	delete(s.observers, id)
	empty := len(s.observers) == 0
	s.obsMu.Unlock()

	if !empty || s.sub == nil {
		return
	}
	sub := *s.sub
	s.sub = nil
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	s.env.events.Unsubscribe(ctx, sub)
}

func (s *Service) deliver(ev Event) {
	s.obsMu.RLock()
	fs := make([]func(Event), 0, len(s.observers))
	for _, f := range s.observers {
		fs = append(fs, f)
	}
	s.obsMu.RUnlock()
	for _, f := range fs {
		f(ev)
	}
}

// serviceSubscriber adapts a Service to gena.Subscriber.
type serviceSubscriber struct{ s *Service }

func (a serviceSubscriber) HandleEvent(_ gena.Subscription, body []byte) {
	ev, err := ParseEvent(body)
	if err != nil {
		a.s.env.log.Debug("upnp: bad event body", "service", a.s.USN.String(), "err", err)
		ev = Event{ParseErr: err}
	}
	ev.Service = a.s.USN
	ev.Raw = body
	a.s.deliver(ev)
}

func (a serviceSubscriber) SubscriptionFailed(_ gena.Subscription, err error) {
	a.s.subMu.Lock()
	a.s.sub = nil
	a.s.subMu.Unlock()
	a.s.env.log.Warn("upnp: event subscription failed", "service", a.s.USN.String(), "err", err)
	a.s.deliver(Event{Service: a.s.USN, Err: err})
}
