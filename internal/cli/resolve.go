package cli

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"upnpctl/internal/ssdp"
	"upnpctl/internal/upnp"
)

// serviceUSN returns raw when it names a service, otherwise the USN of the
// service of type urn on the device raw names.
func serviceUSN(raw, urn string) (ssdp.USN, error) {
	u, err := ssdp.ParseUSN(raw)
	if err != nil {
		return ssdp.USN{}, UsageError{Msg: fmt.Sprintf("invalid USN %q", raw)}
	}
	if t, err := ssdp.ParseType(u.URN()); err == nil && t.Kind() == ssdp.KindService {
		return u, nil
	}
	if urn == "" {
		return ssdp.USN{}, UsageError{Msg: fmt.Sprintf("%s is not a service USN; pass --service-type", raw)}
	}
	return ssdp.NewUSN(u.UUID(), urn)
}

// findService builds the service from its description location, or from a
// remembered one, or discovers it on the network. cp should search for the
// service type so the wait stays short.
func (a *app) findService(ctx context.Context, cp *upnp.ControlPoint, usn ssdp.USN, location string, wait time.Duration) (upnp.ServiceObject, error) {
	reg := cp.Registry()

	if location != "" {
		u, err := url.Parse(location)
		if err != nil || u.Host == "" {
			return nil, UsageError{Msg: fmt.Sprintf("invalid --location %q", location)}
		}
		s, err := createService(ctx, reg, usn, u)
		if err != nil {
			return nil, err
		}
		a.rememberService(s)
		return s, nil
	}

	if remembered := a.rememberedLocation(usn); remembered != "" {
		var s upnp.ServiceObject
		u, err := url.Parse(remembered)
		if err == nil {
			s, err = createService(ctx, reg, usn, u)
		}
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.out.Debug(fmt.Sprintf("remembered location for %s is stale: %v", usn, err))
		a.forgetLocation(usn)
	}

	found := make(chan upnp.ServiceObject, 1)
	remove := reg.AddObserver(func(c upnp.Change) {
		if c.Kind == upnp.ServiceAdded && c.Service.Identity().USN == usn {
			select {
			case found <- c.Service:
			default:
			}
		}
	})
	defer remove()

	if err := cp.Start(); err != nil {
		return nil, err
	}
	if s, ok := reg.ServiceFor(usn); ok {
		a.rememberService(s)
		return s, nil
	}
	a.out.Debug("waiting for " + usn.String())

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case s := <-found:
		a.rememberService(s)
		return s, nil
	case <-t.C:
		return nil, fmt.Errorf("%s not found within %v", usn, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func createService(ctx context.Context, reg *upnp.Registry, usn ssdp.USN, u *url.URL) (upnp.ServiceObject, error) {
	obj, err := reg.CreateObject(ctx, usn, u)
	if err != nil {
		return nil, err
	}
	s, ok := obj.(upnp.ServiceObject)
	if !ok {
		return nil, fmt.Errorf("%s is not a service", usn)
	}
	return s, nil
}
