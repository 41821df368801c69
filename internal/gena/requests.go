package gena

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"upnpctl/internal/upnperr"
)

// Doer is the subset of *http.Client used for GENA requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type grant struct {
	SID     string
	Timeout time.Duration
}

func parseSecondTimeout(h string) (time.Duration, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	if strings.EqualFold(h, "infinite") || strings.EqualFold(h, "second-infinite") {
		return 0, true
	}
	h = strings.TrimPrefix(strings.ToLower(h), "second-")
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func formatTimeout(d time.Duration) string {
	return fmt.Sprintf("Second-%d", int(d.Seconds()))
}

func sendSubscribe(ctx context.Context, doer Doer, eventURL, callbackURL string, timeout time.Duration) (grant, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return grant{}, upnperr.Transport("SUBSCRIBE "+eventURL, err)
	}
	req.Header.Set("CALLBACK", "<"+callbackURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", formatTimeout(timeout))
	return doSubscribe(doer, req, "SUBSCRIBE "+eventURL, timeout)
}

func sendRenew(ctx context.Context, doer Doer, eventURL, sid string, timeout time.Duration) (grant, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return grant{}, upnperr.Transport("RENEW "+eventURL, err)
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", formatTimeout(timeout))
	g, err := doSubscribe(doer, req, "RENEW "+eventURL, timeout)
	if err == nil && g.SID == "" {
		g.SID = sid
	}
	return g, err
}

// doSubscribe runs a SUBSCRIBE or renewal and validates the grant. An
// infinite grant is tracked with the requested timeout so it is still renewed.
func doSubscribe(doer Doer, req *http.Request, op string, requested time.Duration) (grant, error) {
	resp, err := doer.Do(req)
	if err != nil {
		return grant{}, upnperr.Transport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return grant{}, upnperr.Transport(op, fmt.Errorf("status %s", resp.Status))
	}

	sid := strings.TrimSpace(resp.Header.Get("SID"))
	renewal := req.Header.Get("SID") != ""
	if sid == "" && !renewal {
		return grant{}, upnperr.Protocol(op, "response missing SID header")
	}
	to, ok := parseSecondTimeout(resp.Header.Get("TIMEOUT"))
	if !ok {
		return grant{}, upnperr.Protocol(op, "bad TIMEOUT header %q", resp.Header.Get("TIMEOUT"))
	}
	if to == 0 {
		to = requested
	}
	return grant{SID: sid, Timeout: to}, nil
}

func sendUnsubscribe(ctx context.Context, doer Doer, eventURL, sid string) error {
	op := "UNSUBSCRIBE " + eventURL
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", eventURL, nil)
	if err != nil {
		return upnperr.Transport(op, err)
	}
	req.Header.Set("SID", sid)
	resp, err := doer.Do(req)
	if err != nil {
		return upnperr.Transport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPreconditionFailed {
		// Device rebooted or already dropped the subscription.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upnperr.Transport(op, fmt.Errorf("status %s", resp.Status))
	}
	return nil
}
