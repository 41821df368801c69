package soap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"upnpctl/internal/upnperr"
)

// Responses larger than this are rejected; browse results on large servers
// stay well under it.
const maxResponseBytes = 8 << 20

// Doer is the subset of *http.Client the SOAP client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	HTTP      Doer
	UserAgent string
}

func NewClient(httpClient Doer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient}
}

// Call posts action to controlURL and returns the flattened response arguments.
func (c *Client) Call(ctx context.Context, controlURL, serviceURN, action string, args []Arg) (map[string]string, error) {
	op := action + " " + controlURL
	body := BuildEnvelope(action, serviceURN, args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
	if err != nil {
		return nil, upnperr.Transport(op, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, serviceURN, action))
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	slog.Debug("soap: request", "action", action, "url", controlURL, "args", len(args))
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, upnperr.Transport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, upnperr.Transport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if fault, ok := parseFault(raw); ok {
			return nil, fmt.Errorf("soap: %s: %w", op, fault)
		}
		return nil, upnperr.Transport(op, fmt.Errorf("status %s", resp.Status))
	}

	out, err := ParseEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("soap: %s: %w", op, err)
	}
	slog.Debug("soap: response", "action", action, "values", len(out))
	return out, nil
}
