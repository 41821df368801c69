package upnp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"upnpctl/internal/upnperr"
)

const maxDocumentBytes = 4 << 20

// Doer is the subset of *http.Client used for description and SCPD fetches.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func fetchDocument(ctx context.Context, doer Doer, u *url.URL) ([]byte, error) {
	op := "GET " + u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, upnperr.Transport(op, err)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, upnperr.Transport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upnperr.Transport(op, fmt.Errorf("status %s", resp.Status))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, upnperr.Transport(op, err)
	}
	return b, nil
}

// baseFor returns the directory of the description URL.
func baseFor(descriptionURL *url.URL) *url.URL {
	return descriptionURL.ResolveReference(&url.URL{Path: "./"})
}

func resolve(base *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(r), nil
}
