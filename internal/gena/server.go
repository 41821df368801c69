package gena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const maxEventBytes = 1 << 20

func init() {
	chi.RegisterMethod("NOTIFY")
}

// callbackServer is the embedded HTTP server receiving NOTIFY requests.
type callbackServer struct {
	ln   net.Listener
	srv  *http.Server
	done chan struct{}
}

func startCallbackServer(port int, path string, notify http.HandlerFunc, log *slog.Logger) (*callbackServer, error) {
	ln, err := net.Listen("tcp4", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("gena: callback listen: %w", err)
	}

	r := chi.NewRouter()
	r.MethodFunc("NOTIFY", path, notify)

	cs := &callbackServer{
		ln: ln,
		srv: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan struct{}),
	}
	go func() {
		defer close(cs.done)
		if err := cs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("gena: callback server stopped", "err", err)
		}
	}()
	log.Debug("gena: callback server started", "addr", ln.Addr().String(), "path", path)
	return cs, nil
}

func (cs *callbackServer) port() int {
	return cs.ln.Addr().(*net.TCPAddr).Port
}

func (cs *callbackServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cs.srv.Shutdown(ctx); err != nil {
		_ = cs.srv.Close()
	}
	<-cs.done
}

// localAddrFor returns the local IPv4 address used to reach the host of
// eventURL; devices call back on that address. Replaced in tests.
var localAddrFor = func(eventURL string) (string, error) {
	u, err := url.Parse(eventURL)
	if err != nil {
		return "", err
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	c, err := net.Dial("udp4", host)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func readEventBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
}
