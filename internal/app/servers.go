package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/eventfeed"
	"github.com/rbright/hark/internal/metrics"
)

const shutdownTimeout = 2 * time.Second

// httpServers are the optional metrics and event feed listeners of an owner process.
type httpServers struct {
	log     zerolog.Logger
	servers []*http.Server
	addrs   map[string]string
}

func startHTTPServers(cfg config.Config, m *metrics.Metrics, hub *eventfeed.Hub, log zerolog.Logger) (*httpServers, error) {
	hs := &httpServers{log: log, addrs: make(map[string]string)}

	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if err := hs.listen("metrics", addr, mux); err != nil {
			hs.shutdown()
			return nil, err
		}
	}
	if addr := strings.TrimSpace(cfg.EventFeed.Listen); addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.EventFeed.Path, hub)
		if err := hs.listen("eventfeed", addr, mux); err != nil {
			hs.shutdown()
			return nil, err
		}
	}
	return hs, nil
}

func (hs *httpServers) listen(name string, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	hs.servers = append(hs.servers, srv)
	hs.addrs[name] = ln.Addr().String()
	hs.log.Info().Str("server", name).Str("addr", ln.Addr().String()).Msg("http listener started")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.log.Error().Err(err).Str("server", name).Msg("http listener failed")
		}
	}()
	return nil
}

// addr reports the bound address of a named listener, or "".
func (hs *httpServers) addr(name string) string {
	return hs.addrs[name]
}

func (hs *httpServers) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range hs.servers {
		if err := srv.Shutdown(ctx); err != nil {
			hs.log.Warn().Err(err).Msg("http listener shutdown")
		}
	}
	hs.servers = nil
}
