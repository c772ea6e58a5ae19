package sniproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/log"
)

// Config describes one SNI proxy instance.
type Config struct {
	// Listen is the address for intercepted TLS traffic, typically
	// :8443 behind the iptables redirect.
	Listen string

	// APIBackend receives connections whose SNI matches an API host.
	APIBackend string

	// IngressBackend receives everything else, including connections
	// with no or unparseable SNI.
	IngressBackend string

	// APIHosts are the exact SNI names routed to APIBackend.
	APIHosts []string

	// MetricsListen serves Prometheus metrics when non-empty.
	MetricsListen string

	// HelloTimeout bounds how long a client may take to send its
	// ClientHello before the connection is dropped.
	HelloTimeout time.Duration

	// IdleTimeout resets per copied chunk; an exchange silent for this
	// long is closed. Zero disables the idle limit.
	IdleTimeout time.Duration
}

// Server is a TCP proxy that peeks at the TLS ClientHello to pick a
// backend and then splices bytes without terminating TLS.
type Server struct {
	cfg      Config
	apiHosts map[string]struct{}
	logger   zerolog.Logger

	// dial is swapped in tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewServer validates cfg and builds a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Listen == "" || cfg.APIBackend == "" || cfg.IngressBackend == "" {
		return nil, errors.New("listen, API backend and ingress backend addresses are required")
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}

	hosts := make(map[string]struct{}, len(cfg.APIHosts))
	for _, h := range cfg.APIHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}

	d := &net.Dialer{Timeout: 10 * time.Second}
	return &Server{
		cfg:      cfg,
		apiHosts: hosts,
		logger:   log.WithComponent("sniproxy"),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
	}, nil
}

// Start accepts connections until ctx is cancelled, then closes the
// listener and waits for in-flight connections to drain.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}

	var metricsServer *http.Server
	if s.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", MetricsHandler())
		metricsServer = &http.Server{Addr: s.cfg.MetricsListen, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		s.logger.Info().Str("addr", s.cfg.MetricsListen).Msg("metrics listening")
	}

	s.logger.Info().Str("addr", s.cfg.Listen).Msg("SNI proxy listening")

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}

	s.logger.Info().Msg("shutting down SNI proxy")
	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("failed to shut down metrics server")
		}
	}
	return nil
}

// handle reads the ClientHello, picks a backend and splices the two
// connections. The consumed hello bytes are replayed to the backend
// before live traffic flows.
func (s *Server) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	openConnections.Inc()
	defer openConnections.Dec()

	if err := client.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout)); err != nil {
		return
	}

	name, consumed, err := ReadServerName(client)
	if err != nil && !errors.Is(err, ErrNoServerName) {
		// Not parseable as TLS, or the client stalled. Routing it to
		// ingress anyway keeps plain-TCP health checks working.
		helloErrorsTotal.Inc()
		s.logger.Debug().Err(err).Str("client", client.RemoteAddr().String()).
			Msg("could not parse client hello")
	}
	client.SetReadDeadline(time.Time{})

	backend := s.routeFor(name)
	connectionsTotal.WithLabelValues(backend).Inc()

	upstream, err := s.dial(ctx, backend)
	if err != nil {
		dialErrorsTotal.WithLabelValues(backend).Inc()
		s.logger.Error().Err(err).Str("backend", backend).Msg("backend dial failed")
		return
	}
	defer upstream.Close()

	if len(consumed) > 0 {
		if _, err := upstream.Write(consumed); err != nil {
			s.logger.Debug().Err(err).Str("backend", backend).Msg("failed to replay client hello")
			return
		}
	}

	s.logger.Debug().
		Str("sni", name).
		Str("backend", backend).
		Str("client", client.RemoteAddr().String()).
		Msg("routing connection")

	s.splice(client, upstream)
}

// routeFor maps an SNI name to a backend address. Unknown and empty
// names go to ingress so the proxy fails open for regular traffic.
func (s *Server) routeFor(name string) string {
	if _, ok := s.apiHosts[strings.ToLower(name)]; ok {
		return s.cfg.APIBackend
	}
	return s.cfg.IngressBackend
}

// splice copies bytes both ways until either side closes.
func (s *Server) splice(client, upstream net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	copyHalf := func(dst, src net.Conn) {
		defer wg.Done()
		if s.cfg.IdleTimeout > 0 {
			src = &idleConn{Conn: src, timeout: s.cfg.IdleTimeout}
		}
		io.Copy(dst, src)
		// Half-close so the other direction can finish draining.
		if tc, ok := dst.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}

	go copyHalf(upstream, client)
	go copyHalf(client, upstream)
	wg.Wait()
}

// idleConn pushes the read deadline forward on every read.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
