// Command remotecoredemo wires the messaging core into a runnable
// binary: config, logging, metrics, the message LUT, buffer pool,
// stream + datagram listeners, the reconnect supervisor, and a
// side HTTP server for health/metrics. Grounded on the shutdown and
// HTTP-server shape of go-server-3/cmd/odin-ws/main.go, generalized
// from a single WebSocket transport server to the core's dual
// stream/datagram listeners.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/remotecore/internal/bufpool"
	"github.com/adred-codev/remotecore/internal/coreconfig"
	"github.com/adred-codev/remotecore/internal/corelog"
	"github.com/adred-codev/remotecore/internal/coremetrics"
	"github.com/adred-codev/remotecore/internal/demoproto"
	"github.com/adred-codev/remotecore/internal/listener"
	"github.com/adred-codev/remotecore/internal/reconnect"
	"github.com/adred-codev/remotecore/internal/rpc"
	"github.com/adred-codev/remotecore/internal/session"
	"github.com/adred-codev/remotecore/internal/transducer"
	"github.com/adred-codev/remotecore/internal/wire"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := coreconfig.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := corelog.New(corelog.Config{
		Level:  cfg.LogLevel,
		Format: corelog.Format(cfg.LogFormat),
	})

	metricsRegistry := coremetrics.NewRegistry()
	lut := wire.New()
	demoproto.Register(lut)
	bufPool := bufpool.New(cfg.BufferPoolChunkSize, metricsRegistry)
	transducerQ := transducer.New()

	app := newDemoApp(logger, metricsRegistry)

	sessOpts := session.Options{
		LUT:           lut,
		BufPool:       bufPool,
		Metrics:       metricsRegistry,
		Logger:        logger,
		Receiver:      session.ReceiverFunc(app.dealMessage),
		Transducer:    transducerQ,
		RPCTimeout:    time.Duration(cfg.RPCTimeoutMs) * time.Millisecond,
		MaxPacketSize: cfg.MaxPacketSize,

		ReconnectEnabled:    cfg.IsReconnect,
		ReconnectWindow:     time.Duration(cfg.ReconnectWindowMs) * time.Millisecond,
		ReconnectTargetAddr: cfg.StreamListenAddr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamLn, err := net.Listen("tcp", cfg.StreamListenAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.StreamListenAddr).Msg("failed to bind stream listener")
	}
	streamListener := listener.NewStreamListener(streamLn, sessOpts)
	logger.Info().Str("addr", streamLn.Addr().String()).Msg("stream listener started")

	datagramConn, err := net.ListenPacket("udp", cfg.DatagramListenAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.DatagramListenAddr).Msg("failed to bind datagram listener")
	}
	datagramListener := listener.NewDatagramListener(datagramConn, listener.DatagramListenerOptions{
		SessionOptions:       sessOpts,
		HandshakeTimeout:     time.Duration(cfg.HandshakeTimeoutMs) * time.Millisecond,
		Logger:               logger,
		HandshakeIPBurst:     cfg.HandshakeIPBurst,
		HandshakeIPRate:      cfg.HandshakeIPRate,
		HandshakeGlobalBurst: cfg.HandshakeGlobalBurst,
		HandshakeGlobalRate:  cfg.HandshakeGlobalRate,
	})
	logger.Info().Str("addr", datagramConn.LocalAddr().String()).Msg("datagram listener started")

	go func() {
		if err := datagramListener.Serve(ctx); err != nil {
			logger.Warn().Err(err).Msg("datagram listener stopped")
		}
	}()

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	dial := func(dctx context.Context, addr string) (net.Conn, error) {
		return dialer.DialContext(dctx, "tcp", addr)
	}

	go acceptStreamSessions(ctx, streamListener, app, dial, logger, metricsRegistry)
	go acceptDatagramSessions(ctx, datagramListener, app, logger)
	go app.drainLoop(ctx, transducerQ)
	go app.sweepLoop(ctx)
	go metricsRegistry.RunProcessSampler(ctx, 10*time.Second)

	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- runHTTPServer(ctx, cfg, app, metricsRegistry, logger) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
		stop()
	}

	streamListener.Close()
	datagramListener.Close()
	app.closeAll()
	logger.Info().Msg("remotecore demo stopped")
}

// demoApp is the application context: it owns the receiver callback,
// the set of live sessions (for sweeping and shutdown), and drains the
// transducer queue on its own tick goroutine (spec §4.5, §5 — no
// component outside this tick may call Drain).
type demoApp struct {
	logger  zerolog.Logger
	metrics *coremetrics.Registry

	mu       sync.Mutex
	sessions map[uint32]closableSession
}

type closableSession interface {
	ID() uint32
	RPCPool() *rpc.Pool
	Close() error
}

func newDemoApp(logger zerolog.Logger, metrics *coremetrics.Registry) *demoApp {
	return &demoApp{
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[uint32]closableSession),
	}
}

func (a *demoApp) track(s closableSession) {
	a.mu.Lock()
	a.sessions[s.ID()] = s
	a.mu.Unlock()
}

func (a *demoApp) untrack(id uint32) {
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}

func (a *demoApp) closeAll() {
	a.mu.Lock()
	sessions := make([]closableSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (a *demoApp) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// dealMessage is the Receiver callback invoked on the application
// context for every decoded inbound message (spec §6 Receiver
// capability). Ping returns a Pong and Echo returns a Result; the
// session sends a returned reply back only when the inbound message
// arrived as an RPC request (positive rpcId), so a one-way Ping gets
// no Pong.
func (a *demoApp) dealMessage(s *session.Session, msg any) (any, bool) {
	switch m := msg.(type) {
	case demoproto.PingMessage:
		return demoproto.PongMessage{ClientTime: m.ClientTime, ServerTime: time.Now().UnixMilli()}, true
	case demoproto.EchoRequest:
		return demoproto.ResultMessage{Payload: m.Payload}, true
	default:
		a.logger.Warn().Interface("message", msg).Uint32("session_id", s.ID()).Msg("unhandled message type")
		return nil, false
	}
}

func (a *demoApp) drainLoop(ctx context.Context, q *transducer.Queue) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Drain(0)
			return
		case <-ticker.C:
			q.Drain(0)
		}
	}
}

func (a *demoApp) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.mu.Lock()
			sessions := make([]closableSession, 0, len(a.sessions))
			for _, s := range a.sessions {
				sessions = append(sessions, s)
			}
			a.mu.Unlock()
			for _, s := range sessions {
				s.RPCPool().Sweep(now)
			}
		}
	}
}

func acceptStreamSessions(ctx context.Context, ln *listener.StreamListener, app *demoApp, dial reconnect.Dialer, logger zerolog.Logger, metrics *coremetrics.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, err := ln.Listen()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Error().Err(err).Msg("stream accept failed")
			continue
		}

		if sess.ReconnectEnabled {
			sv := reconnect.New(sess, dial, reconnect.Config{}, logger, metrics)
			sess.SetReconnectTrigger(sv.Run)
		}

		id := sess.ID()
		app.track(sess)
		sess.OnDisconnect(func(reason error) { app.untrack(id) })

		if err := sess.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to start accepted stream session")
			app.untrack(id)
			continue
		}
		logger.Info().Uint32("session_id", id).Str("remote", sess.RemoteAddr().String()).Msg("stream session accepted")
	}
}

func acceptDatagramSessions(ctx context.Context, ln *listener.DatagramListener, app *demoApp, logger zerolog.Logger) {
	for {
		sess, err := ln.ListenAsync(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Warn().Err(err).Msg("datagram accept failed")
			continue
		}

		id := sess.ID()
		app.track(sess)
		sess.OnDisconnect(func(reason error) { app.untrack(id) })
		logger.Info().Uint32("session_id", id).Str("remote", sess.PeerAddr().String()).Msg("datagram session accepted")
	}
}

func runHTTPServer(ctx context.Context, cfg *coreconfig.Config, app *demoApp, metricsRegistry *coremetrics.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":   "healthy",
			"sessions": app.count(),
		})
	})
	mux.Handle("/metrics", metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics http server starting")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics http server shutdown error")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
