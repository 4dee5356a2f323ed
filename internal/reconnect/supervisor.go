// Package reconnect implements the reconnect supervisor (spec §4.9,
// component C8): when enabled on a session, an unsolicited disconnect
// triggers bounded exponential-backoff redial attempts against the
// session's connect target before the session is finally given up on.
//
// Grounded on the connect/disconnect/reconnect event-handler shape of
// go-server/pkg/nats/client.go (ConnectHandler/DisconnectErrHandler/
// ReconnectHandler/ErrorHandler), generalized from a NATS client's
// built-in reconnect loop to a supervisor driving session.StreamSession
// directly, since the core does not depend on nats.go (SPEC_FULL §2).
package reconnect

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/remotecore/internal/coremetrics"
	"github.com/adred-codev/remotecore/internal/session"
)

// Dialer establishes a fresh connection to a session's reconnect
// target. The caller supplies this; it is typically net.Dialer.DialContext
// bound to a specific network.
type Dialer func(ctx context.Context, targetAddr string) (net.Conn, error)

// Config tunes the supervisor's backoff schedule.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	return c
}

// Supervisor drives the reconnect loop for a single StreamSession. A
// session with ReconnectEnabled wires its failUnsolicited path to
// Supervisor.Run via session.SetReconnectTrigger (the wiring happens in
// cmd/remotecoredemo, not in package session, to avoid an import cycle
// between session and reconnect).
type Supervisor struct {
	sess    *session.StreamSession
	dial    Dialer
	cfg     Config
	logger  zerolog.Logger
	metrics *coremetrics.Registry
}

// New creates a supervisor for sess. dial is used to redial sess's
// ReconnectTargetAddr; window and backoff are read from sess's own
// ReconnectWindow plus cfg. metrics may be nil.
func New(sess *session.StreamSession, dial Dialer, cfg Config, logger zerolog.Logger, metrics *coremetrics.Registry) *Supervisor {
	return &Supervisor{
		sess:    sess,
		dial:    dial,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Run attempts to re-establish the session within its configured
// reconnect window (spec §4.9 steps 2-4). It is meant to be invoked
// as the session's reconnectTrigger, asynchronously from the I/O loop
// that detected the unsolicited failure — Run spawns its own goroutine
// and returns immediately.
func (sv *Supervisor) Run(reason error) {
	go sv.loop(reason)
}

func (sv *Supervisor) loop(reason error) {
	deadline := time.Now().Add(sv.sess.ReconnectWindow)
	backoff := sv.cfg.InitialBackoff

	for attempt := 1; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			sv.logger.Warn().
				Uint32("session_id", sv.sess.ID()).
				Err(reason).
				Msg("reconnect window exhausted, giving up")
			sv.sess.FailReconnectExhausted(reason)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), minDuration(remaining, sv.cfg.MaxBackoff))
		conn, err := sv.dial(ctx, sv.sess.ReconnectTargetAddr)
		cancel()
		if sv.metrics != nil {
			sv.metrics.ReconnectAttempt.Inc()
		}

		if err == nil {
			if rebindErr := sv.sess.Rebind(conn); rebindErr != nil {
				sv.logger.Error().Err(rebindErr).Msg("reconnect succeeded but rebind failed")
				conn.Close()
			} else {
				if sv.metrics != nil {
					sv.metrics.ReconnectSuccess.Inc()
				}
				sv.logger.Info().
					Uint32("session_id", sv.sess.ID()).
					Int("attempt", attempt).
					Msg("reconnect succeeded")
				return
			}
		} else {
			sv.logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("reconnect attempt failed, backing off")
		}

		wait := backoff
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if wait > 0 {
			time.Sleep(wait)
		}

		backoff = time.Duration(float64(backoff) * sv.cfg.BackoffFactor)
		if backoff > sv.cfg.MaxBackoff {
			backoff = sv.cfg.MaxBackoff
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
