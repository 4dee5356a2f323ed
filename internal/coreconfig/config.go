// Package coreconfig loads the messaging core's runtime options from
// environment variables (and an optional .env file), mirroring the
// env-tag configuration style used throughout the teacher codebase.
package coreconfig

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every option recognized by the core (spec §6), plus
// the ambient logging/metrics knobs needed to run a demo binary.
type Config struct {
	// RPC
	RPCTimeoutMs int `env:"REMOTE_RPC_TIMEOUT_MS" envDefault:"30000"`

	// Reconnect
	IsReconnect       bool `env:"REMOTE_RECONNECT" envDefault:"false"`
	ReconnectWindowMs int  `env:"REMOTE_RECONNECT_WINDOW_MS" envDefault:"30000"`

	// Buffers / framing
	BufferPoolChunkSize int `env:"REMOTE_BUFFER_POOL_CHUNK_SIZE" envDefault:"65536"`
	MaxPacketSize       int `env:"REMOTE_MAX_PACKET_SIZE" envDefault:"8192"`

	// Transport
	StreamListenAddr   string `env:"REMOTE_STREAM_ADDR" envDefault:":7777"`
	DatagramListenAddr string `env:"REMOTE_DATAGRAM_ADDR" envDefault:":7778"`
	HandshakeTimeoutMs int    `env:"REMOTE_HANDSHAKE_TIMEOUT_MS" envDefault:"5000"`

	// Datagram handshake rate limiting (per source address / global)
	HandshakeIPBurst     int     `env:"REMOTE_HANDSHAKE_IP_BURST" envDefault:"5"`
	HandshakeIPRate      float64 `env:"REMOTE_HANDSHAKE_IP_RATE" envDefault:"1.0"`
	HandshakeGlobalBurst int     `env:"REMOTE_HANDSHAKE_GLOBAL_BURST" envDefault:"200"`
	HandshakeGlobalRate  float64 `env:"REMOTE_HANDSHAKE_GLOBAL_RATE" envDefault:"50.0"`

	// Ambient
	MetricsAddr string `env:"REMOTE_METRICS_ADDR" envDefault:":9096"`
	LogLevel    string `env:"REMOTE_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"REMOTE_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file, then from the
// environment, applying defaults for anything unset. Priority: env
// vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("coreconfig: parse: %w", err)
	}

	if cfg.BufferPoolChunkSize < cfg.MaxPacketSize {
		return nil, fmt.Errorf("coreconfig: buffer_pool_chunk_size (%d) must be >= max_packet_size (%d)",
			cfg.BufferPoolChunkSize, cfg.MaxPacketSize)
	}

	return cfg, nil
}
