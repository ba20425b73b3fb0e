package server

import (
	"log/slog"

	"github.com/relves/trustkit/pkg/revocation"
	"github.com/relves/trustkit/pkg/trust"
	"github.com/relves/trustkit/pkg/verify"
)

// Config holds server configuration.
type Config struct {
	Revocation *revocation.Registry
	Pipeline   *verify.Pipeline
	Trust      *trust.Registry
	Validator  RequestValidator
	Logger     *slog.Logger
	// MaxBodyBytes bounds request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Option configures the server.
type Option func(*Config)

// WithRevocation sets the revocation registry backing /status-lists.
func WithRevocation(r *revocation.Registry) Option {
	return func(c *Config) {
		c.Revocation = r
	}
}

// WithPipeline sets the verification pipeline backing /verify.
func WithPipeline(p *verify.Pipeline) Option {
	return func(c *Config) {
		c.Pipeline = p
	}
}

// WithTrust sets the trust registry backing /trust.
func WithTrust(t *trust.Registry) Option {
	return func(c *Config) {
		c.Trust = t
	}
}

// WithValidator sets a request validator for mutating endpoints.
// If nil (default), no validation is performed.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBodyBytes = n
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}
