package config

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// ConfigDefaults is the full securechat configuration. The yaml tags match
// the viper keys used by CurrentConfig.
type ConfigDefaults struct {
	Server  ServerDefaults  `yaml:"server"`
	TLS     TLSDefaults     `yaml:"tls"`
	Control ControlDefaults `yaml:"control"`
	Events  EventsDefaults  `yaml:"events"`
	Clock   ClockDefaults   `yaml:"clock"`
	Log     LogDefaults     `yaml:"log"`
	Client  ClientDefaults  `yaml:"client"`
}

// ServerDefaults configures the chat listener and per-connection limits.
type ServerDefaults struct {
	ListenAddr string `yaml:"listen_addr"`
	// Negative means unlimited.
	MaxSessions      int           `yaml:"max_sessions"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// Messages per second per connection. Zero disables rate limiting.
	RateLimit       float64 `yaml:"rate_limit"`
	RateBurst       int     `yaml:"rate_burst"`
	PruneEmptyRooms bool    `yaml:"prune_empty_rooms"`
}

// TLSDefaults selects the server certificate. When SelfSigned is set and no
// files are given an ephemeral certificate is generated for Hosts.
type TLSDefaults struct {
	CertFile   string   `yaml:"cert_file"`
	KeyFile    string   `yaml:"key_file"`
	SelfSigned bool     `yaml:"self_signed"`
	Hosts      []string `yaml:"hosts"`
}

// ControlDefaults configures the JSON-RPC control endpoint.
type ControlDefaults struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	Password        string        `yaml:"password"`
	TokenExpiration time.Duration `yaml:"token_expiration"`
	UseHTTPS        bool          `yaml:"use_https"`
}

// EventsDefaults configures publishing of chat activity to NATS.
type EventsDefaults struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	ClientName    string `yaml:"client_name"`
}

// ClockDefaults configures NTP correction of message timestamps.
type ClockDefaults struct {
	NTPEnabled     bool          `yaml:"ntp_enabled"`
	Servers        []string      `yaml:"servers"`
	QueryFrequency time.Duration `yaml:"query_frequency"`
	Concurring     int           `yaml:"concurring"`
	Timeout        time.Duration `yaml:"timeout"`
}

// LogDefaults configures the process logger.
type LogDefaults struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ClientDefaults are used by the interactive client when flags are absent.
type ClientDefaults struct {
	Address    string `yaml:"address"`
	Insecure   bool   `yaml:"insecure"`
	ServerName string `yaml:"server_name"`
}

// Defaults returns the built-in configuration.
func Defaults() ConfigDefaults {
	return ConfigDefaults{
		Server: ServerDefaults{
			ListenAddr:       "localhost:8443",
			MaxSessions:      1000,
			IdleTimeout:      0,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			RateLimit:        50,
			RateBurst:        100,
			PruneEmptyRooms:  false,
		},
		TLS: TLSDefaults{
			SelfSigned: true,
			Hosts:      []string{"localhost", "127.0.0.1", "::1"},
		},
		Control: ControlDefaults{
			Enabled:         false,
			Address:         "localhost:7650",
			Password:        "",
			TokenExpiration: 10 * time.Minute,
		},
		Events: EventsDefaults{
			Enabled:       false,
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "securechat.events",
			ClientName:    "securechat-server",
		},
		Clock: ClockDefaults{
			NTPEnabled:     false,
			Servers:        []string{"0.pool.ntp.org", "1.pool.ntp.org", "2.pool.ntp.org"},
			QueryFrequency: 11 * time.Minute,
			Concurring:     3,
			Timeout:        5 * time.Second,
		},
		Log: LogDefaults{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Client: ClientDefaults{
			Address: "localhost:8443",
		},
	}
}

// WriteYAML writes cfg to w in the config file format.
func WriteYAML(w io.Writer, cfg ConfigDefaults) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return oops.In("config").Wrapf(err, "encode yaml")
	}
	return enc.Close()
}

// Validate checks cfg for values the server cannot run with.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "config.Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	return runConfigValidators(cfg)
}

func runConfigValidators(cfg ConfigDefaults) error {
	validators := []func() error{
		func() error { return validateServer(cfg.Server) },
		func() error { return validateTLS(cfg.TLS) },
		func() error { return validateControl(cfg.Control) },
		func() error { return validateEvents(cfg.Events) },
		func() error { return validateClock(cfg.Clock) },
		func() error { return validateLog(cfg.Log) },
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "config.Validate",
		"reason": "all_validators_passed",
	}).Debug("configuration valid")
	return nil
}

func validateServer(s ServerDefaults) error {
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		log.WithFields(logger.Fields{
			"at":          "validateServerConfig",
			"listen_addr": s.ListenAddr,
		}).Debug("invalid listen address")
		return newValidationError("Server.ListenAddr must be host:port")
	}
	if s.MaxSessions == 0 {
		return newValidationError("Server.MaxSessions must not be 0 (use a negative value for unlimited)")
	}
	if s.IdleTimeout < 0 || s.WriteTimeout < 0 || s.HandshakeTimeout < 0 {
		return newValidationError("Server timeouts must not be negative")
	}
	if s.RateLimit < 0 {
		return newValidationError("Server.RateLimit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst < 1 {
		return newValidationError("Server.RateBurst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

func validateTLS(t TLSDefaults) error {
	if (t.CertFile == "") != (t.KeyFile == "") {
		return newValidationError("TLS.CertFile and TLS.KeyFile must be set together")
	}
	if t.CertFile == "" && !t.SelfSigned {
		return newValidationError("TLS requires CertFile and KeyFile unless SelfSigned is enabled")
	}
	return nil
}

func validateControl(c ControlDefaults) error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return newValidationError("Control.Address must be host:port")
	}
	if c.Password == "" {
		return newValidationError("Control.Password must be set when the control endpoint is enabled")
	}
	if c.TokenExpiration < time.Minute {
		return newValidationError("Control.TokenExpiration must be at least 1 minute")
	}
	return nil
}

func validateEvents(e EventsDefaults) error {
	if !e.Enabled {
		return nil
	}
	if e.NATSURL == "" {
		return newValidationError("Events.NATSURL must be set when events are enabled")
	}
	if e.SubjectPrefix == "" || strings.ContainsAny(e.SubjectPrefix, " *>") {
		return newValidationError("Events.SubjectPrefix must be a non-empty subject without wildcards")
	}
	return nil
}

func validateClock(c ClockDefaults) error {
	if !c.NTPEnabled {
		return nil
	}
	if len(c.Servers) == 0 {
		return newValidationError("Clock.Servers must list at least one server when NTP is enabled")
	}
	if c.Concurring < 1 || c.Concurring > len(c.Servers) {
		return newValidationError("Clock.Concurring must be between 1 and the number of servers")
	}
	if c.Timeout <= 0 {
		return newValidationError("Clock.Timeout must be positive")
	}
	return nil
}

func validateLog(l LogDefaults) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return newValidationError("Log.Level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		return newValidationError("Log.Format must be text or json")
	}
	if l.File != "" && (l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0) {
		return newValidationError("Log rotation limits must not be negative")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
