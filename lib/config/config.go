package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/niss337/securechat/lib/util"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	// CfgFile is the configuration file named on the command line, if any.
	CfgFile string
	log     = logger.GetChatLogger()
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "SECURECHAT"

// InitConfig loads configuration into viper. A missing default file is
// created; a missing file named by CfgFile is an error.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildChatDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("server.listen_addr", d.Server.ListenAddr)
	viper.SetDefault("server.max_sessions", d.Server.MaxSessions)
	viper.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	viper.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	viper.SetDefault("server.handshake_timeout", d.Server.HandshakeTimeout)
	viper.SetDefault("server.rate_limit", d.Server.RateLimit)
	viper.SetDefault("server.rate_burst", d.Server.RateBurst)
	viper.SetDefault("server.prune_empty_rooms", d.Server.PruneEmptyRooms)

	viper.SetDefault("tls.cert_file", d.TLS.CertFile)
	viper.SetDefault("tls.key_file", d.TLS.KeyFile)
	viper.SetDefault("tls.self_signed", d.TLS.SelfSigned)
	viper.SetDefault("tls.hosts", d.TLS.Hosts)

	viper.SetDefault("control.enabled", d.Control.Enabled)
	viper.SetDefault("control.address", d.Control.Address)
	viper.SetDefault("control.password", d.Control.Password)
	viper.SetDefault("control.token_expiration", d.Control.TokenExpiration)
	viper.SetDefault("control.use_https", d.Control.UseHTTPS)

	viper.SetDefault("events.enabled", d.Events.Enabled)
	viper.SetDefault("events.nats_url", d.Events.NATSURL)
	viper.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	viper.SetDefault("events.client_name", d.Events.ClientName)

	viper.SetDefault("clock.ntp_enabled", d.Clock.NTPEnabled)
	viper.SetDefault("clock.servers", d.Clock.Servers)
	viper.SetDefault("clock.query_frequency", d.Clock.QueryFrequency)
	viper.SetDefault("clock.concurring", d.Clock.Concurring)
	viper.SetDefault("clock.timeout", d.Clock.Timeout)

	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
	viper.SetDefault("log.file", d.Log.File)
	viper.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	viper.SetDefault("log.max_backups", d.Log.MaxBackups)
	viper.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	viper.SetDefault("log.compress", d.Log.Compress)

	viper.SetDefault("client.address", d.Client.Address)
	viper.SetDefault("client.insecure", d.Client.Insecure)
	viper.SetDefault("client.server_name", d.Client.ServerName)
}

// CurrentConfig returns the effective configuration from viper.
func CurrentConfig() ConfigDefaults {
	return ConfigDefaults{
		Server: ServerDefaults{
			ListenAddr:       viper.GetString("server.listen_addr"),
			MaxSessions:      viper.GetInt("server.max_sessions"),
			IdleTimeout:      viper.GetDuration("server.idle_timeout"),
			WriteTimeout:     viper.GetDuration("server.write_timeout"),
			HandshakeTimeout: viper.GetDuration("server.handshake_timeout"),
			RateLimit:        viper.GetFloat64("server.rate_limit"),
			RateBurst:        viper.GetInt("server.rate_burst"),
			PruneEmptyRooms:  viper.GetBool("server.prune_empty_rooms"),
		},
		TLS: TLSDefaults{
			CertFile:   viper.GetString("tls.cert_file"),
			KeyFile:    viper.GetString("tls.key_file"),
			SelfSigned: viper.GetBool("tls.self_signed"),
			Hosts:      viper.GetStringSlice("tls.hosts"),
		},
		Control: ControlDefaults{
			Enabled:         viper.GetBool("control.enabled"),
			Address:         viper.GetString("control.address"),
			Password:        viper.GetString("control.password"),
			TokenExpiration: viper.GetDuration("control.token_expiration"),
			UseHTTPS:        viper.GetBool("control.use_https"),
		},
		Events: EventsDefaults{
			Enabled:       viper.GetBool("events.enabled"),
			NATSURL:       viper.GetString("events.nats_url"),
			SubjectPrefix: viper.GetString("events.subject_prefix"),
			ClientName:    viper.GetString("events.client_name"),
		},
		Clock: ClockDefaults{
			NTPEnabled:     viper.GetBool("clock.ntp_enabled"),
			Servers:        viper.GetStringSlice("clock.servers"),
			QueryFrequency: viper.GetDuration("clock.query_frequency"),
			Concurring:     viper.GetInt("clock.concurring"),
			Timeout:        viper.GetDuration("clock.timeout"),
		},
		Log: LogDefaults{
			Level:      viper.GetString("log.level"),
			Format:     viper.GetString("log.format"),
			File:       viper.GetString("log.file"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
			Compress:   viper.GetBool("log.compress"),
		},
		Client: ClientDefaults{
			Address:    viper.GetString("client.address"),
			Insecure:   viper.GetBool("client.insecure"),
			ServerName: viper.GetString("client.server_name"),
		},
	}
}

func createDefaultConfig(defaultConfigDir string) error {
	if err := os.MkdirAll(defaultConfigDir, 0o700); err != nil {
		return oops.In("config").With("dir", defaultConfigDir).Wrapf(err, "create config directory")
	}
	path := filepath.Join(defaultConfigDir, "config.yaml")
	if err := viper.SafeWriteConfigAs(path); err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "write default config")
	}
	log.WithFields(logger.Fields{
		"at":   "config.createDefaultConfig",
		"path": path,
	}).Debug("default_config_created")
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithFields(logger.Fields{
			"at":   "config.handleConfigFile",
			"path": viper.ConfigFileUsed(),
		}).Debug("using_config_file")
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	switch {
	case CfgFile != "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		return oops.In("config").With("path", CfgFile).Wrapf(err, "config file not found")
	case errors.As(err, &notFound):
		return createDefaultConfig(BuildChatDirPath())
	default:
		return oops.In("config").Wrapf(err, "read config file")
	}
}

// BuildChatDirPath returns the per-user application directory.
func BuildChatDirPath() string {
	return util.AppDir()
}
