// Package config provides configuration management for securechat.
//
// Configuration is read by viper from $HOME/.securechat/config.yaml, or
// from the file named by CfgFile. When the default file does not exist it
// is created from the built-in defaults. Every value can also be set with
// a SECURECHAT_ environment variable, where dots in the key become
// underscores: SECURECHAT_SERVER_LISTEN_ADDR overrides server.listen_addr.
//
// Defaults returns the built-in values, CurrentConfig the effective ones.
// Validate checks a configuration before the server starts.
package config
