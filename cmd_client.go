package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/niss337/securechat/lib/client"
	"github.com/niss337/securechat/lib/transport"
	"github.com/niss337/securechat/lib/tui"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dialTimeout = 10 * time.Second

func clientCmd() *cobra.Command {
	var caFile string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a chat server with the interactive client",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := viper.GetString("client.address")
			tlsConfig, err := clientTLS(caFile, viper.GetBool("client.insecure"), viper.GetString("client.server_name"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
			defer cancel()
			c, err := client.Dial(ctx, addr, tlsConfig)
			if err != nil {
				return oops.In("main").With("addr", addr).Wrapf(err, "connect")
			}
			defer c.Close()
			return tui.Run(c)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "server address (host:port)")
	flags.Bool("insecure", false, "accept any server certificate (development servers only)")
	flags.String("server-name", "", "expected server name in the certificate")
	flags.StringVar(&caFile, "ca", "", "PEM file with the certificate to trust")
	_ = viper.BindPFlag("client.address", flags.Lookup("addr"))
	_ = viper.BindPFlag("client.insecure", flags.Lookup("insecure"))
	_ = viper.BindPFlag("client.server_name", flags.Lookup("server-name"))
	return cmd
}

func clientTLS(caFile string, insecure bool, serverName string) (*tls.Config, error) {
	config := transport.ClientTLS(insecure, serverName)
	if caFile == "" {
		return config, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, oops.In("main").With("file", caFile).Wrapf(err, "read ca file")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, oops.In("main").With("file", caFile).Errorf("no certificates found in ca file")
	}
	config.RootCAs = pool
	return config, nil
}
