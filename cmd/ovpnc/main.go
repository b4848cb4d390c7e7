/*
The ovpnc command is a minimal daemon that drives an OpenVPN 2.6 client
connection to completion and logs the packets it receives.

ovpnc is driven by a configuration file which describes the connection
profile to dial. For more information on the configuration file format
please refer to package config's documentation.

TUN/TAP attachment is out of scope: ovpnc logs received IP packets
rather than installing them on a network interface.
*/
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"os/signal"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/openvpn-go/ovpn/config"
	"github.com/openvpn-go/ovpn/ovpn"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	cfgPath  string
	connName string
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ovpnc",
		Short: "OpenVPN 2.6 client protocol daemon",
		Long: `ovpnc dials an OpenVPN server and drives the client protocol
engine (session bring-up, TLS handshake, key exchange, PUSH_REQUEST and
data channel) using package ovpn. It is driven by a TOML configuration
file naming the connection profile to use.`,
		RunE: run,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "/etc/ovpnc/ovpnc.toml", "specify configuration file path")
	rootCmd.Flags().StringVarP(&connName, "connection", "n", "", "connection profile name to dial (required)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "toggle verbose log output")
	rootCmd.MarkFlagRequired("connection")

	if err := rootCmd.Execute(); err != nil {
		stdlog.Fatalf("ovpnc: %v", err)
	}
}

func newLogger() log.Logger {
	logger := log.NewLogfmtLogger(os.Stderr)
	if verbose {
		return level.NewFilter(logger, level.AllowDebug())
	}
	return level.NewFilter(logger, level.AllowInfo())
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}
	nc, ok := cfg.Find(connName)
	if !ok {
		return fmt.Errorf("no connection profile named %q in %s", connName, cfgPath)
	}

	network := "udp"
	if nc.Config.Protocol == "tcp" {
		network = "tcp"
	}
	conn, err := net.Dial(network, nc.Config.Remote)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %v", nc.Config.Remote, err)
	}
	defer conn.Close()

	orch, err := ovpn.NewOrchestrator(conn, *nc.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %v", err)
	}
	defer orch.Dispose()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigChan
		level.Info(logger).Log("msg", "received shutdown signal")
		cancel()
	}()

	level.Info(logger).Log("msg", "connecting", "remote", nc.Config.Remote, "protocol", nc.Config.Protocol)
	if err := orch.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %v", err)
	}
	level.Info(logger).Log("msg", "tunnel established")

	for {
		pkt, err := orch.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				level.Info(logger).Log("msg", "shutting down")
				return nil
			}
			return fmt.Errorf("read failed: %v", err)
		}
		switch pkt.Kind {
		case ovpn.PacketConnect:
			info := pkt.Connect
			level.Info(logger).Log(
				"msg", "connect info",
				"device_type", info.DeviceType,
				"ifconfig_v4", ifconfigString(info))
		default:
			level.Debug(logger).Log("msg", "received packet", "bytes", len(pkt.Bytes))
		}
	}
}

func ifconfigString(info *ovpn.ConnectInfo) string {
	if info.IfConfigV4 == nil {
		return ""
	}
	return fmt.Sprintf("%s/%d", info.IfConfigV4.Address, info.IfConfigV4.Mask)
}
