// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/execguard/agent/pkg/config"
	"github.com/execguard/agent/pkg/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
	bpfObject  string
	storePath  string
	iface      string
	xdpMode    string
	enableAPI  bool
	apiHost    string
	apiPort    int
	enableDBus bool
	busType    string
)

var rootCmd = &cobra.Command{
	Use:     "execguard",
	Short:   "eBPF-based program execution and address blocking agent",
	Long:    `An agent that blocks program execution with a BPF LSM hook and inbound addresses with XDP, driven by rules managed over D-Bus and HTTP`,
	Version: version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent in the foreground",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		flags := cmd.Flags()
		flags.StringVar(&bpfObject, "bpf-object", "", "Path to the compiled eBPF object")
		flags.StringVar(&storePath, "storage", "", "Path to the rule database")
		flags.StringVarP(&iface, "interface", "i", "", "Attach the network monitor to this interface")
		flags.StringVar(&xdpMode, "xdp-mode", "", "XDP attach mode (generic, driver, offload)")
		flags.BoolVarP(&enableAPI, "enable-api", "a", true, "Enable REST API server")
		flags.StringVar(&apiHost, "api-host", "", "API server host")
		flags.IntVar(&apiPort, "api-port", 0, "API server port")
		flags.BoolVar(&enableDBus, "enable-dbus", true, "Export the rule manager on D-Bus")
		flags.StringVar(&busType, "bus", "", "D-Bus bus to use (system, session)")
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

// loadConfig reads the configuration file and applies explicitly set
// flags on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("bpf-object") {
		cfg.BPFObject = bpfObject
	}
	if flags.Changed("storage") {
		cfg.Storage.Path = storePath
	}
	if flags.Changed("interface") {
		cfg.NetworkMonitor.Enabled = iface != ""
		cfg.NetworkMonitor.Interface = iface
	}
	if flags.Changed("xdp-mode") {
		cfg.NetworkMonitor.XDPMode = xdpMode
	}
	if flags.Changed("enable-api") {
		cfg.API.Enabled = enableAPI
	}
	if flags.Changed("api-host") {
		cfg.API.Host = apiHost
	}
	if flags.Changed("api-port") {
		cfg.API.Port = apiPort
	}
	if flags.Changed("enable-dbus") {
		cfg.DBus.Enabled = enableDBus
	}
	if flags.Changed("bus") {
		cfg.DBus.Bus = busType
	}

	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx, cfg, version); err != nil {
		log.Errorf("Agent stopped with errors: %v", err)
		return err
	}
	log.Info("Agent stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
