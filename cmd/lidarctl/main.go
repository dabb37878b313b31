// Command lidarctl talks to LiDAR devices from the shell: it queries and
// configures them, records and replays point clouds, and synchronizes
// groups of devices.
//
// Usage:
//
//	lidarctl --host lidar-1 status
//	lidarctl --host lidar-1 record --frames 100 out.bfpc
//	lidarctl replay out.bfpc
//	lidarctl sync lidar-1 lidar-2 --frame-rate 10
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidarlink/internal/config"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/version"
	"github.com/banshee-data/lidarlink/scanner"
)

type globalFlags struct {
	ConfigFile  string
	Host        string
	LogFile     string
	LogLevel    string
	Quiet       bool
	MetricsAddr string
}

var (
	flags     globalFlags
	clientCfg *config.ClientConfig
	closeLog  func() error
	fsys      fsutil.FileSystem = fsutil.OSFileSystem{}
)

var rootCmd = &cobra.Command{
	Use:           "lidarctl",
	Short:         "Query, configure and record LiDAR devices",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		clientCfg = &config.ClientConfig{}
		if flags.ConfigFile != "" {
			cfg, err := config.LoadClientConfig(fsys, flags.ConfigFile)
			if err != nil {
				return err
			}
			clientCfg = cfg
		}
		if err := setupLogging(); err != nil {
			return err
		}
		return serveMetrics()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "client config file (.toml or .json)")
	rootCmd.PersistentFlags().StringVar(&flags.Host, "host", "", "device host, optionally with port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "write diagnostics as JSON to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log file level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress diagnostics")
	rootCmd.PersistentFlags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve stream metrics on this address, e.g. :9100")

	rootCmd.AddCommand(helloCmd, statusCmd, selfTestCmd, recoverCmd)
	rootCmd.AddCommand(patternCmd, advancedCmd)
	rootCmd.AddCommand(recordCmd, replayCmd, imuCmd, rawCmd, watchCmd)
	rootCmd.AddCommand(syncCmd, timeSyncCmd)
}

func setupLogging() error {
	if flags.Quiet {
		monitoring.SetLogger(nil)
		return nil
	}
	path := flags.LogFile
	if path == "" && clientCfg.LogFile != nil {
		path = *clientCfg.LogFile
	}
	if path == "" {
		return nil
	}
	level := flags.LogLevel
	if level == "" {
		level = clientCfg.GetLogLevel()
	}
	logger, closeFn, err := monitoring.NewFileLogger(path, monitoring.FileLogOptions{
		MaxSizeMB:  50,
		MaxBackups: 3,
		Compress:   true,
		Level:      level,
	})
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	monitoring.SetLogger(logger.Infof)
	closeLog = closeFn
	return nil
}

// serveMetrics exposes the stream counters for scraping while a command
// runs.
func serveMetrics() error {
	if flags.MetricsAddr == "" {
		return nil
	}
	if err := monitoring.RegisterDefault(); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(flags.MetricsAddr, mux); err != nil {
			monitoring.Logf("[lidarctl] metrics server: %v", err)
		}
	}()
	return nil
}

// openScanner connects to host, or to the --host / configured device when
// host is empty.
func openScanner(ctx context.Context, host string) (*scanner.Scanner, error) {
	if host == "" {
		host = flags.Host
	}
	return scanner.OpenConfig(ctx, fsys, clientCfg, host)
}

// withScanner runs fn against the selected device and closes it afterwards.
func withScanner(ctx context.Context, fn func(*scanner.Scanner) error) error {
	s, err := openScanner(ctx, "")
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
