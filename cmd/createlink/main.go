// Createlink bridges an iRobot Create's Open Interface sensor stream to a
// small web dashboard, a JSON API and Prometheus metrics.
//
// Usage:
//
//	createlink serve [flags]
//	createlink analog [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shaunagostinho/createlink/internal/logging"
	"github.com/shaunagostinho/createlink/internal/metrics"
	"github.com/shaunagostinho/createlink/internal/robot"
	"github.com/shaunagostinho/createlink/internal/sensor"
	"github.com/shaunagostinho/createlink/internal/server"
	"github.com/shaunagostinho/createlink/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "createlink",
	Short:         "iRobot Create sensor stream bridge",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Shared flags
var (
	configPath string
	demo       bool
	logLevel   string
)

// serve flags
var listenAddr string

// analog flags
var samples int

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", server.DefaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&demo, "demo", false, "Use the simulated robot")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	analogCmd.Flags().IntVar(&samples, "samples", 10, "Stream frames to average")

	rootCmd.AddCommand(serveCmd, analogCmd, versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream sensors from the robot and serve the dashboard",
	Example: `  # Real robot on the default port from config
  createlink serve

  # Simulated robot, verbose
  createlink serve --demo --log-level debug --listen :9090`,
	RunE: runServe,
}

var analogCmd = &cobra.Command{
	Use:   "analog",
	Short: "Read the cargo bay analog input once and exit",
	RunE:  runAnalog,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "createlink", version)
	},
}

// setup loads config and builds the logger, applying shared flags.
func setup() (*server.Config, *zap.Logger, error) {
	boot, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		return nil, nil, err
	}
	cfg := server.LoadConfig(configPath, boot.Named("config"))
	if demo {
		cfg.Robot.Type = "demo"
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newLink(cfg *server.Config, log *zap.Logger) robot.Link {
	snap := cfg.Snapshot()
	switch snap.Robot.Type {
	case "serial":
		return robot.NewSerial(robot.SerialConfig{
			PortPath: snap.Robot.PortPath,
			BaudRate: snap.Robot.BaudRate,
		}, log.Named("serial"))
	default:
		return robot.NewDemo(robot.DemoOptions{
			Period:       time.Duration(snap.Robot.Demo.PeriodMs) * time.Millisecond,
			CorruptEvery: snap.Robot.Demo.CorruptEvery,
			NoiseEvery:   snap.Robot.Demo.NoiseEvery,
		})
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	log.Info("createlink starting", zap.String("version", version))

	pc, err := server.PipelineFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	reg := metrics.NewRegistry()
	m := metrics.NewStreamMetrics(reg)

	link := newLink(cfg, log)
	pipeline := server.NewPipeline(link, pc, log.Named("pipeline"), m)

	// The dashboard starts regardless; the pipeline keeps retrying the link.
	pipeDone := make(chan error, 1)
	go func() { pipeDone <- pipeline.Run(ctx) }()

	srv := server.New(cfg, pipeline, web.FS, log.Named("server"), reg, m)
	err = srv.Run(ctx)
	cancel()
	if perr := <-pipeDone; perr != nil {
		log.Warn("pipeline exited", zap.Error(perr))
	}
	return err
}

func runAnalog(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ids, err := cfg.StreamIDs()
	if err != nil {
		return err
	}
	if !slices.Contains(ids, sensor.CargoBayAnalogSignal) {
		ids = append(ids, sensor.CargoBayAnalogSignal)
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	link := newLink(cfg, log)
	if err := link.Connect(); err != nil {
		return err
	}
	defer link.Close()

	cmds := robot.NewCommands(link, time.Second, log.Named("commands"))
	if err := cmds.Initialize(ids); err != nil {
		return err
	}
	defer cmds.PauseStream()

	value, err := cmds.ReadAnalogPin(ctx, samples)
	for _, line := range cmds.Logs() {
		log.Debug("sample", zap.String("frame", line))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

