package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/commit"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/config"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/graph"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/logging"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/server"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

var (
	configPath string
	dataDir    string
	transport  string
	port       string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "trace-store",
		Short:         "Versioned artifact and trace-link store served over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for SQLite databases (overrides config)")
	rootCmd.Flags().StringVar(&transport, "transport", "", "Transport mode: stdio or http (overrides config)")
	rootCmd.Flags().StringVar(&port, "port", "", "HTTP port, only used with --transport http (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("trace-store failed")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("transport") {
		cfg.Transport = transport
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func closureFor(cfg config.Graph) graph.Closure {
	if cfg.Closure == "parallel" {
		return graph.ParallelClosure{Workers: cfg.Workers}
	}
	return graph.BFSClosure{}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the stdio transport, so logs go to stderr.
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	meta, err := storage.OpenMeta(cfg.DataDir, logger)
	if err != nil {
		return errors.Wrap(err, "open meta store")
	}
	defer meta.Close()

	srv := server.New(server.Deps{
		Meta:        meta,
		Coordinator: commit.New(logger, commit.WithLayout(commit.NewLogLayout(logger))),
		Closure:     closureFor(cfg.Graph),
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.WithFields(logrus.Fields{"transport": cfg.Transport, "data_dir": cfg.DataDir})
	switch cfg.Transport {
	case "http":
		httpSrv := &http.Server{
			Addr: ":" + cfg.Port,
			Handler: mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
				return srv
			}, nil),
		}
		go func() {
			<-ctx.Done()
			httpSrv.Shutdown(context.Background())
		}()
		log.WithField("addr", httpSrv.Addr).Info("trace-store listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	default:
		log.Info("trace-store starting")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "stdio server")
		}
		return nil
	}
}
