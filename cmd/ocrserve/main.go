// Package main provides the OCR service entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wudi/ocrserve/config"
	"github.com/wudi/ocrserve/dispatch"
	"github.com/wudi/ocrserve/observability"
	"github.com/wudi/ocrserve/ocr/tesseract"
	"github.com/wudi/ocrserve/pipeline"
	"github.com/wudi/ocrserve/rpc"
)

func main() {
	defaults := config.Default()

	var (
		cfgPath    string
		listen     string
		workers    int
		queueDepth int
		logLevel   string
		logFormat  string
	)

	rootCmd := &cobra.Command{
		Use:   "ocrserve",
		Short: "Image text extraction service",
		Long: `ocrserve accepts images over the Connect protocol, runs them through a
preprocessing and recognition pipeline on a fixed worker pool, and streams
back the extracted text together with the processed image.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A .env file is optional; real environment variables win.
			_ = godotenv.Load()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("workers") {
				cfg.Pool.Workers = workers
			}
			if cmd.Flags().Changed("queue-depth") {
				cfg.Pool.QueueDepth = queueDepth
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.Flags().StringVarP(&listen, "listen", "l", defaults.Server.Listen, "Address to listen on")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", defaults.Pool.Workers, "Number of processing workers")
	rootCmd.Flags().IntVarP(&queueDepth, "queue-depth", "q", defaults.Pool.QueueDepth, "Maximum number of queued images")
	rootCmd.Flags().StringVar(&logLevel, "log-level", defaults.Log.Level, "Log level: trace, debug, info, warn or error")
	rootCmd.Flags().StringVar(&logFormat, "log-format", defaults.Log.Format, "Log format: console or json")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ocrserve: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := observability.NewLogger(observability.LogConfig{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "ocrserve",
	})

	engine := tesseract.NewEngine(
		tesseract.WithTessdataPrefix(cfg.OCR.TessdataPrefix),
		tesseract.WithLanguages(cfg.OCR.Languages...),
	)
	proc := pipeline.New(engine, log)

	queue := dispatch.NewQueue(cfg.Pool.QueueDepth)
	pool := dispatch.NewPool(queue, cfg.Pool.Workers, proc, log)
	pool.Start()

	svc := rpc.NewService(rpc.NewDispatcher(pool, cfg.Server.MaxImageBytes, log, nil), log)
	router := rpc.NewRouter(svc, pool, cfg.Server.RequestTimeout)

	// h2c lets gRPC-flavored clients reach the service without TLS while
	// plain HTTP/1.1 keeps working for Connect and the probe endpoints.
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening",
			observability.String("addr", cfg.Server.Listen),
			observability.Int("workers", cfg.Pool.Workers),
			observability.Int("queue_depth", cfg.Pool.QueueDepth),
			observability.String("engine", engine.Name()))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server: %w", err)
	case sig := <-shutdown:
		log.Info("shutdown signal received", observability.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	// Stop accepting calls first, then drain the queue so every admitted
	// image still gets its reply.
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", observability.Error("err", err))
		if err := srv.Close(); err != nil {
			log.Error("forced shutdown failed", observability.Error("err", err))
		}
	}
	if err := pool.Shutdown(ctx); err != nil {
		log.Error("pool drain failed", observability.Error("err", err))
	}

	log.Info("server stopped")
	return nil
}
