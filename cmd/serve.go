package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/monitoring"
	"github.com/sells-group/ecoparse/internal/pipeline"
	"github.com/sells-group/ecoparse/internal/server"
)

var (
	servePort  int
	serveGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for extraction runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		if err := cfg.ValidateExtract(); err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs := pipeline.NewJobs()
		srv := server.New(ctx, env.Pipeline, env.Store, jobs,
			server.WithBreakerStates(env.Guards.States),
		)

		if cfg.Monitor.WebhookURL != "" {
			collector := monitoring.NewCollector(env.Store,
				monitoring.WithStaleAfter(time.Duration(cfg.Monitor.StaleRunMinutes)*time.Minute),
				monitoring.WithActive(func(id string) bool {
					_, ok := jobs.Get(id)
					return ok
				}),
			)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
			go checker.Run(ctx)
		}

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		zap.L().Info("server starting", zap.String("addr", addr))
		return srv.ListenAndServe(ctx, addr, serveGrace)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP server port (default from server.port)")
	serveCmd.Flags().DurationVar(&serveGrace, "grace", 30*time.Second, "shutdown grace period for in-flight runs")
	rootCmd.AddCommand(serveCmd)
}
