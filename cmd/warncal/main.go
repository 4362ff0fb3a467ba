// Command warncal turns GeoSphere Austria weather warnings into calendar
// events for subscribed users.
//
// Usage:
//
//	warncal serve
//	warncal run-once
//	warncal history --email anna@example.at --limit 20
//	warncal users add --email anna@example.at --access-token ... --refresh-token ...
//	warncal users add-location --email anna@example.at --name Graz
//	warncal users preferences --email anna@example.at --disable heat,cold
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/warning-calendar-service/internal/scheduler"
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "warncal",
		Short:         "Weather warning to calendar service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(runOnceCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(usersCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the warning scheduler and the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.orchestrator, scheduler.Options{
				Interval: a.cfg.CheckInterval,
				Backoff:  a.cfg.CycleBackoff,
			}, a.metrics, a.logger)
			srv := a.httpServer(sched)

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("http server error", "error", err)
				}
			}()

			// Cycles are not cancelled by the signal; Stop lets the current one finish.
			if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
				return err
			}

			<-ctx.Done()
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()

			if err := sched.Stop(shutdownCtx); err != nil {
				a.logger.Error("scheduler stop error", "error", err)
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}

			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single warning cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sum, err := a.orchestrator.RunCycle(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}
