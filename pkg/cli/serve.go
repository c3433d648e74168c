package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	httpctrl "github.com/secmon-lab/tapestry/pkg/controller/http"
	"github.com/secmon-lab/tapestry/pkg/service/worker"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var healthInterval time.Duration
	var failureThreshold int
	var cfg appConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("TAPESTRY_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "health-interval",
			Usage:       "Interval of background database health checks. 0 disables them",
			Value:       worker.DefaultHealthInterval,
			Sources:     cli.EnvVars("TAPESTRY_HEALTH_INTERVAL"),
			Destination: &healthInterval,
		},
		&cli.IntFlag{
			Name:        "health-failure-threshold",
			Usage:       "Consecutive failed health checks before a reconnect",
			Value:       worker.DefaultFailureThreshold,
			Sources:     cli.EnvVars("TAPESTRY_HEALTH_FAILURE_THRESHOLD"),
			Destination: &failureThreshold,
		},
	}
	flags = append(flags, cfg.Flags(pipelineNeeds)...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := cfg.build(ctx, c, pipelineNeeds)
			if err != nil {
				return err
			}
			defer a.Close()

			var monitor *worker.HealthMonitor
			if healthInterval > 0 {
				monitor = worker.NewHealthMonitor(a.repo, healthInterval, worker.WithFailureThreshold(failureThreshold))
				if err := monitor.Start(ctx); err != nil {
					return goerr.Wrap(err, "failed to start health monitor")
				}
			}

			httpHandler, err := a.handler(c.Root().Version)
			if err != nil {
				return err
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           httpHandler,
				ReadHeaderTimeout: 30 * time.Second,
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr, "health_interval", healthInterval)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				if monitor != nil {
					monitor.Stop()
				}
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				if monitor != nil {
					monitor.Stop()
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}

func (a *app) handler(version string) (http.Handler, error) {
	h, err := httpctrl.New(a.uc, httpctrl.WithVersion(version))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create http server")
	}
	return h, nil
}
