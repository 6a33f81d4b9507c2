package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"alarm-tstat/internal/application"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the alarm relay and drive the thermostat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, os.Stdout)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fs := afero.NewOsFs()

			tstat, err := buildThermostat(cfg.Thermostat, fs, logger)
			if err != nil {
				return err
			}
			notifier, err := buildNotifier(cfg.Notify, tstat.client)
			if err != nil {
				return err
			}

			debounceLines, relayLines := buildLines(cfg.Signal.Lines)
			source, err := buildSource(cfg.Signal, relayLines, fs, logger)
			if err != nil {
				return err
			}

			controller := application.NewSetbackController(
				tstat.client,
				notifier,
				buildPublisher(cfg.HomeAssistant),
				controllerConfig(cfg, logger),
				logger,
			)
			hold := parseDuration(logger, "signal.hold_time", cfg.Signal.HoldTime, 5*time.Second)
			keepAlive := parseDuration(logger, "controller.keepalive_interval", cfg.Controller.KeepaliveInterval, time.Minute)
			daemon := application.NewDaemon(source, application.NewDebouncer(hold, debounceLines...), controller, keepAlive, logger)

			logger.Info("starting alarm thermostat control",
				"backend", cfg.Thermostat.Backend,
				"signal_source", cfg.Signal.Source,
				"notify", cfg.Notify.Provider,
			)

			if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("daemon error", "error", err)
				return err
			}
			logger.Info("shutting down")
			return nil
		},
	}
}
