package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"alarm-tstat/internal/infra/homeassistant"
)

type StatusOutput struct {
	Mode        string  `json:"mode"`
	Hold        bool    `json:"hold"`
	HeatTarget  float64 `json:"t_heat"`
	Fan         string  `json:"fan"`
	Temperature float64 `json:"temp"`
	Setback     float64 `json:"setback,omitempty"`
	SetbackErr  string  `json:"setback_error,omitempty"`
	AlarmState  string  `json:"alarm_state,omitempty"`
}

func newStatusCmd(configPath *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the thermostat status and today's setback setpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}

			tstat, err := buildThermostat(cfg.Thermostat, afero.NewOsFs(), logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			status, err := tstat.client.GetStatus(ctx)
			if err != nil {
				return err
			}

			output := StatusOutput{
				Mode:        string(status.Mode),
				Hold:        status.HoldActive,
				HeatTarget:  status.DesiredHeatSetpoint,
				Fan:         string(status.FanMode),
				Temperature: status.Temperature,
			}
			if setback, err := tstat.client.GetTodaysSetbackSetpoint(ctx); err != nil {
				output.SetbackErr = err.Error()
			} else {
				output.Setback = setback
			}
			if cfg.HomeAssistant.Enabled {
				ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, cfg.HomeAssistant.EntityID)
				if entity, err := ha.GetState(ctx); err != nil {
					logger.Warn("reading published alarm state", "error", err)
				} else {
					output.AlarmState = entity.State
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				b, err := json.Marshal(output)
				if err != nil {
					return fmt.Errorf("marshal json: %w", err)
				}
				fmt.Fprintln(out, string(b))
				return nil
			}

			fmt.Fprintf(out, "Mode        : %s\n", output.Mode)
			fmt.Fprintf(out, "Hold        : %t\n", output.Hold)
			fmt.Fprintf(out, "Heat target : %.1f\n", output.HeatTarget)
			fmt.Fprintf(out, "Fan         : %s\n", output.Fan)
			fmt.Fprintf(out, "Temperature : %.1f\n", output.Temperature)
			if output.SetbackErr != "" {
				fmt.Fprintf(out, "Setback     : unavailable (%s)\n", output.SetbackErr)
			} else {
				fmt.Fprintf(out, "Setback     : %.1f\n", output.Setback)
			}
			if output.AlarmState != "" {
				fmt.Fprintf(out, "Alarm armed : %s\n", output.AlarmState)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status in JSON format")

	return cmd
}
