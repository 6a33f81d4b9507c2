package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newAuthorizeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize",
		Short: "Authorize the app with the ecobee cloud API",
		Long: "Requests a PIN, waits while it is entered under My Apps in the ecobee portal, " +
			"then saves the access and refresh tokens to the token file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}

			tstat, err := buildThermostat(cfg.Thermostat, afero.NewOsFs(), logger)
			if err != nil {
				return err
			}
			if tstat.tokens == nil {
				return errors.New("authorize only applies to the cloud backend")
			}

			ctx := cmd.Context()
			pin, err := tstat.tokens.RequestPIN(ctx)
			if err != nil {
				return fmt.Errorf("requesting pin: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "PIN: %s\n", pin.Pin)
			fmt.Fprintf(out, "Enter it under My Apps > Add Application in the ecobee portal within %s.\n", pin.ExpiresIn)

			if _, err := tstat.tokens.WaitForAuthorization(ctx, pin); err != nil {
				return err
			}
			fmt.Fprintf(out, "Authorized. Tokens saved to %s\n", cfg.Thermostat.Cloud.TokenFile)
			return nil
		},
	}
}
