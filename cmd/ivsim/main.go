// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// ivsim draws samples from a known linear or IV model, estimates them, and
// studies the estimator and the t-test by repeated simulation.
//
//	ivsim ols                 one OLS sample, both kinds of standard errors
//	ivsim iv                  one IV sample, t-test of beta = 0
//	ivsim simulate            Monte Carlo distribution and power at one beta
//	ivsim power               power curve over a grid of beta values
func main() {
	rootCmd := newRootCmd()

	// Ctrl-C cancels a running simulation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ivsim",
		Short: "Estimation by simulation for OLS and IV",
		Long: `ivsim generates synthetic data from a known data-generating process,
recovers the coefficients by OLS or IV, and reports standard errors,
confidence intervals, and the size and power of the t-test.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with IVSIM_* overrides")
	rootCmd.PersistentFlags().Int64("seed", 0, "random seed (overrides config)")
	rootCmd.PersistentFlags().Int("workers", 0, "parallel workers (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "error, warn, info, debug or trace")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newOLSCmd(),
		newIVCmd(),
		newSimulateCmd(),
		newPowerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ivsim version %s\n", version)
		},
	}
}
