// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ivsim"
	"ivsim/internal/config"
	"ivsim/internal/logging"
)

// loadConfig reads the config file and applies any global flags the user set
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, nil, err
	}

	if cmd.Flags().Changed("seed") {
		cfg.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, logging.NewLogger(cfg.LogLevel, cmd.ErrOrStderr()), nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newOLSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ols",
		Short: "Estimate y = a + b*x on one simulated (or loaded) sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			p := cfg.OLSParams()
			if cmd.Flags().Changed("n") {
				p.SampleSize, _ = cmd.Flags().GetInt("n")
			}
			if cmd.Flags().Changed("intercept") {
				p.Intercept, _ = cmd.Flags().GetFloat64("intercept")
			}
			if cmd.Flags().Changed("slope") {
				p.Slope, _ = cmd.Flags().GetFloat64("slope")
			}

			// 1. Sample: from file or from the DGP
			var sample *ivsim.OLSSample
			if data, _ := cmd.Flags().GetString("data"); data != "" {
				xCol, _ := cmd.Flags().GetString("x")
				yCol, _ := cmd.Flags().GetString("y")
				sample, err = ivsim.LoadOLSSampleCSV(data, xCol, yCol)
			} else {
				sample, err = ivsim.GenerateOLS(p, ivsim.NewSampler(cfg.Seed))
			}
			if err != nil {
				return err
			}

			// 2. Estimate
			res, err := ivsim.EstimateOLSSample(sample)
			if err != nil {
				return err
			}
			log.Debug("ols estimated", "n", sample.Y.Len(), "slope", res.Slope())

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, map[string]any{
					"params":             p,
					"coefficients":       res.Coefficients,
					"se_homoskedastic":   res.SEHomoskedastic,
					"se_heteroskedastic": res.SEHeteroskedastic,
					"ci_homoskedastic":   res.CIHomoskedastic,
					"ci_heteroskedastic": res.CIHeteroskedastic,
				})
			}
			ivsim.PrintOLS(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().Int("n", 0, "sample size")
	cmd.Flags().Float64("intercept", 0, "true intercept")
	cmd.Flags().Float64("slope", 0, "true slope")
	cmd.Flags().String("data", "", "CSV file to estimate instead of simulating")
	cmd.Flags().String("x", "x", "regressor column")
	cmd.Flags().String("y", "y", "outcome column")
	return cmd
}

// ivParamsFromFlags applies the IV design flags on top of the config
func ivParamsFromFlags(cmd *cobra.Command, cfg *config.Config) ivsim.IVParams {
	p := cfg.IVParams()
	if cmd.Flags().Changed("n") {
		p.SampleSize, _ = cmd.Flags().GetInt("n")
	}
	if cmd.Flags().Changed("beta") {
		p.TrueCoefficient, _ = cmd.Flags().GetFloat64("beta")
	}
	if cmd.Flags().Changed("F") {
		p.FirstStageStrength, _ = cmd.Flags().GetFloat64("F")
	}
	if cmd.Flags().Changed("rho") {
		p.Endogeneity, _ = cmd.Flags().GetFloat64("rho")
	}
	return p
}

func addIVFlags(cmd *cobra.Command) {
	cmd.Flags().Int("n", 0, "sample size")
	cmd.Flags().Float64("beta", 0, "true coefficient")
	cmd.Flags().Float64("F", 0, "first stage strength")
	cmd.Flags().Float64("rho", 0, "endogeneity, in [-1, 1]")
}

func newIVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Estimate beta by IV on one simulated (or loaded) sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p := ivParamsFromFlags(cmd, cfg)

			var sample *ivsim.IVSample
			if data, _ := cmd.Flags().GetString("data"); data != "" {
				xCol, _ := cmd.Flags().GetString("x")
				yCol, _ := cmd.Flags().GetString("y")
				zCol, _ := cmd.Flags().GetString("z")
				sample, err = ivsim.LoadIVSampleCSV(data, xCol, yCol, zCol)
			} else {
				sample, err = ivsim.GenerateIV(p, ivsim.NewSampler(cfg.Seed))
			}
			if err != nil {
				return err
			}

			res, err := ivsim.EstimateIVSample(sample)
			if err != nil {
				return err
			}
			log.Debug("iv estimated", "n", sample.Y.Len(), "beta", res.Coefficient, "t", res.TStatistic)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, map[string]any{
					"params":           p,
					"coefficient":      res.Coefficient,
					"se_homoskedastic": res.SEHomoskedastic,
					"ci_homoskedastic": res.CIHomoskedastic,
					"t_statistic":      res.TStatistic,
					"reject":           res.Rejects(),
				})
			}
			ivsim.PrintIV(cmd.OutOrStdout(), res)
			return nil
		},
	}

	addIVFlags(cmd)
	cmd.Flags().String("data", "", "CSV file to estimate instead of simulating")
	cmd.Flags().String("x", "x", "regressor column")
	cmd.Flags().String("y", "y", "outcome column")
	cmd.Flags().String("z", "z", "instrument column")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Distribution of the IV estimator and power of the t-test at one beta",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p := ivParamsFromFlags(cmd, cfg)

			if cmd.Flags().Changed("reps") {
				cfg.Repetitions, _ = cmd.Flags().GetInt("reps")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			opts := cfg.SimulationOptions()
			opts.Logger = log
			res, err := ivsim.NewRunner(opts).Run(cmd.Context(), p, cfg.Repetitions)
			if err != nil {
				return err
			}

			// Estimates go to a file named after the design
			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				return err
			}
			out := filepath.Join(cfg.OutputDir, ivsim.FileName("hist", p, "csv"))
			if err := ivsim.WriteEstimatesCSV(out, res); err != nil {
				return err
			}
			log.Info("estimates written", "path", out)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				summary, err := res.Summary()
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{
					"run_id":      res.RunID,
					"params":      p,
					"repetitions": res.Repetitions,
					"rejections":  res.Rejections,
					"power":       res.Power,
					"summary":     summary,
					"output":      out,
				})
			}
			return ivsim.PrintSimulation(cmd.OutOrStdout(), res)
		},
	}

	addIVFlags(cmd)
	cmd.Flags().Int("reps", 0, "repetitions (overrides config)")
	return cmd
}

func newPowerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Power curve of the t-test over a grid of true coefficients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p := ivParamsFromFlags(cmd, cfg)

			if cmd.Flags().Changed("from") {
				cfg.Power.From, _ = cmd.Flags().GetFloat64("from")
			}
			if cmd.Flags().Changed("to") {
				cfg.Power.To, _ = cmd.Flags().GetFloat64("to")
			}
			if cmd.Flags().Changed("step") {
				cfg.Power.Step, _ = cmd.Flags().GetFloat64("step")
			}
			if cmd.Flags().Changed("reps") {
				cfg.Repetitions, _ = cmd.Flags().GetInt("reps")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			grid, err := cfg.Grid()
			if err != nil {
				return err
			}

			runID := uuid.NewString()
			opts := cfg.SimulationOptions()
			opts.Logger = log.With("curve_id", runID)

			curve, err := ivsim.NewPowerCurveBuilder(opts).Build(cmd.Context(), p, grid)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				return err
			}
			out := filepath.Join(cfg.OutputDir, ivsim.FileName("power", p, "csv"))
			if err := ivsim.WritePowerCurveCSV(out, curve); err != nil {
				return err
			}
			log.Info("power curve written", "path", out)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				payload := map[string]any{
					"curve_id": runID,
					"params":   p,
					"grid":     curve.Grid,
					"power":    curve.Power,
					"output":   out,
				}
				if size, ok := curve.Size(); ok {
					payload["size"] = size
				}
				return writeJSON(cmd, payload)
			}
			ivsim.PrintPowerCurve(cmd.OutOrStdout(), curve)
			return nil
		},
	}

	addIVFlags(cmd)
	cmd.Flags().Float64("from", 0, "first grid value")
	cmd.Flags().Float64("to", 0, "last grid value")
	cmd.Flags().Float64("step", 0, "grid step")
	cmd.Flags().Int("reps", 0, "repetitions per grid point (overrides config)")
	return cmd
}
