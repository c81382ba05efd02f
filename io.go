// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LoadCSVColumns reads a CSV file with a header row into named float columns.
func LoadCSVColumns(path string) (map[string][]float64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("empty header in %s", path)
	}
	for j := range header {
		header[j] = strings.TrimSpace(header[j])
	}
	K := len(header)

	cols := make(map[string][]float64, K)
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != K {
			return nil, nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, K, len(record))
		}

		for j, s := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("parse float at row %d col %d (%q): %w", row+2, j+1, s, err)
			}
			cols[header[j]] = append(cols[header[j]], v)
		}
		row++
	}

	if row == 0 {
		return nil, nil, fmt.Errorf("no data rows in %s", path)
	}
	return cols, header, nil
}

func column(cols map[string][]float64, name string) ([]float64, error) {
	c, ok := cols[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	return c, nil
}

// LoadOLSSampleCSV builds an OLS sample [1 | x], y from two named columns
func LoadOLSSampleCSV(path, xCol, yCol string) (*OLSSample, error) {
	cols, _, err := LoadCSVColumns(path)
	if err != nil {
		return nil, err
	}
	x, err := column(cols, xCol)
	if err != nil {
		return nil, err
	}
	y, err := column(cols, yCol)
	if err != nil {
		return nil, err
	}

	N := len(x)
	X := mat.NewDense(N, 2, nil)
	for i := 0; i < N; i++ {
		X.Set(i, 0, 1.0)
		X.Set(i, 1, x[i])
	}
	return &OLSSample{X: X, Y: mat.NewVecDense(N, y)}, nil
}

// LoadIVSampleCSV builds an IV sample from three named columns
func LoadIVSampleCSV(path, xCol, yCol, zCol string) (*IVSample, error) {
	cols, _, err := LoadCSVColumns(path)
	if err != nil {
		return nil, err
	}
	x, err := column(cols, xCol)
	if err != nil {
		return nil, err
	}
	y, err := column(cols, yCol)
	if err != nil {
		return nil, err
	}
	z, err := column(cols, zCol)
	if err != nil {
		return nil, err
	}

	N := len(x)
	return &IVSample{
		X: mat.NewVecDense(N, x),
		Y: mat.NewVecDense(N, y),
		Z: mat.NewVecDense(N, z),
	}, nil
}

// FileName encodes the design in a file name, e.g. "hist_N1000_F10_rho0.5.csv"
func FileName(prefix string, p IVParams, ext string) string {
	return fmt.Sprintf("%s_N%d_F%s_rho%s.%s",
		prefix,
		p.SampleSize,
		strconv.FormatFloat(p.FirstStageStrength, 'g', -1, 64),
		strconv.FormatFloat(p.Endogeneity, 'g', -1, 64),
		strings.TrimPrefix(ext, "."),
	)
}

// WriteEstimatesCSV writes one row per repetition: repetition, iv, ols
func WriteEstimatesCSV(path string, res *SimulationResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"Repetition", "IV", "OLS"}); err != nil {
		return err
	}
	for b := range res.Estimates {
		record := []string{
			strconv.Itoa(b),
			fmt.Sprintf("%f", res.Estimates[b]),
			fmt.Sprintf("%f", res.OLSEstimates[b]),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WritePowerCurveCSV writes one row per grid value: beta, power
func WritePowerCurveCSV(path string, curve *PowerCurve) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"Beta", "Power"}); err != nil {
		return err
	}
	for i := range curve.Grid {
		record := []string{
			fmt.Sprintf("%g", curve.Grid[i]),
			fmt.Sprintf("%f", curve.Power[i]),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// PrintOLS prints coefficients, both sets of standard errors and the slope intervals
func PrintOLS(w io.Writer, r *OLSResult) {
	fmt.Fprintln(w, "\n=== OLS ===")
	fmt.Fprintf(w, "%-10s %12s %12s %12s\n", "", "estimate", "se (hom)", "se (het)")
	for i, name := range []string{"intercept", "slope"} {
		fmt.Fprintf(w, "%-10s %12.4f %12.4f %12.4f\n",
			name, r.Coefficients[i], r.SEHomoskedastic[i], r.SEHeteroskedastic[i])
	}
	fmt.Fprintf(w, "95%% CI slope (hom): [%.4f, %.4f]\n", r.CIHomoskedastic.Low, r.CIHomoskedastic.High)
	fmt.Fprintf(w, "95%% CI slope (het): [%.4f, %.4f]\n", r.CIHeteroskedastic.Low, r.CIHeteroskedastic.High)

	fmt.Fprintln(w, "\n=== Covariance (homoskedastic) ===")
	fmt.Fprintf(w, "%v\n", mat.Formatted(r.CovHomoskedastic, mat.Prefix(" ")))
	fmt.Fprintln(w, "\n=== Covariance (heteroskedastic) ===")
	fmt.Fprintf(w, "%v\n", mat.Formatted(r.CovHeteroskedastic, mat.Prefix(" ")))
}

// PrintIV prints the IV estimate, its standard error, interval and t-statistic
func PrintIV(w io.Writer, r *IVResult) {
	fmt.Fprintln(w, "\n=== IV ===")
	fmt.Fprintf(w, "beta:        %.4f\n", r.Coefficient)
	fmt.Fprintf(w, "se (hom):    %.4f\n", r.SEHomoskedastic)
	fmt.Fprintf(w, "95%% CI:      [%.4f, %.4f]\n", r.CIHomoskedastic.Low, r.CIHomoskedastic.High)
	fmt.Fprintf(w, "|t|:         %.4f (reject H0: beta = 0: %t)\n", r.TStatistic, r.Rejects())
}

// PrintSimulation prints the power and the distribution summaries of a run
func PrintSimulation(w io.Writer, res *SimulationResult) error {
	iv, err := res.Summary()
	if err != nil {
		return err
	}
	ols, err := res.OLSSummary()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "\n=== Simulation ===")
	fmt.Fprintf(w, "N = %d, beta = %g, F = %g, rho = %g, repetitions = %d\n",
		res.Params.SampleSize, res.Params.TrueCoefficient, res.Params.FirstStageStrength,
		res.Params.Endogeneity, res.Repetitions)
	fmt.Fprintf(w, "rejections: %d, power: %.4f\n", res.Rejections, res.Power)
	fmt.Fprintf(w, "%-4s %10s %10s %10s %10s %10s\n", "", "mean", "median", "sd", "p2.5", "p97.5")
	for _, row := range []struct {
		name string
		s    Summary
	}{{"IV", iv}, {"OLS", ols}} {
		fmt.Fprintf(w, "%-4s %10.4f %10.4f %10.4f %10.4f %10.4f\n",
			row.name, row.s.Mean, row.s.Median, row.s.StdDev, row.s.Lower, row.s.Upper)
	}
	return nil
}

// PrintPowerCurve prints the curve as a two column table, and the size if 0 is on the grid
func PrintPowerCurve(w io.Writer, curve *PowerCurve) {
	fmt.Fprintln(w, "\n=== Power curve ===")
	for i := range curve.Grid {
		fmt.Fprintf(w, "%8.3f %8.4f\n", curve.Grid[i], curve.Power[i])
	}
	if size, ok := curve.Size(); ok {
		fmt.Fprintf(w, "size (beta = 0): %.4f\n", size)
	}
}
