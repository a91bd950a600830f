package fit

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"frapdiff/internal/models"
	"frapdiff/pkg/extraction"
)

// syntheticRecovery simulates a Gaussian bleach spot recovering under the
// model itself
func syntheticRecovery(n, frames, lf int, D, koff, dx, dt float64) ([]float64, *mat.Dense) {
	initial := make([]float64, n)
	center := float64(n-1) / 2
	for i := range initial {
		x := float64(i) - center
		initial[i] = 1 - 0.7*math.Exp(-x*x/(2*3*3))
	}

	m := &model{
		initial:  initial,
		observed: mat.NewDense(n, frames, nil),
		lf:       lf,
		i0:       1,
		dx:       dx,
		dt:       dt,
		substeps: 4,
	}
	return extraction.LocationGrid(n, dx), m.simulate(D, koff)
}

func TestSolveTridiagonal(t *testing.T) {
	// [2 -1 0; -1 2 -1; 0 -1 2] x = [1 0 1] has solution [1 1 1]
	lower := []float64{0, -1, -1}
	diag := []float64{2, 2, 2}
	upper := []float64{-1, -1, 0}
	x := make([]float64, 3)
	solveTridiagonal(lower, diag, upper, []float64{1, 0, 1}, x, make([]float64, 3))

	for i, v := range x {
		if math.Abs(v-1) > 1e-12 {
			t.Errorf("x[%d]: expected 1, got %f", i, v)
		}
	}
}

func TestSimulateRecoversWithoutReaction(t *testing.T) {
	_, pred := syntheticRecovery(20, 10, 5, 0.5, 0, 1, 1)

	// with koff=0 and I0=1 outside, the profile can only relax towards 1
	first := mat.Col(nil, 0, pred)
	last := mat.Col(nil, 9, pred)
	center := 10
	if last[center] <= first[center] {
		t.Errorf("Expected the bleach spot to recover, got %f -> %f", first[center], last[center])
	}
	for i, v := range last {
		if v > 1+1e-9 {
			t.Errorf("Position %d overshoots the baseline: %f", i, v)
		}
	}
}

func TestSimulateFlatProfileIsStationary(t *testing.T) {
	m := &model{
		initial:  []float64{1, 1, 1, 1},
		observed: mat.NewDense(4, 5, nil),
		lf:       3,
		i0:       1,
		dx:       0.5,
		dt:       1,
		substeps: 2,
	}

	pred := m.simulate(0.3, 0.1)
	rows, cols := pred.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if math.Abs(pred.At(r, c)-1) > 1e-12 {
				t.Errorf("Expected a stationary profile, got %f at (%d, %d)", pred.At(r, c), r, c)
			}
		}
	}
}

func TestDiffusionRecoversParameters(t *testing.T) {
	const (
		trueD    = 0.3
		trueKoff = 0.05
	)
	loc, values := syntheticRecovery(24, 30, 10, trueD, trueKoff, 0.5, 1)

	params := models.FitParams{
		I0:            1,
		FrameInterval: 1,
		DGuess:        0.1,
		KoffGuess:     0.1,
		MinLf:         9,
		MaxLf:         11,
	}

	result, err := NewDiffusion().FitTable(context.Background(), "synthetic", loc, values, params)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	D := result["D"].(float64)
	koff := result["koff"].(float64)
	lf := result["L_f"].(int)

	if math.Abs(D-trueD)/trueD > 0.15 {
		t.Errorf("Expected D close to %f, got %f", trueD, D)
	}
	if math.Abs(koff-trueKoff)/trueKoff > 0.3 {
		t.Errorf("Expected koff close to %f, got %f", trueKoff, koff)
	}
	if lf < 9 || lf > 11 {
		t.Errorf("Expected L_f inside [9, 11], got %d", lf)
	}
	if r2 := result["r2"].(float64); r2 < 0.999 {
		t.Errorf("Expected r2 above 0.999, got %f", r2)
	}
	if result["name"] != "synthetic" {
		t.Errorf("Expected name synthetic, got %v", result["name"])
	}
}

func TestDiffusionFitFromFile(t *testing.T) {
	loc, values := syntheticRecovery(16, 12, 8, 0.2, 0.1, 1, 2)
	path := filepath.Join(t.TempDir(), "movie_frap_recovery_proj.txt")
	profile := &models.Profile{Table: values, Location: loc}
	if err := extraction.SaveTable(path, profile); err != nil {
		t.Fatalf("Failed to save table: %v", err)
	}

	params := models.FitParams{I0: 1, FrameInterval: 2, DGuess: 0.05, KoffGuess: 0.1, MinLf: 8, MaxLf: 8}
	result, err := NewDiffusion().Fit(context.Background(), path, "movie", params)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if lf := result["L_f"].(int); lf != 8 {
		t.Errorf("Expected L_f 8, got %d", lf)
	}
}

func TestDiffusionRejectsBadParams(t *testing.T) {
	loc, values := syntheticRecovery(8, 4, 2, 0.2, 0.1, 1, 1)

	bad := []models.FitParams{
		{I0: 1, FrameInterval: 0, DGuess: 0.1, KoffGuess: 0.1, MinLf: 1, MaxLf: 2},
		{I0: 1, FrameInterval: 1, DGuess: -1, KoffGuess: 0.1, MinLf: 1, MaxLf: 2},
		{I0: 1, FrameInterval: 1, DGuess: 0.1, KoffGuess: 0.1, MinLf: 3, MaxLf: 2},
	}
	for i, params := range bad {
		if _, err := NewDiffusion().FitTable(context.Background(), "x", loc, values, params); err == nil {
			t.Errorf("Params %d: expected error, got nil", i)
		}
	}
}

func TestDiffusionHonoursCancellation(t *testing.T) {
	loc, values := syntheticRecovery(8, 4, 2, 0.2, 0.1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	params := models.FitParams{I0: 1, FrameInterval: 1, DGuess: 0.1, KoffGuess: 0.1, MinLf: 1, MaxLf: 2}
	if _, err := NewDiffusion().FitTable(ctx, "x", loc, values, params); err == nil {
		t.Error("Expected cancellation error, got nil")
	}
}

func TestLfCandidates(t *testing.T) {
	tests := []struct {
		min, max float64
		want     []int
	}{
		{8, 10, []int{8, 9, 10}},
		{7.5, 9.2, []int{8, 9}},
		{4.2, 4.8, []int{5}},
		{-2, 1, []int{0, 1}},
	}
	for _, tt := range tests {
		got := lfCandidates(tt.min, tt.max)
		if len(got) != len(tt.want) {
			t.Errorf("[%g, %g]: expected %v, got %v", tt.min, tt.max, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("[%g, %g]: expected %v, got %v", tt.min, tt.max, tt.want, got)
				break
			}
		}
	}
}

// writeScript creates an executable shell script in a temp dir
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "solver.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func TestCommandFitter(t *testing.T) {
	script := writeScript(t, `echo "{\"D\": 0.12, \"koff\": 0.04, \"args\": \"$*\"}"`+"\n")

	params := models.FitParams{I0: 0.98, FrameInterval: 0.5, DGuess: 0.05, KoffGuess: 0.1, MinLf: 8, MaxLf: 16}
	result, err := NewCommand(script).Fit(context.Background(), "/data/movie_frap_recovery_proj.txt", "movie", params)
	if err != nil {
		t.Fatalf("Failed to run fit command: %v", err)
	}

	if result["D"] != 0.12 || result["koff"] != 0.04 {
		t.Errorf("Unexpected result %v", result)
	}
	args, _ := result["args"].(string)
	for _, want := range []string{"--profile /data/movie_frap_recovery_proj.txt", "--name movie", "--I0 0.98", "--t-step 0.5", "--max-lf 16"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected solver args to contain %q, got %q", want, args)
		}
	}
}

func TestCommandFitterFailure(t *testing.T) {
	script := writeScript(t, "echo 'solver exploded' >&2\nexit 3\n")

	params := models.FitParams{I0: 1, FrameInterval: 1, DGuess: 0.05, KoffGuess: 0.1, MinLf: 8, MaxLf: 16}
	_, err := NewCommand(script).Fit(context.Background(), "p.txt", "movie", params)
	if err == nil {
		t.Fatal("Expected error from failing solver, got nil")
	}
	if !strings.Contains(err.Error(), "solver exploded") {
		t.Errorf("Expected stderr in error, got %q", err.Error())
	}
}

func TestCommandFitterInvalidJSON(t *testing.T) {
	script := writeScript(t, "echo 'not json'\n")

	params := models.FitParams{I0: 1, FrameInterval: 1, DGuess: 0.05, KoffGuess: 0.1, MinLf: 8, MaxLf: 16}
	if _, err := NewCommand(script).Fit(context.Background(), "p.txt", "movie", params); err == nil {
		t.Error("Expected error for invalid JSON, got nil")
	}
}
