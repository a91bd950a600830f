package fit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"frapdiff/internal/models"
)

// Command delegates the fit to an external solver executable. The solver
// receives the profile path and scalars as flags and must print a single
// JSON object on stdout.
type Command struct {
	// Path is the solver executable
	Path string

	// Args are passed before the generated flags
	Args []string
}

// NewCommand returns a fitter running the executable at path
func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

// Fit runs the solver and decodes its JSON output
func (c *Command) Fit(ctx context.Context, profilePath, name string, params models.FitParams) (Result, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	args := append([]string{}, c.Args...)
	args = append(args,
		"--profile", profilePath,
		"--name", name,
		"--I0", f(params.I0),
		"--t-step", f(params.FrameInterval),
		"--D-guess", f(params.DGuess),
		"--koff-guess", f(params.KoffGuess),
		"--min-lf", f(params.MinLf),
		"--max-lf", f(params.MaxLf),
	)

	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("fit command %s failed: %w", c.Path, err)
		}
		return nil, fmt.Errorf("fit command %s failed: %w: %s", c.Path, err, msg)
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("fit command %s returned invalid JSON: %w", c.Path, err)
	}
	if result == nil {
		result = Result{}
	}
	return result, nil
}
