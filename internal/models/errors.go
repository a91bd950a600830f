package models

import (
	"fmt"
	"strings"
)

// FormatError reports an input file that is not a calibrated image stack
// or lacks required metadata
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("format error: %s", e.Reason)
	}
	return fmt.Sprintf("format error in %s: %s", e.Path, e.Reason)
}

// NotFoundError reports that no ROI could be obtained from any of the
// attempted sources
type NotFoundError struct {
	Paths []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no ROI found in %s", strings.Join(e.Paths, " or "))
}

// ConfigurationError reports an unrecognised configuration value. It applies
// to every input file alike, so batch runs abort on it.
type ConfigurationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s: %q (use %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// GeometryError reports a window or ROI that does not fit the frame
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry error: %s", e.Reason)
}
