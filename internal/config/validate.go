package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"console": true,
	"text":    true,
	"json":    true,
}

var knownOffloadProviders = map[string]bool{
	"local": true,
	"s3":    true,
	"azure": true,
	"gcs":   true,
	"b2":    true,
}

// ValidationResult separates errors that must stop the run from values that
// were clamped to a safe default.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; anything that would make a run unsafe is fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), using info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && !validLogFormats[strings.ToLower(c.LogFormat)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use console, text or json), using console", c.LogFormat))
		c.LogFormat = "console"
	}

	if c.ProbeTimeoutSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("probe_timeout_seconds %d is below minimum 1, clamping", c.ProbeTimeoutSeconds))
		c.ProbeTimeoutSeconds = 1
	} else if c.ProbeTimeoutSeconds > 60 {
		r.Warnings = append(r.Warnings, fmt.Errorf("probe_timeout_seconds %d exceeds maximum 60, clamping", c.ProbeTimeoutSeconds))
		c.ProbeTimeoutSeconds = 60
	}

	if c.ParallelProbes < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("parallel_probes %d is negative, running sequentially", c.ParallelProbes))
		c.ParallelProbes = 0
	} else if c.ParallelProbes > 32 {
		r.Warnings = append(r.Warnings, fmt.Errorf("parallel_probes %d exceeds maximum 32, clamping", c.ParallelProbes))
		c.ParallelProbes = 32
	}

	if c.BackupPath == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("backup_path must not be empty"))
	} else if !filepath.IsAbs(c.BackupPath) {
		r.Fatals = append(r.Fatals, fmt.Errorf("backup_path %q must be absolute", c.BackupPath))
	}

	if strings.TrimSpace(c.ConfirmToken) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("confirm_token must not be empty"))
	} else {
		for _, ch := range c.ConfirmToken {
			if unicode.IsControl(ch) {
				r.Fatals = append(r.Fatals, fmt.Errorf("confirm_token contains control characters"))
				break
			}
		}
	}

	if c.Offload.Enabled() {
		p := strings.ToLower(c.Offload.Provider)
		if !knownOffloadProviders[p] {
			r.Fatals = append(r.Fatals, fmt.Errorf("offload.provider %q is not supported", c.Offload.Provider))
		} else if p == "local" && c.Offload.Path == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("offload.path is required for the local provider"))
		} else if p != "local" && c.Offload.Bucket == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("offload.bucket is required for the %s provider", p))
		}
	}

	for _, err := range c.Target.Validate() {
		r.Fatals = append(r.Fatals, fmt.Errorf("target: %w", err))
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}
