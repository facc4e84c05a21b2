package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxRedirectCap  = 50
	maxHandoffGrace = 10 * time.Second
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must stop startup from values that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether startup must be aborted.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config. Out-of-range values are clamped to safe
// defaults and reported as warnings; values the host cannot run with are
// reported as fatals.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		result.Fatals = append(result.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
	}

	for _, origin := range c.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result.Fatals = append(result.Fatals, fmt.Errorf("allowed_origins entry %q is not an origin URL", origin))
		}
	}

	name := c.UpdateArtifactName
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		result.Fatals = append(result.Fatals, fmt.Errorf("update_artifact_name %q must be a bare file name", name))
	}

	c.UpdateMaxRedirects = clampRedirects(&result, "update_max_redirects", c.UpdateMaxRedirects)
	c.WHEPMaxRedirects = clampRedirects(&result, "whep_max_redirects", c.WHEPMaxRedirects)
	c.ProbeMaxRedirects = clampRedirects(&result, "probe_max_redirects", c.ProbeMaxRedirects)

	if c.HandoffGrace < 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("handoff_grace %s is negative, clamping to 0", c.HandoffGrace))
		c.HandoffGrace = 0
	} else if c.HandoffGrace > maxHandoffGrace {
		result.Warnings = append(result.Warnings, fmt.Errorf("handoff_grace %s exceeds maximum %s, clamping", c.HandoffGrace, maxHandoffGrace))
		c.HandoffGrace = maxHandoffGrace
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), using info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.ForwardLogLevel != "" && !validLogLevels[strings.ToLower(c.ForwardLogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("forward_log_level %q is not valid, using warn", c.ForwardLogLevel))
		c.ForwardLogLevel = "warn"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), using text", c.LogFormat))
		c.LogFormat = "text"
	}

	return result
}

func clampRedirects(result *ValidationResult, key string, n int) int {
	switch {
	case n < 0:
		result.Warnings = append(result.Warnings, fmt.Errorf("%s %d is negative, clamping to 0", key, n))
		return 0
	case n > maxRedirectCap:
		result.Warnings = append(result.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, n, maxRedirectCap))
		return maxRedirectCap
	}
	return n
}
