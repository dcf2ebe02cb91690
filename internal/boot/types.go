// Package boot composes configuration loading, credential resolution,
// network-gate configuration, and backend readiness probing into a
// single BootResult (spec §4.11).
package boot

import (
	"fmt"
	"strings"
)

// BootResult is the outcome of running the boot pipeline once.
type BootResult struct {
	Success          bool
	OnlineAvailable  bool
	OfflineAvailable bool
	Warnings         []string
	Errors           []string
	BootTimeUTC      string
}

// Summary renders a one-line human-readable status, mirroring
// preflight.Checker's SummaryStatus strings ("ready", "ready_with_warnings",
// "failed").
func (r BootResult) Summary() string {
	status := "ready"
	switch {
	case !r.Success:
		status = "failed"
	case len(r.Warnings) > 0:
		status = "ready_with_warnings"
	}

	modes := make([]string, 0, 2)
	if r.OfflineAvailable {
		modes = append(modes, "offline")
	}
	if r.OnlineAvailable {
		modes = append(modes, "online")
	}
	modeDesc := "none"
	if len(modes) > 0 {
		modeDesc = strings.Join(modes, "+")
	}

	return fmt.Sprintf("%s (modes available: %s, warnings: %d, errors: %d)",
		status, modeDesc, len(r.Warnings), len(r.Errors))
}
