package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode is how a command presents evaluation results.
type OutputMode int

const (
	// ModePretty styles scores and agent lines with color.
	ModePretty OutputMode = iota
	// ModePlain prints the same lines without escape codes.
	ModePlain
	// ModeJSON writes only the machine-readable outcome.
	ModeJSON
	// ModeQuiet prints the result but no live progress.
	ModeQuiet
)

func (m OutputMode) String() string {
	switch m {
	case ModePretty:
		return "pretty"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	}
	return "unknown"
}

// Color reports whether renderers should emit styles.
func (m OutputMode) Color() bool {
	return m == ModePretty
}

// Progress reports whether round-by-round events go to stderr.
func (m OutputMode) Progress() bool {
	return m == ModePretty || m == ModePlain
}

// ParseOutputMode maps a QUORUM_JUDGE_OUTPUT value to a mode. Unknown
// values fall back to pretty and are later downgraded if not on a terminal.
func ParseOutputMode(s string) OutputMode {
	switch s {
	case "plain":
		return ModePlain
	case "json":
		return ModeJSON
	case "quiet":
		return ModeQuiet
	}
	return ModePretty
}

// OutputFlags carries the CLI switches that affect presentation.
type OutputFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
}

// Detector picks an OutputMode from flags, environment and terminal state.
type Detector struct {
	getenv func(string) string
	isTTY  func() bool
}

// NewDetector inspects the process environment and stdout.
func NewDetector() *Detector {
	return &Detector{
		getenv: os.Getenv,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
	}
}

// Detect resolves the mode. Flags win over QUORUM_JUDGE_OUTPUT, and color
// is dropped under NO_COLOR, TERM=dumb, CI or a non-terminal stdout.
func (d *Detector) Detect(f OutputFlags) OutputMode {
	mode := ParseOutputMode(d.getenv("QUORUM_JUDGE_OUTPUT"))
	switch {
	case f.JSON:
		return ModeJSON
	case f.Quiet:
		return ModeQuiet
	case mode != ModePretty:
		return mode
	}
	if f.NoColor || !d.colorAllowed() {
		return ModePlain
	}
	return ModePretty
}

func (d *Detector) colorAllowed() bool {
	if d.getenv("NO_COLOR") != "" || d.getenv("TERM") == "dumb" {
		return false
	}
	if d.getenv("CI") != "" {
		return false
	}
	return d.isTTY()
}
