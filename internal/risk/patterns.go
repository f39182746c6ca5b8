// Package risk implements pattern matching for high-risk command detection.
package risk

import (
	"fmt"
	"regexp"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Severity ranks how dangerous a matched command is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium:
		return true
	}
	return false
}

// Pattern is a single high-risk matcher.
type Pattern struct {
	// ID identifies the pattern for configuration and display.
	ID string
	// Regex is the pattern source string.
	Regex string
	// Compiled is the compiled matcher.
	Compiled *regexp.Regexp
	// Description explains why the command is risky.
	Description string
	// Severity is the risk level.
	Severity Severity
	// Builtin marks default patterns (only these can be disabled by id).
	Builtin bool
}

// CustomPattern is a caller-supplied pattern before compilation.
type CustomPattern struct {
	ID          string `mapstructure:"id" json:"id"`
	Pattern     string `mapstructure:"pattern" json:"pattern"`
	Description string `mapstructure:"description" json:"description"`
	Severity    string `mapstructure:"severity" json:"severity"`
}

// Config controls which patterns are active.
type Config struct {
	// Enabled gates classification entirely. Disabled means nothing is
	// ever high-risk, but commands are still normalized.
	Enabled bool
	// DisabledPatterns lists builtin pattern ids to remove.
	DisabledPatterns []string
	// CustomPatterns are appended after the builtin set.
	CustomPatterns []CustomPattern
}

// Verdict is the result of classifying one command.
type Verdict struct {
	// HighRisk indicates the command requires step-up verification.
	HighRisk bool
	// Pattern is the first matching pattern, nil when not high-risk.
	Pattern *Pattern
	// Normalized is the trimmed, whitespace-collapsed command used for
	// matching and display.
	Normalized string
	// ParseError indicates the command could not be tokenized; matching
	// fell back to plain whitespace collapsing.
	ParseError bool
}

// SelfTestToken is a literal command that always classifies as high-risk.
// It exists so the full verification flow can be exercised end to end
// without running anything destructive.
const SelfTestToken = "stepgate-high-risk-test"

// defaultPatterns is the builtin set, evaluated in this order.
// First match wins; severity never reorders evaluation.
var defaultPatterns = compileDefaults([]Pattern{
	{
		ID:          "rm-recursive-force",
		Regex:       `\brm\s+(-[^\s]*\s+)*-[^\s]*[rf]`,
		Description: "Recursive or forced file deletion",
		Severity:    SeverityCritical,
	},
	{
		ID:          "sudo",
		Regex:       `^\s*(sudo|doas)\b`,
		Description: "Elevated-privilege invocation",
		Severity:    SeverityHigh,
	},
	{
		ID:          "sql-drop",
		Regex:       `\bDROP\s+(TABLE|DATABASE|SCHEMA|INDEX|VIEW)\b`,
		Description: "Dropping database objects",
		Severity:    SeverityCritical,
	},
	{
		ID:          "git-force-push",
		Regex:       `\bgit\s+push\b.*\s(--force($|\s)|-f($|\s))`,
		Description: "Forced git push rewrites remote history",
		Severity:    SeverityHigh,
	},
	{
		ID:          "kubectl-delete",
		Regex:       `\bkubectl\s+delete\b`,
		Description: "Destructive cluster-resource deletion",
		Severity:    SeverityHigh,
	},
	{
		ID:          "docker-prune",
		Regex:       `\bdocker\s+(system|container|image|volume|network)\s+prune\b`,
		Description: "Bulk container cleanup",
		Severity:    SeverityMedium,
	},
	{
		ID:          "chmod-chown-recursive-root",
		Regex:       `\b(chmod|chown)\s+(-[^\s]*\s+)*-[^\s]*R[^\s]*.*\s/`,
		Description: "Recursive permission or ownership change on a root path",
		Severity:    SeverityHigh,
	},
	{
		ID:          "disk-format",
		Regex:       `\bmkfs(\.\w+)?\b|\bdd\b.*\bof=/dev/`,
		Description: "Disk formatting or raw device write",
		Severity:    SeverityCritical,
	},
	{
		ID:          "sql-truncate",
		Regex:       `\bTRUNCATE\s+TABLE\b`,
		Description: "Table truncation destroys data",
		Severity:    SeverityHigh,
	},
	{
		ID:          "self-test",
		Regex:       regexp.QuoteMeta(SelfTestToken),
		Description: "Built-in token for exercising the verification flow",
		Severity:    SeverityMedium,
	},
})

func compileDefaults(patterns []Pattern) []Pattern {
	for i := range patterns {
		compiled, err := regexp.Compile("(?i)" + patterns[i].Regex)
		if err != nil {
			// Builtin patterns must always be valid.
			panic(fmt.Sprintf("invalid builtin pattern %q: %v", patterns[i].Regex, err))
		}
		patterns[i].Compiled = compiled
		patterns[i].Builtin = true
	}
	return patterns
}

// DefaultPatterns returns a copy of the builtin pattern set in evaluation order.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

// Engine evaluates commands against a fixed, pre-compiled pattern list.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	enabled  bool
	patterns []Pattern
}

// NewEngine builds the effective pattern list: builtin defaults minus
// disabled ids, then custom patterns appended in configuration order.
// Custom patterns with invalid regexes are skipped; they cannot be
// disabled by id.
func NewEngine(cfg Config) *Engine {
	disabled := make(map[string]bool, len(cfg.DisabledPatterns))
	for _, id := range cfg.DisabledPatterns {
		disabled[strings.TrimSpace(id)] = true
	}

	var patterns []Pattern
	for _, p := range defaultPatterns {
		if disabled[p.ID] {
			continue
		}
		patterns = append(patterns, p)
	}

	for _, c := range cfg.CustomPatterns {
		compiled, err := regexp.Compile("(?i)" + c.Pattern)
		if err != nil {
			continue
		}
		severity := Severity(c.Severity)
		if !severity.Valid() {
			severity = SeverityHigh
		}
		patterns = append(patterns, Pattern{
			ID:          c.ID,
			Regex:       c.Pattern,
			Compiled:    compiled,
			Description: c.Description,
			Severity:    severity,
		})
	}

	return &Engine{
		enabled:  cfg.Enabled,
		patterns: patterns,
	}
}

// Patterns returns the effective pattern list in evaluation order.
func (e *Engine) Patterns() []Pattern {
	out := make([]Pattern, len(e.patterns))
	copy(out, e.patterns)
	return out
}

// Classify determines whether a command requires step-up verification.
// The first pattern whose matcher accepts the normalized command wins.
func (e *Engine) Classify(command string) Verdict {
	normalized, parseErr := NormalizeCommand(command)

	verdict := Verdict{
		Normalized: normalized,
		ParseError: parseErr,
	}

	if !e.enabled {
		return verdict
	}

	for i := range e.patterns {
		if e.patterns[i].Compiled.MatchString(normalized) {
			verdict.HighRisk = true
			verdict.Pattern = &e.patterns[i]
			return verdict
		}
	}

	return verdict
}

// NormalizeCommand trims a command, collapses internal whitespace, and
// strips leading NAME=value environment assignments so patterns anchored
// at the program name still match wrapped invocations.
//
// Returns the normalized command and whether tokenization failed (in which
// case only whitespace collapsing was applied).
var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

func NormalizeCommand(command string) (string, bool) {
	collapsed := strings.Join(strings.Fields(command), " ")

	tokens, err := shellwords.Parse(collapsed)
	if err != nil || len(tokens) == 0 {
		return collapsed, err != nil
	}

	i := 0
	for i < len(tokens)-1 && envAssignment.MatchString(tokens[i]) {
		i++
	}
	if i == 0 {
		return collapsed, false
	}

	// Re-derive the suffix from the collapsed string rather than rejoining
	// tokens, so quoting inside the command survives.
	rest := collapsed
	for j := 0; j < i; j++ {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, tokens[j]))
	}
	if rest == "" {
		return collapsed, false
	}
	return rest, false
}
