package risk

import (
	"strings"
	"testing"
)

func enabledEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Enabled = true
	return NewEngine(cfg)
}

func TestClassify_DefaultPatterns(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{})

	cases := []struct {
		command  string
		wantID   string
		highRisk bool
	}{
		{"rm -rf /tmp", "rm-recursive-force", true},
		{"rm -fr build/", "rm-recursive-force", true},
		{"rm -r node_modules", "rm-recursive-force", true},
		{"sudo apt update", "sudo", true},
		{"doas reboot", "sudo", true},
		{"psql -c 'DROP TABLE users'", "sql-drop", true},
		{"drop database prod", "sql-drop", true},
		{"git push --force origin main", "git-force-push", true},
		{"git push -f", "git-force-push", true},
		{"kubectl delete namespace staging", "kubectl-delete", true},
		{"docker system prune -a", "docker-prune", true},
		{"chmod -R 777 /etc", "chmod-chown-recursive-root", true},
		{"chown -R root /var/lib", "chmod-chown-recursive-root", true},
		{"mkfs.ext4 /dev/sda1", "disk-format", true},
		{"dd if=/dev/zero of=/dev/sda", "disk-format", true},
		{"psql -c 'TRUNCATE TABLE events'", "sql-truncate", true},
		{SelfTestToken, "self-test", true},

		{"ls -la", "", false},
		{"rm notes.txt", "", false},
		{"git push origin main", "", false},
		{"git push --force-with-lease", "", false},
		{"chmod -R 755 build/", "", false},
		{"echo hello", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.command, func(t *testing.T) {
			v := e.Classify(tc.command)
			if v.HighRisk != tc.highRisk {
				t.Fatalf("Classify(%q).HighRisk=%v want %v", tc.command, v.HighRisk, tc.highRisk)
			}
			if tc.highRisk {
				if v.Pattern == nil {
					t.Fatalf("Classify(%q) matched but Pattern is nil", tc.command)
				}
				if v.Pattern.ID != tc.wantID {
					t.Errorf("Classify(%q) matched %q want %q", tc.command, v.Pattern.ID, tc.wantID)
				}
			} else if v.Pattern != nil {
				t.Errorf("Classify(%q) unexpectedly matched %q", tc.command, v.Pattern.ID)
			}
		})
	}
}

func TestClassify_Severities(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{})

	if v := e.Classify("DROP TABLE users"); v.Pattern == nil || v.Pattern.Severity != SeverityCritical {
		t.Errorf("DROP TABLE should be critical, got %+v", v.Pattern)
	}
	if v := e.Classify("docker system prune"); v.Pattern == nil || v.Pattern.Severity != SeverityMedium {
		t.Errorf("docker prune should be medium, got %+v", v.Pattern)
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	t.Parallel()

	// "sudo rm -rf /" matches both rm-recursive-force (earlier, critical)
	// and sudo (later, high). Order decides, not severity.
	e := enabledEngine(t, Config{})
	v := e.Classify("sudo rm -rf /")
	if v.Pattern == nil || v.Pattern.ID != "rm-recursive-force" {
		t.Fatalf("expected rm-recursive-force first, got %+v", v.Pattern)
	}

	// Disabling the earlier pattern reveals the later one.
	e = enabledEngine(t, Config{DisabledPatterns: []string{"rm-recursive-force"}})
	v = e.Classify("sudo rm -rf /")
	if v.Pattern == nil || v.Pattern.ID != "sudo" {
		t.Fatalf("expected sudo after disabling rm pattern, got %+v", v.Pattern)
	}
}

func TestClassify_DisabledPattern(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{DisabledPatterns: []string{"sudo"}})
	if v := e.Classify("sudo apt update"); v.HighRisk {
		t.Errorf("sudo pattern disabled but command still classified: %+v", v.Pattern)
	}
	// Other defaults unaffected.
	if v := e.Classify("rm -rf /tmp"); !v.HighRisk {
		t.Errorf("unrelated default pattern was lost")
	}
}

func TestClassify_CustomPattern(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{
		CustomPatterns: []CustomPattern{
			{ID: "custom1", Pattern: "launch-nukes", Description: "test", Severity: "critical"},
		},
	})

	v := e.Classify("launch-nukes")
	if !v.HighRisk {
		t.Fatalf("custom pattern did not match")
	}
	if v.Pattern.ID != "custom1" {
		t.Errorf("matched %q want custom1", v.Pattern.ID)
	}
	if v.Pattern.Severity != SeverityCritical {
		t.Errorf("severity=%q want critical", v.Pattern.Severity)
	}
}

func TestClassify_CustomPatternsCannotBeDisabled(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{
		DisabledPatterns: []string{"custom1"},
		CustomPatterns: []CustomPattern{
			{ID: "custom1", Pattern: "launch-nukes"},
		},
	})
	if v := e.Classify("launch-nukes"); !v.HighRisk {
		t.Errorf("custom pattern must not be disabled by id")
	}
}

func TestClassify_InvalidCustomPatternSkipped(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{
		CustomPatterns: []CustomPattern{
			{ID: "bad", Pattern: "(unterminated"},
			{ID: "good", Pattern: "launch-nukes"},
		},
	})
	if v := e.Classify("launch-nukes"); !v.HighRisk || v.Pattern.ID != "good" {
		t.Errorf("valid custom pattern after an invalid one was lost: %+v", v.Pattern)
	}
}

func TestClassify_DetectionDisabled(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{Enabled: false})
	v := e.Classify("  rm   -rf  / ")
	if v.HighRisk {
		t.Errorf("detection disabled but command classified high-risk")
	}
	if v.Normalized != "rm -rf /" {
		t.Errorf("normalized=%q want %q", v.Normalized, "rm -rf /")
	}
}

func TestNormalizeCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		want     string
		parseErr bool
	}{
		{"  rm   -rf   /tmp  ", "rm -rf /tmp", false},
		{"FOO=1 rm -rf /", "rm -rf /", false},
		{"A=1 B=2 kubectl delete pod x", "kubectl delete pod x", false},
		{"plain command", "plain command", false},
		{`echo "unterminated`, `echo "unterminated`, true},
	}

	for _, tc := range cases {
		got, parseErr := NormalizeCommand(tc.in)
		if got != tc.want {
			t.Errorf("NormalizeCommand(%q)=%q want %q", tc.in, got, tc.want)
		}
		if parseErr != tc.parseErr {
			t.Errorf("NormalizeCommand(%q) parseErr=%v want %v", tc.in, parseErr, tc.parseErr)
		}
	}
}

func TestDefaultPatterns_Stable(t *testing.T) {
	t.Parallel()

	patterns := DefaultPatterns()
	if len(patterns) != 10 {
		t.Fatalf("default pattern count=%d want 10", len(patterns))
	}
	for _, p := range patterns {
		if p.ID == "" || p.Description == "" || p.Compiled == nil {
			t.Errorf("incomplete builtin pattern: %+v", p)
		}
		if !p.Severity.Valid() {
			t.Errorf("pattern %s has invalid severity %q", p.ID, p.Severity)
		}
		if !p.Builtin {
			t.Errorf("pattern %s not marked builtin", p.ID)
		}
	}
	// Mutating the returned slice must not affect the engine.
	patterns[0].ID = "mutated"
	if DefaultPatterns()[0].ID == "mutated" {
		t.Error("DefaultPatterns returned shared backing storage")
	}
}

func TestEngine_PatternsOrder(t *testing.T) {
	t.Parallel()

	e := enabledEngine(t, Config{
		DisabledPatterns: []string{"sudo"},
		CustomPatterns:   []CustomPattern{{ID: "custom1", Pattern: "xyzzy"}},
	})
	patterns := e.Patterns()
	if len(patterns) != 10 { // 10 defaults - 1 disabled + 1 custom
		t.Fatalf("effective pattern count=%d want 10", len(patterns))
	}
	for _, p := range patterns {
		if p.ID == "sudo" {
			t.Error("disabled pattern still present")
		}
	}
	if last := patterns[len(patterns)-1]; last.ID != "custom1" {
		t.Errorf("custom pattern not appended last: %q", last.ID)
	}
	if !strings.Contains(patterns[0].Regex, "rm") {
		t.Errorf("default order changed, first=%q", patterns[0].ID)
	}
}
