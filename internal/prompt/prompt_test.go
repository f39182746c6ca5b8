package prompt

import (
	"strings"
	"testing"
	"time"
)

func TestRender_ContainsChallengeFields(t *testing.T) {
	t.Parallel()

	rendered := Render(Challenge{
		RequestID:   "req-123",
		Command:     "rm -rf /var/data",
		PatternID:   "rm-recursive-force",
		Description: "recursive or forced file removal",
		Severity:    "critical",
		URL:         "https://verify.example.com/verify/req-123",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	})

	for _, want := range []string{
		"rm -rf /var/data",
		"https://verify.example.com/verify/req-123",
		"req-123",
		"rm-recursive-force",
		"High-risk",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered challenge missing %q:\n%s", want, rendered)
		}
	}
	if strings.Contains(rendered, "mock mode") {
		t.Error("mock hint shown without mock code")
	}
}

func TestRender_MockHint(t *testing.T) {
	t.Parallel()

	rendered := Render(Challenge{
		RequestID: "req-1",
		Command:   "sudo reboot",
		URL:       "http://localhost/mock",
		ExpiresAt: time.Now().Add(time.Minute),
		MockCode:  "123456",
	})
	if !strings.Contains(rendered, "123456") {
		t.Errorf("mock code missing:\n%s", rendered)
	}
}

func TestRenderOutcome(t *testing.T) {
	t.Parallel()

	ok := RenderOutcome(true, "verified", "rm -rf /tmp")
	if !strings.Contains(ok, "verified") || !strings.Contains(ok, "rm -rf /tmp") {
		t.Errorf("verified outcome: %q", ok)
	}
	bad := RenderOutcome(false, "expired", "rm -rf /tmp")
	if !strings.Contains(bad, "expired") {
		t.Errorf("expired outcome: %q", bad)
	}
}

func TestRemainingText(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0 seconds"},
		{0, "0 seconds"},
		{500 * time.Millisecond, "1 second"},
		{30 * time.Second, "30 seconds"},
		{time.Minute, "1 minute"},
		{61 * time.Second, "2 minutes"},
		{5 * time.Minute, "5 minutes"},
	}
	for _, tc := range cases {
		if got := RemainingText(now.Add(tc.in), now); got != tc.want {
			t.Errorf("RemainingText(+%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}
