package challenge

import (
	"strings"
	"testing"
)

func TestRandomCode_LengthAndAlphabet(t *testing.T) {
	t.Parallel()

	for _, length := range []int{4, 6, 8, 12} {
		code, err := RandomCode(length)
		if err != nil {
			t.Fatalf("RandomCode(%d): %v", length, err)
		}
		if len(code) != length {
			t.Errorf("len(code)=%d want %d", len(code), length)
		}
		for _, c := range code {
			if !strings.ContainsRune(Alphabet, c) {
				t.Errorf("code %q contains %q outside alphabet", code, c)
			}
		}
		for _, forbidden := range "0O1I" {
			if strings.ContainsRune(code, forbidden) {
				t.Errorf("code %q contains confusable character %q", code, forbidden)
			}
		}
	}
}

func TestRandomCode_NonPositiveLengthUsesDefault(t *testing.T) {
	t.Parallel()

	code, err := RandomCode(0)
	if err != nil {
		t.Fatalf("RandomCode(0): %v", err)
	}
	if len(code) != DefaultCodeLength {
		t.Errorf("len(code)=%d want %d", len(code), DefaultCodeLength)
	}
}

func TestGenerator_MockCode(t *testing.T) {
	t.Parallel()

	t.Run("fixed code is trimmed", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("", MockConfig{Enabled: true, Code: "  AB12CD  "})
		code, err := g.Code(6)
		if err != nil {
			t.Fatalf("Code: %v", err)
		}
		if code != "AB12CD" {
			t.Errorf("code=%q want AB12CD", code)
		}
	})

	t.Run("blank code falls back to default", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("", MockConfig{Enabled: true, Code: "   "})
		code, err := g.Code(6)
		if err != nil {
			t.Fatalf("Code: %v", err)
		}
		if code != DefaultMockCode {
			t.Errorf("code=%q want %q", code, DefaultMockCode)
		}
	})

	t.Run("mock disabled generates random code", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("https://verify.example.com", MockConfig{})
		code, err := g.Code(8)
		if err != nil {
			t.Fatalf("Code: %v", err)
		}
		if len(code) != 8 {
			t.Errorf("len(code)=%d want 8", len(code))
		}
	})
}

func TestGenerator_URL(t *testing.T) {
	t.Parallel()

	t.Run("real base URL", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("https://verify.example.com/", MockConfig{})
		got := g.URL("req-123")
		want := "https://verify.example.com/verify/req-123"
		if got != want {
			t.Errorf("URL=%q want %q", got, want)
		}
	})

	t.Run("mock URL with placeholder", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("https://verify.example.com", MockConfig{
			Enabled: true,
			URL:     "http://localhost:9999/challenge/{request_id}/confirm",
		})
		got := g.URL("req-123")
		want := "http://localhost:9999/challenge/req-123/confirm"
		if got != want {
			t.Errorf("URL=%q want %q", got, want)
		}
	})

	t.Run("mock URL without placeholder appends query", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("https://verify.example.com", MockConfig{
			Enabled: true,
			URL:     "http://localhost:9999/challenge",
		})
		got := g.URL("req-123")
		want := "http://localhost:9999/challenge?request_id=req-123"
		if got != want {
			t.Errorf("URL=%q want %q", got, want)
		}
	})

	t.Run("mock never uses the real base", func(t *testing.T) {
		t.Parallel()
		g := NewGenerator("https://verify.example.com", MockConfig{Enabled: true})
		if got := g.URL("req-123"); strings.Contains(got, "verify.example.com") {
			t.Errorf("mock URL %q leaked the real base", got)
		}
	})
}
