// Package challenge generates verification codes and challenge URLs.
package challenge

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Alphabet is the set of characters used for verification codes.
// Visually confusable characters (0/O, 1/I) are excluded. The alphabet
// has 32 characters, so reducing a random byte modulo its length is
// exactly uniform.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the code length used when none is configured.
const DefaultCodeLength = 6

// DefaultMockCode is returned in mock mode when no fixed code is configured.
const DefaultMockCode = "123456"

// verifyPathSegment is appended to the base URL before the request id.
const verifyPathSegment = "/verify/"

// requestIDPlaceholder is substituted in mock URLs when present.
const requestIDPlaceholder = "{request_id}"

// MockConfig overrides code generation and URL construction for testing.
type MockConfig struct {
	// Enabled activates mock mode.
	Enabled bool
	// URL replaces the real challenge URL. A {request_id} placeholder is
	// substituted; otherwise the id is appended as a query parameter.
	URL string
	// Code is the fixed verification code. Blank falls back to DefaultMockCode.
	Code string
}

// Generator produces verification codes and challenge URLs.
type Generator struct {
	baseURL string
	mock    MockConfig
}

// NewGenerator creates a generator for the given base URL and mock settings.
func NewGenerator(baseURL string, mock MockConfig) *Generator {
	return &Generator{
		baseURL: strings.TrimSpace(baseURL),
		mock:    mock,
	}
}

// MockActive reports whether mock mode is enabled.
func (g *Generator) MockActive() bool {
	return g.mock.Enabled
}

// Code returns a verification code of the given length.
// In mock mode the configured fixed code is returned unchanged on every call.
func (g *Generator) Code(length int) (string, error) {
	if g.mock.Enabled {
		code := strings.TrimSpace(g.mock.Code)
		if code == "" {
			code = DefaultMockCode
		}
		return code, nil
	}
	return RandomCode(length)
}

// RandomCode draws length characters independently and uniformly from
// Alphabet using a cryptographically strong source.
func RandomCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	code := make([]byte, length)
	for i, b := range buf {
		code[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(code), nil
}

// URL builds the challenge URL for a request id.
// In mock mode the real base URL logic never runs.
func (g *Generator) URL(requestID string) string {
	if g.mock.Enabled {
		mockURL := strings.TrimSpace(g.mock.URL)
		if mockURL == "" {
			mockURL = "http://localhost/mock-challenge"
		}
		if strings.Contains(mockURL, requestIDPlaceholder) {
			return strings.ReplaceAll(mockURL, requestIDPlaceholder, requestID)
		}
		sep := "?"
		if strings.Contains(mockURL, "?") {
			sep = "&"
		}
		return mockURL + sep + "request_id=" + requestID
	}

	return strings.TrimRight(g.baseURL, "/") + verifyPathSegment + requestID
}
