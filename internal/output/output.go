// Package output renders command results in text, JSON, or YAML.
// Structured formats go to stdout for piping; human-oriented text and
// error messages go to stderr.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"
)

// Format is the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON, FormatYAML:
		return Format(s), nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Writer renders values in one configured format.
type Writer struct {
	format Format
	out    io.Writer
	errOut io.Writer
}

// Option configures the Writer.
type Option func(*Writer)

// WithOutput sets the standard output writer.
func WithOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.out = w
	}
}

// WithErrorOutput sets the error output writer.
func WithErrorOutput(w io.Writer) Option {
	return func(wr *Writer) {
		wr.errOut = w
	}
}

// New creates a writer for the given format.
func New(format Format, opts ...Option) *Writer {
	w := &Writer{
		format: format,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Format returns the writer's configured format.
func (w *Writer) Format() Format {
	return w.format
}

// Write renders data in the configured format.
func (w *Writer) Write(data any) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		normalized, err := normalizeForYAML(data)
		if err != nil {
			return err
		}
		b, err := yaml.Marshal(normalized)
		if err != nil {
			return err
		}
		if len(b) == 0 || b[len(b)-1] != '\n' {
			b = append(b, '\n')
		}
		_, err = w.out.Write(b)
		return err
	case FormatText:
		// Text mode goes to stderr so stdout stays clean for pipelines.
		_, err := fmt.Fprintf(w.errOut, "%v\n", data)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// Text writes a pre-rendered human-readable string in text mode, and the
// given structured value otherwise.
func (w *Writer) Text(rendered string, structured any) error {
	if w.format == FormatText {
		_, err := fmt.Fprintln(w.errOut, rendered)
		return err
	}
	return w.Write(structured)
}

// Success reports a successful operation.
func (w *Writer) Success(msg string) {
	if w.format == FormatText {
		fmt.Fprintf(w.errOut, "✓ %s\n", msg)
		return
	}
	_ = w.Write(map[string]any{"status": "success", "message": msg})
}

// Error reports a failed operation.
func (w *Writer) Error(err error) {
	if w.format == FormatText {
		fmt.Fprintf(w.errOut, "✗ %s\n", err.Error())
		return
	}
	_ = w.Write(map[string]any{"status": "error", "message": err.Error()})
}

// normalizeForYAML round-trips through JSON so the YAML output honors the
// json struct tags and snake_case keys.
func normalizeForYAML(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
