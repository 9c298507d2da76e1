package fixture

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"sigs.k8s.io/yaml"
)

// Output formats
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// WriterOptions configures the writer
type WriterOptions struct {
	OutputFile string
	Format     string
	// Stdout receives the output when OutputFile is empty; defaults to os.Stdout
	Stdout io.Writer
}

// Writer writes manifests and other reports
type Writer struct {
	opts WriterOptions
}

// NewWriter creates a new writer
func NewWriter(opts WriterOptions) *Writer {
	if opts.Format == "" {
		opts.Format = FormatYAML
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Writer{opts: opts}
}

// Write writes v to the configured output
func (w *Writer) Write(v interface{}) error {
	data, err := w.marshal(v)
	if err != nil {
		return err
	}

	if w.opts.OutputFile != "" {
		return w.writeToFile(data)
	}
	_, err = w.opts.Stdout.Write(data)
	return err
}

func (w *Writer) marshal(v interface{}) ([]byte, error) {
	switch w.opts.Format {
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal yaml: %w", err)
		}
		return data, nil
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal json: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", w.opts.Format)
	}
}

func (w *Writer) writeToFile(data []byte) error {
	if err := os.WriteFile(w.opts.OutputFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.opts.OutputFile, err)
	}
	return nil
}
