package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-alaska/models"
)

type namedWriter struct {
	name string
	OutputWriter
}

// DualWriter fans products out to a JSON export and a CSV companion. The
// JSON file is the primary artefact, so it is always handled first.
type DualWriter struct {
	mu      sync.Mutex
	writers []namedWriter
}

// NewDualWriter creates a writer producing both files.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, fmt.Errorf("json writer: %w", err)
	}
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("csv writer: %w", err)
	}
	return &DualWriter{writers: []namedWriter{
		{name: "json", OutputWriter: jsonWriter},
		{name: "csv", OutputWriter: csvWriter},
	}}, nil
}

// Write stops at the first writer that rejects the batch.
func (dw *DualWriter) Write(products []*models.Product) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	for _, w := range dw.writers {
		if err := w.Write(products); err != nil {
			return fmt.Errorf("%s write: %w", w.name, err)
		}
	}
	return nil
}

// Close flushes every writer and joins the failures.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.each("close", OutputWriter.Close)
}

// Validate checks every output file and joins the failures.
func (dw *DualWriter) Validate() error {
	return dw.each("validate", OutputWriter.Validate)
}

func (dw *DualWriter) each(op string, fn func(OutputWriter) error) error {
	var errs []error
	for _, w := range dw.writers {
		if err := fn(w.OutputWriter); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", w.name, op, err))
		}
	}
	return errors.Join(errs...)
}
