package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-alaska/models"
)

var csvHeader = []string{"url", "name", "category", "msp", "prices", "specifications", "features", "description", "images", "scraped_at"}

// CSVWriter writes records to CSV, one row per product. Mappings are
// flattened to "label=value; label=value" and lists are joined with " | ".
type CSVWriter struct {
	filename string
	products []*models.Product
	closed   bool
	mu       sync.Mutex
}

// NewCSVWriter prepares a CSV writer. The file is created on Close.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &CSVWriter{filename: filename}, nil
}

// Write buffers products for the output file.
func (cw *CSVWriter) Write(products []*models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return ErrPipelineClosed
	}
	cw.products = append(cw.products, products...)
	return nil
}

// Close writes the header and every buffered row.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return nil
	}
	cw.closed = true

	return writeAtomic(cw.filename, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, p := range cw.products {
			record := []string{
				p.URL,
				p.Name,
				p.Category,
				p.MSP,
				flattenFields(p.Prices),
				flattenFields(p.Specifications),
				strings.Join(p.Features, " | "),
				p.Description,
				strings.Join(p.Images, " | "),
				p.ScrapedAt.Format(time.RFC3339),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// Validate ensures the file exists and has at least the header row.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.filename)
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes all records as one indented JSON array with non-ASCII
// text kept verbatim.
type JSONWriter struct {
	filename string
	products []*models.Product
	closed   bool
	mu       sync.Mutex
}

// NewJSONWriter prepares the JSON writer. The file is created on Close.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &JSONWriter{filename: filename}, nil
}

// Write buffers products for the output file.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrPipelineClosed
	}
	jw.products = append(jw.products, products...)
	return nil
}

// Close encodes the array and moves it into place.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return nil
	}
	jw.closed = true

	products := jw.products
	if products == nil {
		products = []*models.Product{}
	}
	return writeAtomic(jw.filename, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetEscapeHTML(false)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(products); err != nil {
			return fmt.Errorf("encode json records: %w", err)
		}
		return nil
	})
}

// Validate ensures the file holds a well-formed JSON document.
func (jw *JSONWriter) Validate() error {
	data, err := os.ReadFile(jw.filename)
	if err != nil {
		return fmt.Errorf("read json file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("json file is empty")
	}
	if !json.Valid(data) {
		return fmt.Errorf("json file is not valid json")
	}
	return nil
}

func flattenFields(fields models.Fields) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Key+"="+f.Value)
	}
	return strings.Join(parts, "; ")
}

// writeAtomic writes through a temp file in the target directory and
// renames it over filename, so a failed write leaves no partial output.
func writeAtomic(filename string, fill func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	buffer := bufio.NewWriter(tmp)
	if err := fill(buffer); err != nil {
		cleanup()
		return err
	}
	if err := buffer.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("flush %s: %w", filename, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
