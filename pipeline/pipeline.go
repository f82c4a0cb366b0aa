// Package pipeline collects scraped products and exports them once the run
// is over.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-alaska/models"
	"github.com/aluiziolira/go-scrape-alaska/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Pipeline validates and de-duplicates products in arrival order and hands
// the complete collection to the writer on Close.
type Pipeline struct {
	writer OutputWriter

	mu       sync.Mutex
	products []*models.Product
	seen     map[string]struct{}
	closed   bool
	err      error

	processed int64
	rejected  map[string]int
}

// NewPipeline builds a pipeline that exports to writer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:   writer,
		products: []*models.Product{},
		seen:     make(map[string]struct{}),
		rejected: make(map[string]int),
	}
}

// Process appends products to the collection. Invalid records and repeated
// URLs are counted and dropped; the error reports the first of them.
func (p *Pipeline) Process(products ...*models.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	var firstErr error
	for _, product := range products {
		if err := p.prepareLocked(product); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Products returns a snapshot of the collected products.
func (p *Pipeline) Products() []*models.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Product, len(p.products))
	copy(out, p.products)
	return out
}

// Close writes the collection and closes the writer. It is safe to call
// more than once; later calls return the first result.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.err
	}
	p.closed = true

	if p.writer == nil {
		return nil
	}
	if err := p.writer.Write(p.products); err != nil {
		p.err = fmt.Errorf("write products: %w", err)
		return p.err
	}
	if err := p.writer.Close(); err != nil {
		p.err = fmt.Errorf("close writer: %w", err)
		return p.err
	}
	if err := p.writer.Validate(); err != nil {
		p.err = fmt.Errorf("validate output: %w", err)
	}
	return p.err
}

// Discard marks the pipeline closed without writing anything.
func (p *Pipeline) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Err returns the error recorded by Close.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the counters: processed_products (int64)
// and validation_errors (map[string]int keyed by rejection reason).
func (p *Pipeline) GetMetrics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	rejected := make(map[string]int, len(p.rejected))
	for reason, n := range p.rejected {
		rejected[reason] = n
	}
	return map[string]interface{}{
		"processed_products": p.processed,
		"validation_errors":  rejected,
	}
}

func (p *Pipeline) prepareLocked(product *models.Product) error {
	if err := parser.ValidateProduct(product); err != nil {
		p.rejected["invalid_record"]++
		return err
	}
	if _, ok := p.seen[product.URL]; ok {
		p.rejected["duplicate_url"]++
		return fmt.Errorf("duplicate product url %s", product.URL)
	}
	p.seen[product.URL] = struct{}{}

	product.FillDefaults()
	p.products = append(p.products, product)
	p.processed++
	return nil
}
