// Package parser turns alaska.vn listing and product pages into records.
package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-alaska/models"
)

// ValidateProduct ensures a record carries the fields every output row needs.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url")
	}
	if p.ScrapedAt.IsZero() {
		return fmt.Errorf("product missing scraped_at for %s", p.URL)
	}
	return nil
}

// NormalizeProduct tidies a record built outside ParseDetail so that it has
// the same shape: trimmed strings, empty collections instead of nil,
// deduplicated features and filtered images.
func NormalizeProduct(p *models.Product) {
	if p == nil {
		return
	}
	p.FillDefaults()
	p.Name = NormalizeText(p.Name)
	p.Category = NormalizeText(p.Category)
	p.MSP = NormalizeText(p.MSP)
	p.Description = truncateRunes(NormalizeText(p.Description), maxDescriptionRunes)

	prices := models.Fields{}
	for _, f := range p.Prices {
		key, value := NormalizeText(f.Key), NormalizeText(f.Value)
		if key != "" && value != "" {
			prices.Add(key, value)
		}
	}
	p.Prices = prices

	specs := models.Fields{}
	for _, f := range p.Specifications {
		key, value := NormalizeText(f.Key), NormalizeText(f.Value)
		if key != "" && value != "" {
			specs.Add(key, value)
		}
	}
	p.Specifications = specs

	features := newOrderedSet()
	for _, feature := range p.Features {
		features.add(NormalizeText(feature))
	}
	p.Features = features.items()

	p.Images = FilterImages(p.Images)
}

// orderedSet keeps first-seen order of non-empty strings.
type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), order: []string{}}
}

func (s *orderedSet) add(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

func (s *orderedSet) items() []string {
	return s.order
}
