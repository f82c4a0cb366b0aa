// Package models defines data structures for the scraper.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Product represents one scraped product detail page.
type Product struct {
	URL            string    `csv:"url" json:"url"`
	Name           string    `csv:"name" json:"name"`
	Category       string    `csv:"category" json:"category"`
	MSP            string    `csv:"msp" json:"msp"`
	Prices         Fields    `csv:"prices" json:"prices"`
	Specifications Fields    `csv:"specifications" json:"specifications"`
	Features       []string  `csv:"features" json:"features"`
	Description    string    `csv:"description" json:"description"`
	Images         []string  `csv:"images" json:"images"`
	ScrapedAt      time.Time `csv:"scraped_at" json:"scraped_at"`
}

// NewProduct returns a record for url with every collection initialised,
// so the serialized schema is identical whether or not fields were found.
func NewProduct(url string, scrapedAt time.Time) *Product {
	return &Product{
		URL:            url,
		Prices:         Fields{},
		Specifications: Fields{},
		Features:       []string{},
		Images:         []string{},
		ScrapedAt:      scrapedAt,
	}
}

// FillDefaults replaces nil collections with empty ones.
func (p *Product) FillDefaults() {
	if p.Prices == nil {
		p.Prices = Fields{}
	}
	if p.Specifications == nil {
		p.Specifications = Fields{}
	}
	if p.Features == nil {
		p.Features = []string{}
	}
	if p.Images == nil {
		p.Images = []string{}
	}
}

// Field is a single label/value pair.
type Field struct {
	Key   string
	Value string
}

// Fields is an insertion-ordered string mapping. It serializes as a JSON
// object whose keys appear in the order they were added.
type Fields []Field

// Get returns the value stored under key.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Set stores value under key, replacing an existing value in place.
func (f *Fields) Set(key, value string) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Key: key, Value: value})
}

// Add stores value under key only if key is absent and reports whether it did.
func (f *Fields) Add(key, value string) bool {
	if f.Has(key) {
		return false
	}
	*f = append(*f, Field{Key: key, Value: value})
	return true
}

// Keys returns the keys in insertion order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for _, field := range f {
		keys = append(keys, field.Key)
	}
	return keys
}

// MarshalJSON writes the pairs as a JSON object in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of strings, keeping key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("fields: value for %q: %w", key, err)
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	Products       []*Product
	StartTime      time.Time
	EndTime        time.Time
	TotalCount     int
	ErrorCount     int
	FailedURLs     []string
	ErrorsByType   map[string]int
	RetryCount     int
	RequestCount   int
	PageCount      int
	DiscoveredURLs int
	Truncated      bool
	// ListingCutShort is set when a listing page after the first failed and
	// the pages behind it were never reached.
	ListingCutShort bool
}
