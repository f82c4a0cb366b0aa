package parser

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/aluiziolira/go-scrape-alaska/models"
)

const (
	maxDescriptionRunes = 1000
	maxSpecValueRunes   = 100
	maxFeatureRunes     = 200
	minBulletRunes      = 10
)

var (
	nameSelectors        = []string{"h1", ".product-title", ".entry-title"}
	breadcrumbSelectors  = []string{".breadcrumb", ".breadcrumbs", ".woocommerce-breadcrumb", `nav[aria-label="breadcrumb"]`}
	descriptionSelectors = []string{".product-description", ".entry-content", ".description", ".summary"}
	specListSelectors    = []string{".specifications li", ".specs li", ".thong-so li", ".thong-so-ky-thuat li", ".product-specs li"}
	titleCategories      = []string{"Tủ mát", "Tủ đông"}

	mspLabelRe  = regexp.MustCompile(`(?i)\bMSP\s*[:.]?\s*([A-Z0-9][A-Z0-9-]*)`)
	mspTokenRe  = regexp.MustCompile(`\b([A-Za-z]{1,5}-?[0-9]{2,}[A-Za-z0-9-]*)\b`)
	mspSlugRe   = regexp.MustCompile(`(?i)([a-z]{2}-[0-9]+[a-z]?)$`)
	titleSplits = []string{" | ", " - ", " – "}

	priceRe = regexp.MustCompile(`(?i)\b(mi(?:ề|e)n\s+(?:b(?:ắ|a)c|trung|nam))\b\s*[:\-–]?\s*((?:[0-9][0-9., ]*[0-9]|[0-9])\s*(?:vnđ|vnd|đ|₫))`)

	specLabelRe  = regexp.MustCompile(`(?i)^(Kích thước|Trọng lượng|Dung tích|Nhiệt độ|Công suất|Điện áp|Gas|Môi chất|Tần số|Chất làm lạnh|Xuất xứ|Bảo hành|Dimensions?|Weight|Capacity|Temperature|Power|Voltage|Refrigerant)\s*[:\-–]\s*(.+)$`)
	labelValueRe = regexp.MustCompile(`^([^:]{1,40}):\s*(\S.*)$`)

	featureClassRe = regexp.MustCompile(`(?i)feature|tính-năng|đặc-điểm|tinh-nang|dac-diem`)
	bulletLineRe   = regexp.MustCompile(`^[•▪▫▶→✓]\s*(.+)$`)
)

// ParseDetail builds a product record from a detail page. Every field is
// extracted independently; a field whose source block is missing keeps its
// empty default.
func ParseDetail(body, pageURL string, scrapedAt time.Time) *models.Product {
	product := models.NewProduct(pageURL, scrapedAt)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(norm.NFC.String(body)))
	if err != nil {
		return product
	}
	doc.Find("script, style, noscript").Remove()

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	lines := blockLines(root.Nodes...)
	title := NormalizeText(doc.Find("title").First().Text())

	product.Name = extractName(doc, title)
	product.Category = extractCategory(doc, title)
	product.MSP = extractMSP(lines, product.Name, base)
	product.Prices = extractPrices(lines)
	product.Specifications = extractSpecifications(doc, lines)
	product.Features = extractFeatures(doc, lines)
	product.Description = extractDescription(doc)
	product.Images = extractImages(doc, base)
	return product
}

func extractName(doc *goquery.Document, title string) string {
	for _, selector := range nameSelectors {
		if name := NormalizeText(doc.Find(selector).First().Text()); name != "" {
			return name
		}
	}
	name := title
	for _, sep := range titleSplits {
		if i := strings.Index(name, sep); i >= 0 {
			name = name[:i]
		}
	}
	return strings.TrimSpace(name)
}

func extractCategory(doc *goquery.Document, title string) string {
	for _, selector := range breadcrumbSelectors {
		crumb := doc.Find(selector).First()
		if crumb.Length() == 0 {
			continue
		}
		links := crumb.Find("a")
		// the first link is the home page
		if links.Length() > 1 {
			if category := NormalizeText(links.Last().Text()); category != "" {
				return category
			}
		}
	}
	for _, category := range titleCategories {
		if strings.Contains(title, category) {
			return category
		}
	}
	return ""
}

func extractMSP(lines []string, name string, base *url.URL) string {
	for _, line := range lines {
		for _, m := range mspLabelRe.FindAllStringSubmatch(line, -1) {
			if code := strings.Trim(m[1], "-"); containsDigit(code) {
				return code
			}
		}
	}
	if m := mspTokenRe.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if base != nil {
		slug := strings.Trim(base.Path, "/")
		if i := strings.LastIndex(slug, "/"); i >= 0 {
			slug = slug[i+1:]
		}
		if m := mspSlugRe.FindStringSubmatch(slug); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func extractPrices(lines []string) models.Fields {
	prices := models.Fields{}
	text := strings.Join(lines, "\n")
	for _, m := range priceRe.FindAllStringSubmatch(text, -1) {
		region := NormalizeText(m[1])
		price := NormalizeText(m[2])
		if region == "" || price == "" {
			continue
		}
		prices.Add(region, price)
	}
	return prices
}

func extractSpecifications(doc *goquery.Document, lines []string) models.Fields {
	specs := models.Fields{}
	accept := func(key, value string) bool {
		return key != "" && value != "" &&
			utf8.RuneCountInString(value) < maxSpecValueRunes &&
			!mentionsPrice(key, value)
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td, th")
		if cells.Length() < 2 {
			return
		}
		if cells.Filter("td").Length() == 0 {
			// header row
			return
		}
		key := NormalizeText(cells.Eq(0).Text())
		value := NormalizeText(cells.Eq(1).Text())
		if accept(key, value) {
			specs.Set(key, value)
		}
	})

	doc.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		key := NormalizeText(dt.Text())
		value := NormalizeText(dt.NextFiltered("dd").Text())
		if accept(key, value) {
			specs.Set(key, value)
		}
	})

	for _, selector := range specListSelectors {
		doc.Find(selector).Each(func(_ int, li *goquery.Selection) {
			m := labelValueRe.FindStringSubmatch(NormalizeText(li.Text()))
			if m == nil {
				return
			}
			key, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			if accept(key, value) {
				specs.Set(key, value)
			}
		})
	}

	for _, line := range lines {
		m := specLabelRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if accept(key, value) {
			specs.Add(key, value)
		}
	}
	return specs
}

func extractFeatures(doc *goquery.Document, lines []string) []string {
	features := newOrderedSet()

	doc.Find("ul, ol").Each(func(_ int, list *goquery.Selection) {
		if !featureClassRe.MatchString(list.AttrOr("class", "")) {
			return
		}
		list.Find("li").Each(func(_ int, li *goquery.Selection) {
			text := NormalizeText(li.Text())
			if utf8.RuneCountInString(text) < maxFeatureRunes {
				features.add(text)
			}
		})
	})

	for _, line := range lines {
		m := bulletLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[1])
		n := utf8.RuneCountInString(text)
		if n > minBulletRunes && n < maxFeatureRunes {
			features.add(text)
		}
	}
	return features.items()
}

func extractDescription(doc *goquery.Document) string {
	for _, selector := range descriptionSelectors {
		block := doc.Find(selector).First()
		if block.Length() == 0 {
			continue
		}

		var candidates []string
		block.Find("p").Each(func(_ int, p *goquery.Selection) {
			candidates = append(candidates, NormalizeText(p.Text()))
		})
		if len(candidates) == 0 {
			candidates = blockLines(block.Nodes...)
		}

		var parts []string
		for _, text := range candidates {
			if text == "" || labelValueRe.MatchString(text) {
				continue
			}
			parts = append(parts, text)
		}
		return truncateRunes(strings.Join(parts, "\n"), maxDescriptionRunes)
	}
	return ""
}

func extractImages(doc *goquery.Document, base *url.URL) []string {
	var found []string
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
			if abs, ok := resolveImage(base, img.AttrOr(attr, "")); ok {
				found = append(found, abs)
			}
		}
	})
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, meta *goquery.Selection) {
		if abs, ok := resolveImage(base, meta.AttrOr("content", "")); ok {
			found = append(found, abs)
		}
	})
	return FilterImages(found)
}

// PageText flattens a page to one normalized line per block element,
// capped at limit runes when limit is positive.
func PageText(body string, limit int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(norm.NFC.String(body)))
	if err != nil {
		return ""
	}
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return truncateRunes(strings.Join(blockLines(root.Nodes...), "\n"), limit)
}

// ExtractImages returns the filtered product image URLs of a page.
func ExtractImages(body, pageURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return []string{}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}
	return extractImages(doc, base)
}
