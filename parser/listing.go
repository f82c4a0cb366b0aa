package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Listing is what a catalog page yields: product pages and, when present,
// the next catalog page.
type Listing struct {
	URLs []string
	Next string
}

// HasNext reports whether pagination continues after this page.
func (l Listing) HasNext() bool {
	return l.Next != ""
}

var (
	// a single slug ("/tu-mat-lc-535c/") or anything below /product/
	productPathRe = regexp.MustCompile(`^/(?:product/[^/]+(?:/[^/]+)*|[A-Za-z0-9-]+)/?$`)

	listingSkipMarkers = []string{"/page/", "/category/", "/tag/", "/danh-muc/", "/wp-content/", "/feed/"}

	// site sections that share the single-slug shape of product pages
	nonProductSlugs = map[string]bool{
		"product": true, "gioi-thieu": true, "lien-he": true, "tin-tuc": true,
		"about": true, "contact": true, "blog": true, "news": true,
		"cart": true, "gio-hang": true, "checkout": true, "thanh-toan": true,
		"my-account": true, "tai-khoan": true,
	}

	nextLinkXPaths = []string{
		`//link[@rel='next']`,
		`//a[@rel='next']`,
		`//a[contains(concat(' ', normalize-space(@class), ' '), ' next ')]`,
		`//li[contains(concat(' ', normalize-space(@class), ' '), ' next ')]/a`,
	}

	nextLinkLabels = map[string]bool{
		"»": true, "›": true, "next": true, "next »": true, "next ›": true,
		"sau": true, "trang sau": true, "tiếp": true, "trang tiếp": true,
	}
)

// ParseListing extracts product detail URLs and the next-page link from a
// catalog page. Unparseable input yields an empty listing.
func ParseListing(body, pageURL string) Listing {
	out := Listing{URLs: []string{}}

	page, err := url.Parse(pageURL)
	if err != nil || page.Host == "" {
		return out
	}
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return out
	}

	anchors, err := htmlquery.QueryAll(doc, "//a[@href]")
	if err != nil {
		return out
	}

	seen := newOrderedSet()
	for _, a := range anchors {
		if u, ok := productURL(page, htmlquery.SelectAttr(a, "href")); ok {
			seen.add(u)
		}
	}
	out.URLs = seen.items()
	out.Next = nextPage(doc, page, anchors)
	return out
}

func productURL(page *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" ||
		strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") {
		return "", false
	}

	abs, ok := resolveLink(page, href)
	if !ok || abs.Host != page.Host {
		return "", false
	}

	path := abs.Path
	for _, marker := range listingSkipMarkers {
		if strings.Contains(path, marker) {
			return "", false
		}
	}
	if path == "" || path == "/" || samePath(path, page.Path) {
		return "", false
	}
	if !productPathRe.MatchString(path) {
		return "", false
	}
	if nonProductSlugs[strings.Trim(path, "/")] {
		return "", false
	}
	return abs.String(), true
}

func nextPage(doc *html.Node, page *url.URL, anchors []*html.Node) string {
	for _, expr := range nextLinkXPaths {
		nodes, err := htmlquery.QueryAll(doc, expr)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if next, ok := nextCandidate(page, htmlquery.SelectAttr(n, "href")); ok {
				return next
			}
		}
	}

	for _, a := range anchors {
		label := strings.ToLower(NormalizeText(htmlquery.InnerText(a)))
		if !nextLinkLabels[label] {
			continue
		}
		if next, ok := nextCandidate(page, htmlquery.SelectAttr(a, "href")); ok {
			return next
		}
	}
	return ""
}

func nextCandidate(page *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	abs, ok := resolveLink(page, href)
	if !ok {
		return "", false
	}
	if abs.Host == page.Host && samePath(abs.Path, page.Path) && abs.RawQuery == page.RawQuery {
		return "", false
	}
	return abs.String(), true
}

func resolveLink(base *url.URL, href string) (*url.URL, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	return abs, true
}

func samePath(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
