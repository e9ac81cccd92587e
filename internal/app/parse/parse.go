// Package parse extracts canonical product references from resolved
// store URLs.
package parse

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrEmptyURL signals a missing or blank URL. Permanent.
	ErrEmptyURL = errors.New("empty url")
	// ErrUnknownStore signals a URL outside every recognized store root.
	ErrUnknownStore = errors.New("no recognized store root")
	// ErrNoProductID signals a store URL without an extractable id.
	ErrNoProductID = errors.New("no product id in url")
)

// idPrefixes are the known product path prefixes, in match order.
var idPrefixes = []string{
	"/dp/",
	"/gp/product/",
	"/o/ASIN/",
	"/exec/obidos/ASIN/",
}

// canonicalPrefix is used when rebuilding the canonical product URL.
const canonicalPrefix = "/o/ASIN/"

// DefaultRoots maps recognized store roots to their locale.
var DefaultRoots = map[string]string{
	"http://www.amazon.com":   "us",
	"http://www.amazon.co.uk": "uk",
	"http://www.amazon.ca":    "ca",
	"http://www.amazon.de":    "de",
	"http://www.amazon.fr":    "fr",
	"http://www.amazon.co.jp": "jp",
}

// ProductLink is a canonicalized product reference.
type ProductLink struct {
	// Root is the store root URL, e.g. "http://www.amazon.com".
	Root string
	// ID is the extracted product id (ASIN).
	ID string
	// Locale is the store locale, empty when unknown.
	Locale string
	// Canonical is the normalized product URL: root + "/o/ASIN/" + id.
	Canonical string
}

// Parser matches URLs against a set of recognized store roots.
type Parser struct {
	locales map[string]string
	roots   []string
}

// New builds a parser for the given root→locale set. A nil set uses
// DefaultRoots.
func New(roots map[string]string) *Parser {
	if roots == nil {
		roots = DefaultRoots
	}
	list := make([]string, 0, len(roots))
	for root := range roots {
		list = append(list, root)
	}
	// Longest root first, so "amazon.co.uk" is not shadowed by a root
	// that happens to be its prefix.
	sort.Slice(list, func(i, j int) bool {
		if len(list[i]) != len(list[j]) {
			return len(list[i]) > len(list[j])
		}
		return list[i] < list[j]
	})
	return &Parser{locales: roots, roots: list}
}

// Locale returns the locale of a store root, empty when unknown.
func (p *Parser) Locale(root string) string {
	return p.locales[root]
}

// Roots returns the recognized store roots.
func (p *Parser) Roots() []string {
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}

// Product extracts the canonical product reference from a final URL.
// Returns ErrUnknownStore or ErrNoProductID when the URL is not a
// recognized product page.
func (p *Parser) Product(rawURL string) (*ProductLink, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}

	root := p.matchRoot(rawURL)
	if root == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, rawURL)
	}

	id, err := extractID(rawURL)
	if err != nil {
		return nil, err
	}

	return &ProductLink{
		Root:      root,
		ID:        id,
		Locale:    p.locales[root],
		Canonical: root + canonicalPrefix + id,
	}, nil
}

func (p *Parser) matchRoot(url string) string {
	for _, root := range p.roots {
		if strings.Contains(url, root) {
			return root
		}
	}
	return ""
}

// extractID scans the known path prefixes in order and takes the path
// segment that follows, up to the next '/' or '%'. When that segment
// does not look like a valid id token (URLs like
// /dp/system-requirements/B0348023/), later segments are scanned as a
// fallback. Best-effort heuristic, not a strict grammar.
func extractID(url string) (string, error) {
	// Query parameters never carry the id.
	if i := strings.IndexByte(url, '?'); i != -1 {
		url = url[:i]
	}

	for _, prefix := range idPrefixes {
		start := strings.Index(url, prefix)
		if start == -1 {
			continue
		}

		for _, segment := range strings.Split(url[start+len(prefix):], "/") {
			// '%' sometimes stands in for '/'; cut there.
			if p := strings.IndexByte(segment, '%'); p != -1 {
				segment = segment[:p]
			}
			if validIDStart(segment) {
				return segment, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoProductID, url)
}

func validIDStart(token string) bool {
	if token == "" {
		return false
	}
	c := token[0]
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
