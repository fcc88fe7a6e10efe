// Package detector decides when a fetch should be promoted to a headless
// renderer.
package detector

import (
	"bytes"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// Heuristic implements a handful of rule-based promotions. HLTV-style pages
// that hydrate their content client side come back small and script-heavy on
// a plain GET.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("Enable JavaScript"),
}

// ShouldPromote decides whether a headless re-fetch is required.
func (h *Heuristic) ShouldPromote(page crawl.Page) bool {
	if page.Rendered || page.StatusCode != 200 {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document.
func scriptDensityHigh(body []byte) bool {
	doc := bytes.ToLower(body)
	total := len(doc)
	if total == 0 {
		return false
	}

	open := []byte("<script")
	clos := []byte("</script>")

	covered := 0
	for len(doc) > 0 {
		i := bytes.Index(doc, open)
		if i < 0 {
			break
		}
		span := doc[i:]
		j := bytes.Index(span, clos)
		if j < 0 {
			// Unterminated script; count everything that remains.
			covered += len(span)
			break
		}
		covered += j + len(clos)
		doc = span[j+len(clos):]
	}

	return covered > 0 && covered*100/total >= 25
}
