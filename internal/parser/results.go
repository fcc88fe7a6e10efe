// Package parser extracts structured entities from raw HLTV-style markup
// using goquery. One parser per page kind; parsers are pure except for
// warning logs on skippable malformations.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

const hltvBase = "https://www.hltv.org"

var (
	matchIDPattern   = regexp.MustCompile(`/matches/(\d+)`)
	mapIDPattern     = regexp.MustCompile(`/mapstatsid/(\d+)`)
	demoIDPattern    = regexp.MustCompile(`/demo/(\d+)`)
	ordinalPattern   = regexp.MustCompile(`(\d+)(st|nd|rd|th)`)
	playerIDPattern  = regexp.MustCompile(`/stats/players/(\d+)`)
	pairPattern      = regexp.MustCompile(`^(\d+)\s*\((\d+)\)$`)
	resultDateLayout = "January 2 2006"
)

// ResultsParser turns a results listing page into date-grouped sections of
// match references.
type ResultsParser struct {
	logger *zap.Logger
}

// NewResultsParser builds a ResultsParser.
func NewResultsParser(logger *zap.Logger) *ResultsParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultsParser{logger: logger}
}

// ParseSections extracts every date section in page order. Sections whose
// header date cannot be parsed are skipped with a warning: ambiguous
// formatting must not abort an otherwise-valid crawl.
func (p *ResultsParser) ParseSections(page crawl.Page) ([]crawl.Section, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("build document: %w", err)}
	}

	var sections []crawl.Section
	doc.Find("div.results-sublist").Each(func(_ int, sublist *goquery.Selection) {
		header := sublist.Find("div.standard-headline").First()
		if header.Length() == 0 {
			return
		}
		date, err := parseHeadlineDate(header.Text())
		if err != nil {
			p.logger.Warn("skipping section with unparseable date",
				zap.String("page", page.URL),
				zap.String("headline", strings.TrimSpace(header.Text())),
				zap.Error(err),
			)
			return
		}

		section := crawl.Section{Date: date}
		sublist.Find("div.result-con a[href]").Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok {
				return
			}
			id := firstGroup(matchIDPattern, href)
			if id == "" {
				return
			}
			section.Refs = append(section.Refs, crawl.Ref{ID: id, URL: absoluteURL(href)})
		})
		sections = append(sections, section)
	})
	return sections, nil
}

// parseHeadlineDate parses "Results for March 10th 2025" headers, stripping
// the ordinal suffix from the day only so month names stay intact.
func parseHeadlineDate(headline string) (time.Time, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(headline), "Results for "))
	raw = ordinalPattern.ReplaceAllString(raw, "$1")
	date, err := time.Parse(resultDateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse headline date %q: %w", raw, err)
	}
	return date, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return hltvBase + href
}
