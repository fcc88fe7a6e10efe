package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// MatchParser extracts the match entity plus map-stats and demo follow-up
// references from a match page.
type MatchParser struct {
	logger *zap.Logger
}

// NewMatchParser builds a MatchParser.
func NewMatchParser(logger *zap.Logger) *MatchParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchParser{logger: logger}
}

// Parse implements crawl.Parser[crawl.Match].
func (p *MatchParser) Parse(page crawl.Page) (crawl.Match, []crawl.FollowUp, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawl.Match{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("build document: %w", err)}
	}

	id := firstGroup(matchIDPattern, page.URL)
	if id == "" {
		return crawl.Match{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("no match id in url")}
	}

	teams := doc.Find("div.teamName")
	if teams.Length() < 2 {
		return crawl.Match{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("expected 2 team names, found %d", teams.Length())}
	}
	team1 := strings.TrimSpace(teams.Eq(0).Text())
	team2 := strings.TrimSpace(teams.Eq(1).Text())

	score1, err := gradientScore(doc, "div.team1-gradient")
	if err != nil {
		return crawl.Match{}, nil, &crawl.ParseError{URL: page.URL, Err: err}
	}
	score2, err := gradientScore(doc, "div.team2-gradient")
	if err != nil {
		return crawl.Match{}, nil, &crawl.ParseError{URL: page.URL, Err: err}
	}

	winner := team2
	if score1 > score2 {
		winner = team1
	}

	event := strings.TrimSpace(doc.Find("div.event.text-ellipsis").First().Text())
	if event == "" {
		event = "Unknown Event"
	}

	match := crawl.Match{
		ID:      id,
		URL:     page.URL,
		Team1:   team1,
		Team2:   team2,
		Score1:  score1,
		Score2:  score2,
		Winner:  winner,
		Event:   event,
		BestOf:  bestOf(doc),
		Forfeit: strings.EqualFold(strings.TrimSpace(doc.Find("div.mapname").First().Text()), "default"),
		Date:    matchDate(doc),
	}

	var followUps []crawl.FollowUp
	seen := make(map[string]struct{})
	doc.Find(`a[href*="/stats/matches/mapstatsid/"]`).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		mapID := firstGroup(mapIDPattern, href)
		if mapID == "" {
			return
		}
		if _, dup := seen[mapID]; dup {
			return
		}
		seen[mapID] = struct{}{}
		url := absoluteURL(href)
		match.MapLinks = append(match.MapLinks, url)
		followUps = append(followUps, crawl.FollowUp{
			Stage: crawl.StageMap,
			Ref:   crawl.Ref{ID: mapID, URL: url},
		})
	})

	if demoPath, ok := doc.Find("a.stream-box[data-demo-link]").First().Attr("data-demo-link"); ok && demoPath != "" {
		demoID := firstGroup(demoIDPattern, demoPath)
		if demoID == "" {
			// Some demo links omit the numeric id; the match id is stable
			// enough to key the attachment.
			demoID = id
		}
		match.DemoLink = absoluteURL(demoPath)
		followUps = append(followUps, crawl.FollowUp{
			Stage: crawl.StageDemo,
			Ref:   crawl.Ref{ID: demoID, URL: match.DemoLink},
		})
	} else {
		p.logger.Debug("match page has no demo link", zap.String("match_id", id))
	}

	match.DataComplete = len(match.MapLinks) > 0 && match.DemoLink != ""
	return match, followUps, nil
}

// gradientScore reads the score that follows the team link inside the team
// gradient block.
func gradientScore(doc *goquery.Document, selector string) (int, error) {
	score := doc.Find(selector + " a ~ div").First()
	if score.Length() == 0 {
		return 0, fmt.Errorf("no score in %s", selector)
	}
	n, err := strconv.Atoi(strings.TrimSpace(score.Text()))
	if err != nil {
		return 0, fmt.Errorf("score in %s: %w", selector, err)
	}
	return n, nil
}

// bestOf classifies the series format from the preformatted match note
// ("Best of 3 (LAN)" and similar).
func bestOf(doc *goquery.Document) string {
	note := strings.TrimSpace(doc.Find("div.padding.preformatted-text").First().Text())
	if i := strings.IndexByte(note, '\n'); i >= 0 {
		note = note[:i]
	}
	switch {
	case strings.Contains(note, "3"):
		return "bo3"
	case strings.Contains(note, "5"):
		return "bo5"
	default:
		return "bo1"
	}
}

func matchDate(doc *goquery.Document) time.Time {
	unix, ok := doc.Find("div.date[data-unix]").First().Attr("data-unix")
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
