package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// MapStatsParser extracts the map summary and every player's scoreboard
// line from a map stats page.
type MapStatsParser struct {
	logger *zap.Logger
}

// NewMapStatsParser builds a MapStatsParser.
func NewMapStatsParser(logger *zap.Logger) *MapStatsParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapStatsParser{logger: logger}
}

// Parse implements crawl.Parser[crawl.MapStats]. Map stats pages fan out to
// nothing, so the follow-up list is always empty.
func (p *MapStatsParser) Parse(page crawl.Page) (crawl.MapStats, []crawl.FollowUp, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawl.MapStats{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("build document: %w", err)}
	}

	mapID := firstGroup(mapIDPattern, page.URL)
	if mapID == "" {
		return crawl.MapStats{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("no map id in url")}
	}

	info := doc.Find("div.match-info-box").First()
	mapName := mapNameFromInfoBox(info)
	if mapName == "" {
		mapName = "unknown"
	}

	stats := crawl.MapStats{
		Map: crawl.MapStat{
			ID:      mapID,
			MatchID: firstGroup(matchIDPattern, info.Find(`a[href*="/matches/"]`).AttrOr("href", "")),
			Name:    mapName,
			Team1:   strings.TrimSpace(info.Find("div.team-left a").First().Text()),
			Team2:   strings.TrimSpace(info.Find("div.team-right a").First().Text()),
			Score1:  intOr(info.Find("div.team-left div.bold").First().Text(), 0),
			Score2:  intOr(info.Find("div.team-right div.bold").First().Text(), 0),
		},
	}

	tables := doc.Find("table.stats-table.totalstats")
	if tables.Length() == 0 {
		return crawl.MapStats{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("no player stat tables")}
	}

	var rowErr error
	tables.EachWithBreak(func(_ int, table *goquery.Selection) bool {
		teamName := strings.TrimSpace(table.Find("th.st-teamname").First().Text())
		if teamName == "" {
			teamName = "Unknown"
		}
		table.Find("tbody tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			player, err := p.parsePlayerRow(row, mapID, mapName, teamName)
			if err != nil {
				rowErr = fmt.Errorf("player row: %w", err)
				return false
			}
			stats.Players = append(stats.Players, player)
			return true
		})
		return rowErr == nil
	})
	if rowErr != nil {
		return crawl.MapStats{}, nil, &crawl.ParseError{URL: page.URL, Err: rowErr}
	}

	stats.Map.DataComplete = len(stats.Players) > 0
	for i := range stats.Players {
		stats.Players[i].DataComplete = true
	}
	return stats, nil, nil
}

func (p *MapStatsParser) parsePlayerRow(row *goquery.Selection, mapID, mapName, teamName string) (crawl.PlayerStat, error) {
	cols := row.Find("td")
	if cols.Length() < 9 {
		return crawl.PlayerStat{}, fmt.Errorf("expected 9 columns, found %d", cols.Length())
	}

	nameLink := cols.Eq(0).Find("a").First()
	playerURL := ""
	playerID := ""
	if href, ok := nameLink.Attr("href"); ok {
		playerURL = absoluteURL(href)
		playerID = firstGroup(playerIDPattern, href)
	}
	playerName := strings.TrimSpace(nameLink.Text())
	if playerName == "" {
		playerName = strings.TrimSpace(cols.Eq(0).Text())
	}

	kills, headshots, err := pairStat(cols.Eq(1).Text())
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("kills column: %w", err)
	}
	assists, flashAssists, err := pairStat(cols.Eq(2).Text())
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("assists column: %w", err)
	}
	deaths, err := strconv.Atoi(strings.TrimSpace(cols.Eq(3).Text()))
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("deaths column: %w", err)
	}
	kast, err := percentStat(cols.Eq(4).Text())
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("kast column: %w", err)
	}
	kdDiff, err := signedStat(cols.Eq(5).Text())
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("k-d diff column: %w", err)
	}
	adr, err := strconv.ParseFloat(strings.TrimSpace(cols.Eq(6).Text()), 64)
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("adr column: %w", err)
	}
	fkDiff, err := signedStat(cols.Eq(7).Text())
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("fk diff column: %w", err)
	}
	rating, err := strconv.ParseFloat(strings.TrimSpace(cols.Eq(8).Text()), 64)
	if err != nil {
		return crawl.PlayerStat{}, fmt.Errorf("rating column: %w", err)
	}

	return crawl.PlayerStat{
		MapID:        mapID,
		PlayerID:     playerID,
		PlayerName:   playerName,
		PlayerURL:    playerURL,
		MapName:      mapName,
		TeamName:     teamName,
		Kills:        kills,
		Headshots:    headshots,
		Assists:      assists,
		FlashAssists: flashAssists,
		Deaths:       deaths,
		KAST:         kast,
		KDDiff:       kdDiff,
		ADR:          adr,
		FKDiff:       fkDiff,
		Rating:       rating,
	}, nil
}

// mapNameFromInfoBox reads the bare text node that follows the "Map" label
// inside the info box.
func mapNameFromInfoBox(info *goquery.Selection) string {
	label := info.Find("div.small-text").First()
	if label.Length() == 0 {
		return ""
	}
	for node := label.Nodes[0].NextSibling; node != nil; node = node.NextSibling {
		if node.Type != html.TextNode {
			continue
		}
		if name := strings.TrimSpace(node.Data); name != "" {
			return name
		}
	}
	return ""
}

// intOr parses an integer cell, falling back when the markup omits it.
func intOr(text string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return fallback
	}
	return n
}

// pairStat parses "24 (12)" style cells into their two components.
func pairStat(text string) (int, int, error) {
	m := pairPattern.FindStringSubmatch(strings.TrimSpace(text))
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("malformed pair %q", strings.TrimSpace(text))
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	return a, b, nil
}

func percentStat(text string) (float64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(text), "%")
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed percentage %q", strings.TrimSpace(text))
	}
	return v / 100, nil
}

// signedStat accepts "+5", "-3", and "0".
func signedStat(text string) (int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "+")
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("malformed diff %q", strings.TrimSpace(text))
	}
	return v, nil
}
