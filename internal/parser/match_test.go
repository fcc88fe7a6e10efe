package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

const matchFixture = `<html><body>
<div class="team1-gradient">
  <a href="/team/9565/vitality"><div class="teamName">Vitality</div></a>
  <div class="won">2</div>
</div>
<div class="team2-gradient">
  <a href="/team/4608/navi"><div class="teamName">Natus Vincere</div></a>
  <div class="lost">1</div>
</div>
<div class="date" data-unix="1741600800000">10th of March 2025</div>
<div class="event text-ellipsis">BLAST Premier Spring Final</div>
<div class="padding preformatted-text">Best of 3 (LAN)
* Winner qualifies for playoffs</div>
<div class="mapholder">
  <div class="mapname">Inferno</div>
  <a href="/stats/matches/mapstatsid/180001/vitality-vs-navi">stats</a>
</div>
<div class="mapholder">
  <div class="mapname">Mirage</div>
  <a href="/stats/matches/mapstatsid/180002/vitality-vs-navi">stats</a>
  <a href="/stats/matches/mapstatsid/180002/vitality-vs-navi">detailed stats</a>
</div>
<a class="stream-box" data-demo-link="/download/demo/98765">GOTV demo</a>
</body></html>`

func TestMatchParserParse(t *testing.T) {
	t.Parallel()

	p := NewMatchParser(nil)
	match, followUps, err := p.Parse(crawl.Page{
		URL:  "https://www.hltv.org/matches/2370001/vitality-vs-navi",
		Body: []byte(matchFixture),
	})
	require.NoError(t, err)

	require.Equal(t, "2370001", match.ID)
	require.Equal(t, "Vitality", match.Team1)
	require.Equal(t, "Natus Vincere", match.Team2)
	require.Equal(t, 2, match.Score1)
	require.Equal(t, 1, match.Score2)
	require.Equal(t, "Vitality", match.Winner)
	require.Equal(t, "BLAST Premier Spring Final", match.Event)
	require.Equal(t, "bo3", match.BestOf)
	require.False(t, match.Forfeit)
	require.Equal(t, time.UnixMilli(1741600800000).UTC(), match.Date)
	require.Equal(t, []string{
		"https://www.hltv.org/stats/matches/mapstatsid/180001/vitality-vs-navi",
		"https://www.hltv.org/stats/matches/mapstatsid/180002/vitality-vs-navi",
	}, match.MapLinks)
	require.Equal(t, "https://www.hltv.org/download/demo/98765", match.DemoLink)
	require.True(t, match.DataComplete)

	// Two map pages (the duplicate mapstats link is collapsed) plus the demo.
	require.Equal(t, []crawl.FollowUp{
		{Stage: crawl.StageMap, Ref: crawl.Ref{ID: "180001", URL: "https://www.hltv.org/stats/matches/mapstatsid/180001/vitality-vs-navi"}},
		{Stage: crawl.StageMap, Ref: crawl.Ref{ID: "180002", URL: "https://www.hltv.org/stats/matches/mapstatsid/180002/vitality-vs-navi"}},
		{Stage: crawl.StageDemo, Ref: crawl.Ref{ID: "98765", URL: "https://www.hltv.org/download/demo/98765"}},
	}, followUps)
}

func TestMatchParserForfeitWithoutMaps(t *testing.T) {
	t.Parallel()

	fixture := `<html><body>
<div class="team1-gradient"><a href="/team/1/a"><div class="teamName">Alpha</div></a><div class="won">1</div></div>
<div class="team2-gradient"><a href="/team/2/b"><div class="teamName">Bravo</div></a><div class="lost">0</div></div>
<div class="padding preformatted-text">Best of 1</div>
<div class="mapname">Default</div>
</body></html>`

	p := NewMatchParser(nil)
	match, followUps, err := p.Parse(crawl.Page{
		URL:  "https://www.hltv.org/matches/2370099/alpha-vs-bravo",
		Body: []byte(fixture),
	})
	require.NoError(t, err)

	require.True(t, match.Forfeit)
	require.Equal(t, "bo1", match.BestOf)
	require.Equal(t, "Unknown Event", match.Event)
	require.Empty(t, followUps)
	require.False(t, match.DataComplete)
	require.True(t, match.Date.IsZero())
}

func TestMatchParserMissingTeams(t *testing.T) {
	t.Parallel()

	p := NewMatchParser(nil)
	_, _, err := p.Parse(crawl.Page{
		URL:  "https://www.hltv.org/matches/2370100/bad-page",
		Body: []byte(`<html><body><div class="teamName">Only One</div></body></html>`),
	})
	require.Error(t, err)

	var parseErr *crawl.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "https://www.hltv.org/matches/2370100/bad-page", parseErr.URL)
}
