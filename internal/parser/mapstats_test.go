package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

const mapStatsFixture = `<html><body>
<div class="match-info-box">
  <div class="small-text">Map</div>
  Inferno
  <a href="/matches/2370001/vitality-vs-navi">Match page</a>
  <div class="team-left"><a href="/stats/teams/9565/vitality">Vitality</a><div class="bold">13</div></div>
  <div class="team-right"><a href="/stats/teams/4608/navi">Natus Vincere</a><div class="bold">7</div></div>
</div>
<table class="stats-table totalstats">
  <thead><tr><th class="st-teamname">Vitality</th></tr></thead>
  <tbody>
    <tr>
      <td><a href="/stats/players/11893/zywoo">ZywOo</a></td>
      <td>24 (12)</td>
      <td>5 (2)</td>
      <td>11</td>
      <td>78.9%</td>
      <td>+13</td>
      <td>95.4</td>
      <td>+4</td>
      <td>1.58</td>
    </tr>
    <tr>
      <td><a href="/stats/players/19230/mezii">mezii</a></td>
      <td>14 (7)</td>
      <td>3 (0)</td>
      <td>13</td>
      <td>68.4%</td>
      <td>+1</td>
      <td>70.1</td>
      <td>-2</td>
      <td>1.02</td>
    </tr>
  </tbody>
</table>
<table class="stats-table totalstats">
  <thead><tr><th class="st-teamname">Natus Vincere</th></tr></thead>
  <tbody>
    <tr>
      <td><a href="/stats/players/18053/b1t">b1t</a></td>
      <td>16 (11)</td>
      <td>2 (1)</td>
      <td>15</td>
      <td>63.2%</td>
      <td>+1</td>
      <td>74.8</td>
      <td>0</td>
      <td>1.05</td>
    </tr>
  </tbody>
</table>
</body></html>`

func TestMapStatsParserParse(t *testing.T) {
	t.Parallel()

	p := NewMapStatsParser(nil)
	stats, followUps, err := p.Parse(crawl.Page{
		URL:  "https://www.hltv.org/stats/matches/mapstatsid/180001/vitality-vs-navi",
		Body: []byte(mapStatsFixture),
	})
	require.NoError(t, err)
	require.Empty(t, followUps)

	require.Equal(t, crawl.MapStat{
		ID:           "180001",
		MatchID:      "2370001",
		Name:         "Inferno",
		Team1:        "Vitality",
		Team2:        "Natus Vincere",
		Score1:       13,
		Score2:       7,
		DataComplete: true,
	}, stats.Map)

	require.Len(t, stats.Players, 3)

	zywoo := stats.Players[0]
	require.Equal(t, "11893", zywoo.PlayerID)
	require.Equal(t, "ZywOo", zywoo.PlayerName)
	require.Equal(t, "https://www.hltv.org/stats/players/11893/zywoo", zywoo.PlayerURL)
	require.Equal(t, "180001", zywoo.MapID)
	require.Equal(t, "Inferno", zywoo.MapName)
	require.Equal(t, "Vitality", zywoo.TeamName)
	require.Equal(t, 24, zywoo.Kills)
	require.Equal(t, 12, zywoo.Headshots)
	require.Equal(t, 5, zywoo.Assists)
	require.Equal(t, 2, zywoo.FlashAssists)
	require.Equal(t, 11, zywoo.Deaths)
	require.InDelta(t, 0.789, zywoo.KAST, 0.0001)
	require.Equal(t, 13, zywoo.KDDiff)
	require.InDelta(t, 95.4, zywoo.ADR, 0.0001)
	require.Equal(t, 4, zywoo.FKDiff)
	require.InDelta(t, 1.58, zywoo.Rating, 0.0001)
	require.True(t, zywoo.DataComplete)

	require.Equal(t, -2, stats.Players[1].FKDiff)
	require.Equal(t, "Natus Vincere", stats.Players[2].TeamName)
	require.Equal(t, 0, stats.Players[2].FKDiff)
}

func TestMapStatsParserNoTables(t *testing.T) {
	t.Parallel()

	p := NewMapStatsParser(nil)
	_, _, err := p.Parse(crawl.Page{
		URL:  "https://www.hltv.org/stats/matches/mapstatsid/180009/broken",
		Body: []byte(`<html><body><div class="match-info-box"><div class="small-text">Map</div>Nuke</body></html>`),
	})
	require.Error(t, err)

	var parseErr *crawl.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestMapStatsParserMalformedRow(t *testing.T) {
	t.Parallel()

	fixture := `<html><body>
<div class="match-info-box"><div class="small-text">Map</div>Nuke</div>
<table class="stats-table totalstats">
  <thead><tr><th class="st-teamname">Alpha</th></tr></thead>
  <tbody>
    <tr><td><a href="/stats/players/1/x">x</a></td><td>broken</td><td>1 (0)</td><td>2</td><td>50%</td><td>0</td><td>50.0</td><td>0</td><td>1.00</td></tr>
  </tbody>
</table>
</body></html>`

	p := NewMapStatsParser(nil)
	_, _, err := p.Parse(crawl.Page{
		URL:  "https://www.hltv.org/stats/matches/mapstatsid/180010/nuke",
		Body: []byte(fixture),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "kills column")
}
