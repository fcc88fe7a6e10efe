// Package crawl defines the core types and interfaces shared by the
// discovery, controller, and pipeline packages.
package crawl

import "time"

// Status tracks a work item through its lifecycle.
type Status string

const (
	// StatusQueued marks an item eligible for processing.
	StatusQueued Status = "queued"
	// StatusParsed marks terminal success.
	StatusParsed Status = "parsed"
	// StatusFailed marks an attempted item that has not (yet) succeeded.
	StatusFailed Status = "failed"
)

// Stage identifies one queue/controller pair in the pipeline.
type Stage string

const (
	// StageMatch processes match pages discovered from the results listing.
	StageMatch Stage = "match"
	// StageMap processes per-map statistics pages.
	StageMap Stage = "map"
	// StageDemo processes demo archive downloads.
	StageDemo Stage = "demo"
)

// DefaultMaxRetries is the retry ceiling after which a failed item is
// excluded from fetch batches but retained for observability.
const DefaultMaxRetries = 3

// Ref is a queue entry: a stable external identifier plus the locator
// needed to fetch it.
type Ref struct {
	ID  string
	URL string
}

// WorkItem is one unit of crawl work tracked through the queue states.
type WorkItem struct {
	ID            string
	URL           string
	Status        Status
	RetryCount    int
	LastError     string
	Priority      int
	Source        string
	InsertedAt    time.Time
	LastUpdatedAt time.Time
}

// QueueStats summarizes one queue for run reports and the ops API.
// Exhausted counts failed items at or beyond the retry ceiling; they are a
// subset of Failed.
type QueueStats struct {
	Queued    int64 `json:"queued"`
	Parsed    int64 `json:"parsed"`
	Failed    int64 `json:"failed"`
	Exhausted int64 `json:"exhausted"`
}

// FollowUp is a downstream reference discovered while parsing an entity.
type FollowUp struct {
	Stage Stage
	Ref   Ref
}

// Section is one date-grouped block of a results listing page.
type Section struct {
	Date time.Time
	Refs []Ref
}

// Page is the raw content returned by a Fetcher.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
	Rendered   bool
}

// Match is the immutable record of one match at scrape time.
type Match struct {
	ID           string
	URL          string
	Team1        string
	Team2        string
	Score1       int
	Score2       int
	Winner       string
	Event        string
	BestOf       string
	Forfeit      bool
	Date         time.Time
	MapLinks     []string
	DemoLink     string
	DataComplete bool
}

// MapStat describes one played map within a match.
type MapStat struct {
	ID           string
	MatchID      string
	Name         string
	Team1        string
	Team2        string
	Score1       int
	Score2       int
	DataComplete bool
}

// PlayerStat holds one player's scoreboard line for one map.
type PlayerStat struct {
	MapID        string
	PlayerID     string
	PlayerName   string
	PlayerURL    string
	MapName      string
	TeamName     string
	Kills        int
	Headshots    int
	Assists      int
	FlashAssists int
	Deaths       int
	KAST         float64
	KDDiff       int
	ADR          float64
	FKDiff       int
	Rating       float64
	DataComplete bool
}

// MapStats is the entity produced by the map stage: the map summary plus
// every player's line.
type MapStats struct {
	Map     MapStat
	Players []PlayerStat
}

// DemoArchive is the entity produced by the demo stage. Body carries the raw
// archive bytes; stores persist them to blob storage and keep only metadata
// in the database.
type DemoArchive struct {
	ID           string
	URL          string
	SHA256       string
	Size         int64
	BlobURI      string
	Body         []byte
	DataComplete bool
}
