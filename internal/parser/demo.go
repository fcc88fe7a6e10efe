package parser

import (
	"fmt"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// DemoParser turns a fetched demo archive into a DemoArchive entity. Demo
// downloads are opaque binaries, so "parsing" is hashing and sizing the
// payload; the store decides where the bytes land.
type DemoParser struct {
	hasher crawl.Hasher
}

// NewDemoParser builds a DemoParser using the given content hasher.
func NewDemoParser(hasher crawl.Hasher) *DemoParser {
	return &DemoParser{hasher: hasher}
}

// Parse implements crawl.Parser[crawl.DemoArchive].
func (p *DemoParser) Parse(page crawl.Page) (crawl.DemoArchive, []crawl.FollowUp, error) {
	if len(page.Body) == 0 {
		return crawl.DemoArchive{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("empty archive body")}
	}

	id := firstGroup(demoIDPattern, page.URL)
	if id == "" {
		return crawl.DemoArchive{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("no demo id in url")}
	}

	sum, err := p.hasher.Hash(page.Body)
	if err != nil {
		return crawl.DemoArchive{}, nil, &crawl.ParseError{URL: page.URL, Err: fmt.Errorf("hash archive: %w", err)}
	}

	return crawl.DemoArchive{
		ID:           id,
		URL:          page.URL,
		SHA256:       sum,
		Size:         int64(len(page.Body)),
		Body:         page.Body,
		DataComplete: true,
	}, nil, nil
}
