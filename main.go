// Command results-crawler ingests HLTV match results into Postgres.
package main

import "github.com/cs2watch/results-crawler/cmd"

func main() {
	cmd.Execute()
}
