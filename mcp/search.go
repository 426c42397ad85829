package mcp

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// DefaultSearchLimit caps SearchTools when topK is not positive.
const DefaultSearchLimit = 100

// Per-token scores. A token scores the best rule it satisfies.
const (
	scoreNameHit        = 1.0
	scoreDescriptionHit = 0.7
	scoreFuzzyName      = 0.5
)

// SearchResult is one ranked tool from SearchTools.
type SearchResult struct {
	Server      string
	Tool        string
	Description string
	// Score is in (0, 1]; higher is more relevant.
	Score float64
}

type catalogEntry struct {
	server string
	tool   ToolInfo
}

// catalogSource adapts a catalog to fuzzy.Source over tool names.
type catalogSource []catalogEntry

func (s catalogSource) String(i int) string { return s[i].tool.Name }
func (s catalogSource) Len() int            { return len(s) }

// searchCatalog ranks entries against query. Each whitespace-separated token
// is scored separately and the scores averaged; entries scoring zero are
// dropped. Ties break on server then tool name.
func searchCatalog(entries []catalogEntry, query string, topK int) []SearchResult {
	if topK <= 0 {
		topK = DefaultSearchLimit
	}
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 || len(entries) == 0 {
		return nil
	}

	scores := make([]float64, len(entries))
	for _, tok := range tokens {
		fuzzyHits := make(map[int]bool)
		for _, m := range fuzzy.FindFrom(tok, catalogSource(entries)) {
			fuzzyHits[m.Index] = true
		}
		for i, e := range entries {
			switch {
			case strings.Contains(strings.ToLower(e.tool.Name), tok):
				scores[i] += scoreNameHit
			case strings.Contains(strings.ToLower(e.tool.Description), tok):
				scores[i] += scoreDescriptionHit
			case fuzzyHits[i]:
				scores[i] += scoreFuzzyName
			}
		}
	}

	var out []SearchResult
	for i, e := range entries {
		if scores[i] == 0 {
			continue
		}
		out = append(out, SearchResult{
			Server:      e.server,
			Tool:        e.tool.Name,
			Description: e.tool.Description,
			Score:       scores[i] / float64(len(tokens)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Server != b.Server {
			return a.Server < b.Server
		}
		return a.Tool < b.Tool
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
