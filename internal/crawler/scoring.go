// Package crawler fetches pages, extracts text and links, and feeds the
// indexer. Politeness is enforced by the scheduler's host gates and the
// robots cache; priority of discovered links comes from the scoring
// function here.
package crawler

import (
	"math"
	"net/url"
	"strings"
)

// Path keyword sets steering the crawl toward listing pages and away
// from account and archive churn.
var (
	boostKeywords   = []string{"list", "index", "category"}
	penaltyKeywords = []string{"login", "signup", "archive", "tag"}
)

// Score ranks a discovered link from its parent's score and how often
// the destination domain has already been visited. Pure and
// deterministic; the frontend exposes it through a predict endpoint.
//
//	base          = parent_score * 0.9
//	domain_factor = 1 / (1 + log10(domain_visits + 1))
//	depth_factor  = 0.9^max(0, slashes(path) - 1)
//	path_factor   = 1.2 boost / 0.5 penalty / 1.0 otherwise
func Score(rawURL string, parentScore float64, domainVisits int) float64 {
	base := parentScore * 0.9
	domainFactor := 1.0 / (1.0 + math.Log10(float64(domainVisits)+1))

	path := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		path = parsed.Path
	}

	depth := strings.Count(path, "/") - 1
	if depth < 0 {
		depth = 0
	}
	depthFactor := math.Pow(0.9, float64(depth))

	return base * domainFactor * depthFactor * pathFactor(path)
}

func pathFactor(path string) float64 {
	lower := strings.ToLower(path)
	for _, kw := range boostKeywords {
		if strings.Contains(lower, kw) {
			return 1.2
		}
	}
	for _, kw := range penaltyKeywords {
		if strings.Contains(lower, kw) {
			return 0.5
		}
	}
	return 1.0
}
