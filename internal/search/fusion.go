package search

// RRFConstant dampens the rank contribution in Reciprocal Rank Fusion.
const RRFConstant = 60.0

// fuseRRF merges ranked URL lists by summing 1/(k+rank) over the lists
// each URL appears in. Ranks are 1-based. Ties break by URL ascending.
func fuseRRF(lists ...[]string) []scored {
	fused := make(map[string]float64)
	for _, list := range lists {
		for i, url := range list {
			fused[url] += 1.0 / (RRFConstant + float64(i+1))
		}
	}

	ranking := make([]scored, 0, len(fused))
	for url, score := range fused {
		ranking = append(ranking, scored{url: url, score: score})
	}
	sortRanking(ranking)
	return ranking
}
