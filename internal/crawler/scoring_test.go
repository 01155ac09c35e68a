package crawler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreRootPageOfFreshDomain(t *testing.T) {
	// No prior visits and a root path leave only the parent decay.
	got := Score("https://example.com/", 100, 0)
	assert.InDelta(t, 90.0, got, 1e-9)
}

func TestScoreBoostedListingPath(t *testing.T) {
	want := 100 * 0.9 * (1 / (1 + math.Log10(2))) * 0.9 * 1.2
	got := Score("https://example.com/products/list", 100, 1)
	assert.InDelta(t, want, got, 1e-9)
}

func TestScorePenalizedPath(t *testing.T) {
	want := 50 * 0.9 * (1 / (1 + math.Log10(3))) * math.Pow(0.9, 2) * 0.5
	got := Score("https://example.com/user/account/login", 50, 2)
	assert.InDelta(t, want, got, 1e-9)
}

func TestScoreDomainVisitsDampen(t *testing.T) {
	fresh := Score("https://example.com/page", 100, 0)
	visited := Score("https://example.com/page", 100, 100)
	assert.Greater(t, fresh, visited)
}

func TestScoreDepthDecay(t *testing.T) {
	shallow := Score("https://example.com/a", 100, 0)
	deep := Score("https://example.com/a/b/c/d", 100, 0)
	assert.InDelta(t, shallow*math.Pow(0.9, 3), deep, 1e-9)
}

func TestScoreBoostBeatsPenaltyKeyword(t *testing.T) {
	// A path holding both kinds of keyword takes the boost.
	boosted := Score("https://example.com/category/archive", 100, 0)
	plain := Score("https://example.com/category/current", 100, 0)
	assert.InDelta(t, plain, boosted, 1e-9)
}

func TestScoreUnparseablePathCountsAsRoot(t *testing.T) {
	got := Score("://bad", 100, 0)
	assert.InDelta(t, 90.0, got, 1e-9)
}

func TestScoreIsDeterministic(t *testing.T) {
	first := Score("https://example.com/docs/list", 73.5, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, Score("https://example.com/docs/list", 73.5, 4))
	}
}
