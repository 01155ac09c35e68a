package analyzer

// stopWords is the fixed bilingual stop-word set. English function words
// plus Japanese particles and auxiliaries; matched after lowercasing.
var stopWords = map[string]struct{}{
	// English
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {},
	"to": {}, "was": {}, "were": {}, "will": {}, "with": {},

	// Japanese
	"の": {}, "に": {}, "は": {}, "を": {}, "た": {}, "が": {},
	"で": {}, "て": {}, "と": {}, "し": {}, "れ": {}, "さ": {},
	"ある": {}, "いる": {}, "も": {}, "する": {}, "から": {}, "な": {},
	"こと": {}, "として": {}, "い": {}, "や": {}, "など": {}, "です": {},
	"ます": {}, "もの": {}, "へ": {}, "か": {}, "だ": {}, "これ": {},
}

// isStopWord reports whether token is in the stop-word set.
func isStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}
