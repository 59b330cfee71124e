// Package behavior tags shopper messages by tone and tracks the haggle penalty
// that rude shoppers earn.
package behavior

import "strings"

// Sentiment is the lexical tone of a single message.
type Sentiment string

const (
	Neutral Sentiment = "neutral"
	Polite  Sentiment = "polite"
	Rude    Sentiment = "rude"
)

var rudePhrases = []string{
	"ripoff", "rip off", "rip-off",
	"scam", "stupid", "idiot", "useless",
	"garbage", "trash", "shut up", "dumb",
	"pathetic", "ridiculous", "overpriced",
	"hate you", "worst",
}

var politePhrases = []string{
	"please", "thank you", "thanks",
	"sorry", "apologize", "apologies",
	"appreciate", "grateful", "kind of you",
}

// Classify matches text case-insensitively against the fixed phrase lists.
// A rude match wins over a polite one.
func Classify(text string) Sentiment {
	lower := strings.ToLower(text)
	if containsAny(lower, rudePhrases) {
		return Rude
	}
	if containsAny(lower, politePhrases) {
		return Polite
	}
	return Neutral
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
