package filter

import (
	"regexp"
	"strings"
)

// Intent is a filter command recognised in free text.
type Intent string

const (
	IntentNone    Intent = ""
	IntentOpenNow Intent = "open_now"
	IntentCloser  Intent = "closer"
	IntentClear   Intent = "clear"
)

var intentPatterns = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentClear, regexp.MustCompile(`^(clear|reset|show all|show everything|all results)( filters?)?$`)},
	{IntentOpenNow, regexp.MustCompile(`^(only |just |show )?(places |ones )?(that are )?open( right)? now( only)?$`)},
	{IntentCloser, regexp.MustCompile(`^(show |only |just )?(something |places |ones )?(closer|nearby|near me|close by)( to me)?$`)},
}

// ParseIntent recognises filter commands such as "open now", "closer" or
// "show all". Anything else is a search query.
func ParseIntent(query string) Intent {
	q := normalize(query)
	for _, p := range intentPatterns {
		if p.re.MatchString(q) {
			return p.intent
		}
	}
	return IntentNone
}

// Closer returns the filter state after a "closer" request: the nearby
// radius, or half the current radius if one is already set.
func Closer(s State) State {
	if s.MaxDistanceMeters != nil {
		return s.WithMaxDistance(*s.MaxDistanceMeters / 2)
	}
	return s.WithMaxDistance(NearbyMeters)
}

func normalize(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = strings.TrimRight(q, ".!?")
	return strings.Join(strings.Fields(q), " ")
}
