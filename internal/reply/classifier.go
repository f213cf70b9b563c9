// Package reply turns free-text patient messages into scheduling decisions
// and correlates them with the outbound proposal they answer.
package reply

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/carebook/clinic-scheduler/internal/schedule"
)

// Classifier maps a raw patient reply to a decision. Implementations are
// swappable per locale without touching the state machine.
type Classifier interface {
	Classify(body string) schedule.Decision
}

// KeywordSets holds the disjoint keyword groups one locale uses.
type KeywordSets struct {
	Affirmative []string
	Negative    []string
	Reschedule  []string
}

// DefaultKeywordSets covers the English and Spanish replies the clinics see.
func DefaultKeywordSets() KeywordSets {
	return KeywordSets{
		Affirmative: []string{
			"yes", "yep", "yeah", "ok", "okay", "confirm", "confirmed", "sure",
			"si", "vale", "claro", "perfecto", "confirmo", "de acuerdo",
		},
		Negative: []string{
			"no", "nah", "nope", "cancel", "cant", "cannot",
			"no puedo", "cancelar", "imposible",
		},
		Reschedule: []string{
			"reschedule", "another day", "other day", "postpone", "move it",
			"otro dia", "cambiar", "reagendar", "otra fecha",
		},
	}
}

// KeywordClassifier classifies by disjoint keyword sets. Affirmative wins
// over negative, negative over reschedule; no hit means unknown.
type KeywordClassifier struct {
	sets KeywordSets
}

func NewKeywordClassifier(sets KeywordSets) *KeywordClassifier {
	return &KeywordClassifier{sets: sets}
}

var _ Classifier = (*KeywordClassifier)(nil)

func (c *KeywordClassifier) Classify(body string) schedule.Decision {
	text := Normalize(body)
	if text == "" {
		return schedule.DecisionUnknown
	}
	switch {
	case containsAny(text, c.sets.Affirmative):
		return schedule.DecisionConfirmed
	case containsAny(text, c.sets.Negative):
		return schedule.DecisionDeclined
	case containsAny(text, c.sets.Reschedule):
		return schedule.DecisionReschedule
	default:
		return schedule.DecisionUnknown
	}
}

// containsAny matches whole words and phrases against the normalized text.
func containsAny(text string, keywords []string) bool {
	padded := " " + text + " "
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics, collapses punctuation to spaces,
// and trims. Proposal content equality uses the same transform, so both
// sides of a comparison agree on accents and case.
func Normalize(body string) string {
	stripped, _, err := transform.String(stripMarks, body)
	if err != nil {
		stripped = body
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
