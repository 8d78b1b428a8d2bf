package turn

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const defaultPhoneticThreshold = 0.75

// Trigger binds a spoken command phrase to an action kind surfaced to the
// presentation layer.
type Trigger struct {
	// Phrase is the command as spoken, e.g. "shoot". Case and punctuation are
	// ignored.
	Phrase string

	// Action is the action kind reported when the phrase is heard, e.g.
	// "take_photo".
	Action string
}

// TriggerOption is a functional option for configuring a [TriggerMatcher].
type TriggerOption func(*TriggerMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score an utterance needs
// to match a trigger phonetically. Default: 0.75.
func WithPhoneticThreshold(threshold float64) TriggerOption {
	return func(m *TriggerMatcher) {
		m.phoneticThreshold = threshold
	}
}

type compiledTrigger struct {
	Trigger
	tokens []string
	codes  map[string]struct{}
}

// TriggerMatcher recognises command phrases in finalized transcripts.
//
// A trigger matches when its words appear as a contiguous run of whole words
// in the transcript. When the transcript has exactly as many words as the
// phrase, a phonetic match is also accepted: the Double Metaphone codes must
// overlap and the Jaro-Winkler similarity must reach the phonetic threshold.
// This catches recogniser misspellings such as "shute" for "shoot" without
// letting longer sentences ("I shot the ball") fire the command.
//
// A TriggerMatcher is read-only after construction and safe for concurrent
// use.
type TriggerMatcher struct {
	triggers          []compiledTrigger
	phoneticThreshold float64
}

// NewTriggerMatcher compiles triggers. Triggers with an empty phrase are
// skipped.
func NewTriggerMatcher(triggers []Trigger, opts ...TriggerOption) *TriggerMatcher {
	m := &TriggerMatcher{phoneticThreshold: defaultPhoneticThreshold}
	for _, o := range opts {
		o(m)
	}
	for _, t := range triggers {
		tokens := Words(t.Phrase)
		if len(tokens) == 0 {
			continue
		}
		m.triggers = append(m.triggers, compiledTrigger{
			Trigger: t,
			tokens:  tokens,
			codes:   codesFor(tokens),
		})
	}
	return m
}

// Match returns the action bound to the first trigger found in text.
func (m *TriggerMatcher) Match(text string) (action string, ok bool) {
	if m == nil {
		return "", false
	}
	words := Words(text)
	if len(words) == 0 {
		return "", false
	}

	for _, t := range m.triggers {
		if containsRun(words, t.tokens) {
			return t.Action, true
		}
	}

	for _, t := range m.triggers {
		if len(words) != len(t.tokens) {
			continue
		}
		if !overlaps(codesFor(words), t.codes) {
			continue
		}
		score := matchr.JaroWinkler(strings.Join(words, " "), strings.Join(t.tokens, " "), false)
		if score >= m.phoneticThreshold {
			return t.Action, true
		}
	}
	return "", false
}

// Words lowercases s and splits it into words, dropping punctuation other
// than in-word apostrophes.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsRun(words, run []string) bool {
	if len(run) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(words); i++ {
		for j, w := range run {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// codesFor returns the union of all Double Metaphone codes for tokens. Empty
// codes are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
