// Package intent classifies finalized user turns into the side-channel intents
// the agent reacts to outside the language model: a request to take a photo,
// and a question about what the camera sees.
//
// Classification is keyword based and runs on whole words, so "see" matches
// "can you see this" but not "it seems fine".
package intent

import (
	"strings"
	"unicode"
)

// DefaultPhotoPhrases are the phrases that mark a photo request.
var DefaultPhotoPhrases = []string{
	"take a picture", "take a photo", "take photo", "take picture",
	"take my photo", "take your photo", "take my", "take your",
	"photograph", "snap a photo", "capture", "selfie", "photo", "picture",
}

// DefaultVisionPhrases are the phrases that mark a question about the camera
// view.
var DefaultVisionPhrases = []string{
	"see", "look", "watch", "camera", "view", "show",
	"what am i", "where am i", "what's in front",
	"describe", "identify", "recognize",
}

// Intent is the classification of one turn.
type Intent struct {
	// Photo is set when the user asked the agent to take a picture.
	Photo bool

	// Vision is set when the user asked about what the camera sees.
	Vision bool
}

// Classifier matches turns against phrase lists. It is read-only after
// construction and safe for concurrent use.
type Classifier struct {
	photo  [][]string
	vision [][]string
}

// New returns a Classifier for the given phrase lists. Nil lists select the
// defaults; empty non-nil lists disable that intent.
func New(photo, vision []string) *Classifier {
	if photo == nil {
		photo = DefaultPhotoPhrases
	}
	if vision == nil {
		vision = DefaultVisionPhrases
	}
	return &Classifier{photo: compile(photo), vision: compile(vision)}
}

// Classify returns the intents present in text.
func (c *Classifier) Classify(text string) Intent {
	words := words(text)
	return Intent{
		Photo:  anyRun(words, c.photo),
		Vision: anyRun(words, c.vision),
	}
}

func compile(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		if w := words(p); len(w) > 0 {
			out = append(out, w)
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func anyRun(words []string, runs [][]string) bool {
	for _, run := range runs {
		if hasRun(words, run) {
			return true
		}
	}
	return false
}

func hasRun(words, run []string) bool {
	for i := 0; i+len(run) <= len(words); i++ {
		match := true
		for j := range run {
			if words[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
