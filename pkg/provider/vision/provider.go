// Package vision defines the Provider interface for image description
// backends. The session uses it to turn camera frames and captured photos into
// short text descriptions the language model can reason about.
package vision

import (
	"context"
	"errors"
)

// ErrEmptyImage is returned when Describe is called without image bytes.
var ErrEmptyImage = errors.New("vision: image must not be empty")

// DefaultPrompt is used when the caller supplies no prompt.
const DefaultPrompt = "Describe what you see in this image in detail."

// Provider describes images.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Describe returns a natural-language description of image, guided by
	// prompt. mime is the image media type ("image/jpeg", "image/png"); empty
	// means JPEG.
	Describe(ctx context.Context, image []byte, mime, prompt string) (string, error)
}
