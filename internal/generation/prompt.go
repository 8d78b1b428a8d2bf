package generation

import (
	"strings"

	"github.com/novo-avatar/novo/pkg/types"
)

// DefaultPersona is the base system prompt.
const DefaultPersona = `You are NoVo, a friendly and emotionally intelligent AI companion who can see through the user's camera and take their photo. You are warm, conversational and helpful. Keep replies short and natural, as if talking to a friend, and feel free to show emotion and empathy.

When the user asks for a photo, picture or selfie, reply with exactly:
"I can take your photo! Just say 'shoot' when you want me to take it."
Never mention buttons or clicking. The only way to take the photo is the spoken word "shoot".

When you receive a [PHOTO CAPTURED] system message with a vision analysis, greet the user warmly and describe what you see, for example "Hi, I can see you now! I see you're wearing ...".`

const (
	cameraOnNote = `The user's camera is ON. When they ask things like "can you see this?", "what am I holding?" or "look at this", you will receive vision context describing the camera view. Use it naturally in your reply.`

	cameraOffNote = `The user's camera is OFF. If they ask you to look at something, kindly ask them to turn the camera on with the camera button.`
)

// Context message prefixes. The persona refers to the bracketed tags.
const (
	VisionContextPrefix = "[VISION CONTEXT] Current camera view: "
	CameraContextPrefix = "[VISION CONTEXT] You can see through the camera: "
	PhotoContextPrefix  = "[PHOTO CAPTURED] The user just took a photo. You can now see them. Vision analysis: "
)

// PhotoReplyCue is the turn text used to reply to a captured photo.
const PhotoReplyCue = "Photo taken - describe what you see"

// PhotoPrompt is the vision prompt used for captured photos.
const PhotoPrompt = "Describe what you see in this photo, focusing on the person and what they're wearing. Be specific but concise."

// Prompt is the per-turn input to [BuildSystemPrompt].
type Prompt struct {
	Persona      string
	CameraActive bool

	// Vision is the latest camera description, if any.
	Vision string

	// Memories is the formatted recall block, if any.
	Memories string
}

// BuildSystemPrompt assembles the system prompt for one completion.
func BuildSystemPrompt(p Prompt) string {
	var b strings.Builder
	persona := p.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	b.WriteString(persona)

	b.WriteString("\n\n")
	if p.CameraActive {
		b.WriteString(cameraOnNote)
		if p.Vision != "" {
			b.WriteString("\n\nCurrent view: ")
			b.WriteString(p.Vision)
		}
	} else {
		b.WriteString(cameraOffNote)
	}

	if p.Memories != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Memories)
	}
	return b.String()
}

// VisionContext is the system message recorded when the user explicitly asks
// about the camera view.
func VisionContext(desc string) types.Message {
	return types.Message{Role: types.RoleSystem, Content: VisionContextPrefix + desc}
}

// CameraContext is the system message recorded when a vision query waited for
// a fresh description.
func CameraContext(desc string) types.Message {
	return types.Message{Role: types.RoleSystem, Content: CameraContextPrefix + desc}
}

// PhotoContext is the system message recorded for a captured photo.
func PhotoContext(desc string) types.Message {
	return types.Message{Role: types.RoleSystem, Content: PhotoContextPrefix + desc}
}
