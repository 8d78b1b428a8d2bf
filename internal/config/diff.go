package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else is
// reported as RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is true if any conversation tuning changed. New
	// settings apply to sessions opened after the reload.
	ConversationChanged bool

	// PersonaChanged is true if the system prompt or voice changed.
	PersonaChanged bool

	// TriggersChanged is true if trigger or intent phrases changed.
	TriggersChanged bool

	// RestartRequired lists top-level sections that changed but are only read
	// at startup (providers, memory, presence, server address).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Conversation, new.Conversation
	d.PersonaChanged = oc.SystemPrompt != nc.SystemPrompt || oc.Voice != nc.Voice
	d.TriggersChanged = !slices.Equal(oc.TriggerPhrases, nc.TriggerPhrases) ||
		!slices.Equal(oc.PhotoPhrases, nc.PhotoPhrases) ||
		!slices.Equal(oc.VisionPhrases, nc.VisionPhrases) ||
		(oc.PhotoPhrases == nil) != (nc.PhotoPhrases == nil) ||
		(oc.VisionPhrases == nil) != (nc.VisionPhrases == nil)
	d.ConversationChanged = !reflect.DeepEqual(oc, nc)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		old.Server.MaxMessageBytes != new.Server.MaxMessageBytes ||
		old.Server.WriteTimeout != new.Server.WriteTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Presence != new.Presence {
		d.RestartRequired = append(d.RestartRequired, "presence")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
