package config

import (
	"maps"
	"slices"

	"github.com/MrWong99/inkmemory/internal/voice"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is summarised by RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MetaPromptChanged bool
	MoodsChanged      bool
	AnalysisChanged   bool

	VoicesChanged bool        // true if any voice was added, removed or edited
	VoiceChanges  []VoiceDiff // per-voice diffs

	// RestartRequired lists the sections that changed but are only read at
	// startup (session, storage, providers, energy).
	RestartRequired []string
}

// VoiceDiff describes what changed for a single voice between two configs.
type VoiceDiff struct {
	ID            string
	PromptChanged bool // name, tagline or system prompt
	StyleChanged  bool // icon or color
	Added         bool
	Removed       bool
}

// HotReloadable reports whether anything that can be applied live changed.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.MetaPromptChanged || d.MoodsChanged || d.AnalysisChanged || d.VoicesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.MetaPromptChanged = old.Prompts.MetaPrompt != new.Prompts.MetaPrompt
	d.MoodsChanged = !maps.Equal(old.Prompts.Moods, new.Prompts.Moods)
	d.AnalysisChanged = old.Analysis != new.Analysis

	oldVoices := voicesByID(old.Voices)
	newVoices := voicesByID(new.Voices)
	for _, id := range slices.Sorted(maps.Keys(oldVoices)) {
		ov := oldVoices[id]
		nv, ok := newVoices[id]
		if !ok {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{ID: id, Removed: true})
			continue
		}
		vd := diffVoice(id, ov, nv)
		if vd.PromptChanged || vd.StyleChanged {
			d.VoiceChanges = append(d.VoiceChanges, vd)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(newVoices)) {
		if _, ok := oldVoices[id]; !ok {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{ID: id, Added: true})
		}
	}
	d.VoicesChanged = len(d.VoiceChanges) > 0

	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Providers != new.Providers {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Energy != new.Energy {
		d.RestartRequired = append(d.RestartRequired, "energy")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}

	return d
}

func voicesByID(vs []voice.Voice) map[string]voice.Voice {
	m := make(map[string]voice.Voice, len(vs))
	for _, v := range vs {
		m[v.ID] = v
	}
	return m
}

// diffVoice compares two voices with the same id.
func diffVoice(id string, old, new voice.Voice) VoiceDiff {
	return VoiceDiff{
		ID:            id,
		PromptChanged: old.Name != new.Name || old.Tagline != new.Tagline || old.SystemPrompt != new.SystemPrompt,
		StyleChanged:  old.Icon != new.Icon || old.Color != new.Color,
	}
}
