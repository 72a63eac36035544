package config

import "time"

// CompactionConfig controls automatic memory-flush prompting once context
// usage crosses a threshold, independent of the trimmer's own escalation.
type CompactionConfig struct {
	// Enabled turns on threshold monitoring and flush prompting.
	Enabled bool `yaml:"enabled"`

	// ThresholdPercent is the context usage percentage (0-100) that
	// triggers a flush prompt.
	ThresholdPercent int `yaml:"threshold_percent"`

	// FlushPrompt is the message sent to the model asking it to persist
	// durable facts to memory before compaction proceeds.
	FlushPrompt string `yaml:"flush_prompt"`

	// ConfirmationTimeout is how long to wait for the model's flush
	// response before compacting automatically.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`

	// AutoCompactOnTimeout compacts without explicit confirmation once
	// ConfirmationTimeout elapses.
	AutoCompactOnTimeout bool `yaml:"auto_compact_on_timeout"`
}

// DefaultCompactionConfig returns the baseline compaction policy: enabled,
// flushing at 80% usage, auto-compacting after a 5 minute timeout.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:              true,
		ThresholdPercent:     80,
		FlushPrompt:          "Session nearing compaction. If there are durable facts, store them in memory/YYYY-MM-DD.md or MEMORY.md. Reply NO_REPLY if nothing needs attention.",
		ConfirmationTimeout:  5 * time.Minute,
		AutoCompactOnTimeout: true,
	}
}

// mergeCompactionConfig overlays non-zero override fields onto base.
func mergeCompactionConfig(base, override CompactionConfig) CompactionConfig {
	if override.ThresholdPercent > 0 {
		base.ThresholdPercent = override.ThresholdPercent
	}
	if override.FlushPrompt != "" {
		base.FlushPrompt = override.FlushPrompt
	}
	if override.ConfirmationTimeout > 0 {
		base.ConfirmationTimeout = override.ConfirmationTimeout
	}
	base.AutoCompactOnTimeout = override.AutoCompactOnTimeout || base.AutoCompactOnTimeout
	base.Enabled = override.Enabled || base.Enabled
	return base
}
