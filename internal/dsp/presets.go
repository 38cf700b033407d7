package dsp

// Preset names a bundle of pipeline stage toggles for a recording-quality
// tier.
type Preset string

// Available quality presets.
const (
	// PresetVoice runs the full chain, tuned for speech transcription.
	PresetVoice Preset = "voice"
	// PresetStandard trims and normalizes but leaves the noise profile alone.
	PresetStandard Preset = "standard"
	// PresetRaw passes captured samples through untouched.
	PresetRaw Preset = "raw"
)

// IsValid reports whether the preset is known.
func (p Preset) IsValid() bool {
	return p == PresetVoice || p == PresetStandard || p == PresetRaw
}

// PresetOptions returns the stage selection for a preset at the given
// sample rate. Unknown presets fall back to PresetVoice.
func PresetOptions(p Preset, sampleRate int) Options {
	switch p {
	case PresetRaw:
		return Options{SampleRate: sampleRate}
	case PresetStandard:
		return Options{
			TrimSilence: true,
			Normalize:   true,
			SampleRate:  sampleRate,
		}
	default:
		return Options{
			TrimSilence:      true,
			NoiseGate:        true,
			Normalize:        true,
			HighPass:         true,
			HighPassCutoffHz: DefaultHighPassCutoffHz,
			SampleRate:       sampleRate,
		}
	}
}
