package thresholds

import "github.com/teslashibe/go-livedetect/pkg/detection"

// Preset names for common threshold pairs
const (
	PresetDefault   = "default"
	PresetSensitive = "sensitive"
	PresetStrict    = "strict"
)

// Presets returns all available threshold presets.
func Presets() map[string]detection.Thresholds {
	return map[string]detection.Thresholds{
		PresetDefault:   detection.DefaultThresholds(),
		PresetSensitive: {Confidence: 0.1, IoU: 0.5},
		PresetStrict:    {Confidence: 0.6, IoU: 0.3},
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetDefault, PresetSensitive, PresetStrict}
}

// GetPreset returns the preset with the given name.
func GetPreset(name string) (detection.Thresholds, bool) {
	th, ok := Presets()[name]
	return th, ok
}
