package thresholds

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/teslashibe/go-livedetect/pkg/detection"
)

// Manager holds the current thresholds and handles updates.
// Processors read it on every frame, so changes apply to running streams.
type Manager struct {
	current detection.Thresholds
	mu      sync.RWMutex

	// writeMu serializes writers so callbacks see changes in store order.
	writeMu sync.Mutex

	// Callback when thresholds change (for broadcasting to dashboards).
	// Runs while writers are held off, so th is always the stored value
	// and the callback must not call Set or Update.
	OnChange func(th detection.Thresholds)
}

// NewManager creates a new manager with the slider defaults.
func NewManager() *Manager {
	return &Manager{
		current: detection.DefaultThresholds(),
	}
}

// Get returns the current thresholds.
func (m *Manager) Get() detection.Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set replaces both thresholds.
func (m *Manager) Set(th detection.Thresholds) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.set(th)
}

func (m *Manager) set(th detection.Thresholds) error {
	if errs := Validate(th); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	th.Confidence = Snap(th.Confidence)
	th.IoU = Snap(th.IoU)

	m.mu.Lock()
	m.current = th
	callback := m.OnChange
	m.mu.Unlock()

	if callback != nil {
		callback(th)
	}
	return nil
}

// Update changes individual thresholds by name.
// Accepts a map of slider names to values; a "preset" key is applied first.
func (m *Manager) Update(params map[string]interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	th := m.Get()

	if presetName, ok := params["preset"].(string); ok {
		preset, found := GetPreset(presetName)
		if !found {
			return fmt.Errorf("unknown preset: %s", presetName)
		}
		th = preset
	}

	for key, value := range params {
		switch key {
		case "preset":
		case NameConfidence:
			v, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("%s must be a number", key)
			}
			th.Confidence = v
		case NameIoU:
			v, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("%s must be a number", key)
			}
			th.IoU = v
		default:
			return fmt.Errorf("unknown threshold: %s", key)
		}
	}

	return m.set(th)
}

// Reset restores the slider defaults.
func (m *Manager) Reset() {
	// Defaults are always valid.
	_ = m.Set(detection.DefaultThresholds())
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
