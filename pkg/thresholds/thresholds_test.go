package thresholds

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/teslashibe/go-livedetect/pkg/detection"
)

func TestSliders(t *testing.T) {
	sliders := Sliders()
	if len(sliders) != 2 {
		t.Fatalf("expected 2 sliders, got %d", len(sliders))
	}

	want := map[string]float64{NameConfidence: 0.25, NameIoU: 0.5}
	for _, s := range sliders {
		if s.Min != 0 || s.Max != 1 || s.Step != 0.05 {
			t.Errorf("%s: range got [%v,%v] step %v", s.Name, s.Min, s.Max, s.Step)
		}
		if s.Default != want[s.Name] {
			t.Errorf("%s: default got %v, want %v", s.Name, s.Default, want[s.Name])
		}
		if !OnGrid(s.Default) {
			t.Errorf("%s: default %v is off grid", s.Name, s.Default)
		}
	}
}

func TestOnGrid(t *testing.T) {
	tests := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{1, true},
		{0.05, true},
		{0.15, true},
		{0.35, true},
		{0.95, true},
		{0.26, false},
		{-0.05, false},
		{1.05, false},
	}

	for _, tc := range tests {
		if got := OnGrid(tc.v); got != tc.want {
			t.Errorf("OnGrid(%v): got %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestOnGrid_EveryStep(t *testing.T) {
	// Values as a browser range input would send them after JSON encoding.
	for i := 0; i <= 20; i++ {
		var v float64
		if err := json.Unmarshal([]byte(formatStep(i)), &v); err != nil {
			t.Fatal(err)
		}
		if !OnGrid(v) {
			t.Errorf("step %d (%v) should be on grid", i, v)
		}
	}
}

func formatStep(i int) string {
	b, _ := json.Marshal(float64(i) * 0.05)
	return string(b)
}

func TestSnap(t *testing.T) {
	tests := []struct {
		v, want float64
	}{
		{0.26, 0.25},
		{0.28, 0.3},
		{-1, 0},
		{3, 1},
		{0.15000000000000002, 0.15},
	}

	for _, tc := range tests {
		if got := Snap(tc.v); got != tc.want {
			t.Errorf("Snap(%v): got %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager()
	if got := m.Get(); got != detection.DefaultThresholds() {
		t.Errorf("Get: got %+v, want defaults", got)
	}
}

func TestManager_SetRejectsOutOfRange(t *testing.T) {
	m := NewManager()
	tests := []detection.Thresholds{
		{Confidence: 1.2, IoU: 0.5},
		{Confidence: 0.25, IoU: -0.1},
		{Confidence: 0.33, IoU: 0.5},
	}

	for _, th := range tests {
		if err := m.Set(th); err == nil {
			t.Errorf("Set(%+v): expected error", th)
		}
	}
	if got := m.Get(); got != detection.DefaultThresholds() {
		t.Errorf("rejected updates must not change state, got %+v", got)
	}
}

func TestManager_OnChange(t *testing.T) {
	m := NewManager()
	var got detection.Thresholds
	calls := 0
	m.OnChange = func(th detection.Thresholds) {
		got = th
		calls++
	}

	if err := m.Set(detection.Thresholds{Confidence: 0.4, IoU: 0.7}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if calls != 1 || got.Confidence != 0.4 || got.IoU != 0.7 {
		t.Errorf("OnChange: calls=%d got %+v", calls, got)
	}
}

func TestManager_Update(t *testing.T) {
	m := NewManager()

	if err := m.Update(map[string]interface{}{NameConfidence: 0.5}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := m.Get(); got.Confidence != 0.5 || got.IoU != 0.5 {
		t.Errorf("partial update: got %+v", got)
	}

	if err := m.Update(map[string]interface{}{"preset": PresetStrict, NameIoU: json.Number("0.45")}); err != nil {
		t.Fatalf("Update preset: %v", err)
	}
	if got := m.Get(); got.Confidence != 0.6 || got.IoU != 0.45 {
		t.Errorf("preset + override: got %+v", got)
	}

	if err := m.Update(map[string]interface{}{"preset": "nope"}); err == nil {
		t.Error("unknown preset should fail")
	}
	if err := m.Update(map[string]interface{}{"gamma": 0.5}); err == nil {
		t.Error("unknown key should fail")
	}
	if err := m.Update(map[string]interface{}{NameIoU: "high"}); err == nil {
		t.Error("non-numeric value should fail")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = m.Set(detection.Thresholds{Confidence: Snap(float64(i) * 0.05), IoU: 0.5})
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Get()
		}()
	}
	wg.Wait()

	if !OnGrid(m.Get().Confidence) {
		t.Errorf("final confidence off grid: %v", m.Get().Confidence)
	}
}

func TestManager_OnChangeMatchesStoredValue(t *testing.T) {
	m := NewManager()

	var mu sync.Mutex
	var seen []detection.Thresholds
	stale := 0
	m.OnChange = func(th detection.Thresholds) {
		mu.Lock()
		defer mu.Unlock()
		if m.Get() != th {
			stale++
		}
		seen = append(seen, th)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = m.Set(detection.Thresholds{Confidence: Snap(float64(i) * 0.05), IoU: 0.5})
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = m.Update(map[string]interface{}{NameIoU: Snap(float64(i) * 0.05)})
		}(i)
	}
	wg.Wait()

	if stale != 0 {
		t.Errorf("%d callbacks saw a value other than the stored one", stale)
	}
	if len(seen) != 40 {
		t.Fatalf("expected 40 callbacks, got %d", len(seen))
	}
	if last := seen[len(seen)-1]; last != m.Get() {
		t.Errorf("last callback %+v, stored %+v", last, m.Get())
	}
}

func TestManager_ConcurrentPartialUpdates(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Update(map[string]interface{}{NameConfidence: 0.9})
		}()
		go func() {
			defer wg.Done()
			_ = m.Update(map[string]interface{}{NameIoU: 0.9})
		}()
	}
	wg.Wait()

	want := detection.Thresholds{Confidence: 0.9, IoU: 0.9}
	if got := m.Get(); got != want {
		t.Errorf("lost update: got %+v, want %+v", got, want)
	}
}

func TestPresets_Valid(t *testing.T) {
	for _, name := range PresetNames() {
		th, ok := GetPreset(name)
		if !ok {
			t.Errorf("preset %s missing", name)
			continue
		}
		if errs := Validate(th); len(errs) > 0 {
			t.Errorf("preset %s invalid: %v", name, errs)
		}
	}
}
