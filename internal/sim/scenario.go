package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"headingup/internal/angle"
)

// ScenarioScript is a deterministic, script-driven sensor timeline.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 30s
//	loop: true
//	keyframes:
//	  - t: 0s
//	    lat_deg: 34.1234
//	    lon_deg: -118.5432
//	    speed_ms: 0
//	    compass_deg: 90
//	  - t: 10s
//	    lat_deg: 34.1240
//	    lon_deg: -118.5432
//	    speed_ms: 2.0
//	    course_deg: 0
//
// Keyframes must use non-decreasing t values. course_deg and compass_deg are
// optional; a keyframe without compass_deg produces no compass events until
// the next keyframe that has one.
type ScenarioScript struct {
	Version   int                `yaml:"version"`
	Duration  time.Duration      `yaml:"duration"`
	Loop      bool               `yaml:"loop"`
	Keyframes []ScenarioKeyframe `yaml:"keyframes"`
}

type ScenarioKeyframe struct {
	T                  time.Duration `yaml:"t"`
	LatDeg             float64       `yaml:"lat_deg"`
	LonDeg             float64       `yaml:"lon_deg"`
	SpeedMS            float64       `yaml:"speed_ms"`
	CourseDeg          *float64      `yaml:"course_deg"`
	CompassDeg         *float64      `yaml:"compass_deg"`
	CompassAccuracyDeg *float64      `yaml:"compass_accuracy_deg"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.LatDeg < -90 || kf.LatDeg > 90 || kf.LonDeg < -180 || kf.LonDeg > 180 {
			return nil, fmt.Errorf("keyframes[%d] position out of range", i)
		}
		if kf.SpeedMS < 0 {
			return nil, fmt.Errorf("keyframes[%d].speed_ms must be >= 0", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 && script.Loop {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// StateAt computes the state at elapsed. A looping script wraps around
// Duration(); otherwise elapsed is clamped to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration) State {
	if s == nil {
		return State{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if s.script.Loop {
			elapsed = elapsed % s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	k0, k1, alpha := selectSegment(s.script.Keyframes, elapsed)
	st := State{
		LatDeg:  lerp(k0.LatDeg, k1.LatDeg, alpha),
		LonDeg:  lerp(k0.LonDeg, k1.LonDeg, alpha),
		SpeedMS: lerp(k0.SpeedMS, k1.SpeedMS, alpha),
	}
	st.CourseDeg = lerpOptionalAngle(k0.CourseDeg, k1.CourseDeg, alpha)
	st.CompassDeg = lerpOptionalAngle(k0.CompassDeg, k1.CompassDeg, alpha)
	if st.CompassDeg != nil && k0.CompassAccuracyDeg != nil {
		v := *k0.CompassAccuracyDeg
		st.CompassAccuracyDeg = &v
	}
	return st
}

func selectSegment(kfs []ScenarioKeyframe, t time.Duration) (ScenarioKeyframe, ScenarioKeyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	return k0, k1, angle.Clamp(alpha, 0, 1)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpOptionalAngle interpolates along the shortest arc. A value missing at
// the end of the segment holds the start value; one missing at the start
// yields nil.
func lerpOptionalAngle(a, b *float64, t float64) *float64 {
	if a == nil {
		return nil
	}
	if b == nil {
		v := angle.Wrap(*a)
		return &v
	}
	v := angle.Wrap(*a + angle.Delta(*a, *b)*t)
	return &v
}
