package mobility

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// Waypoint is one timestamped position in a mobility trace.
type Waypoint struct {
	At time.Time    `yaml:"at"`
	X  float64      `yaml:"x"`
	Y  float64      `yaml:"y"`
}

// waypointFile is the on-disk YAML shape: a flat, time-ordered list of
// waypoints.
type waypointFile struct {
	Waypoints []Waypoint `yaml:"waypoints"`
}

// WaypointMobility reports a position piecewise-linearly interpolated
// between timestamped waypoints, driven by a Scheduler's Now() so it
// behaves identically under clocksched and simsched.
type WaypointMobility struct {
	sched     gpsr.Scheduler
	waypoints []Waypoint
}

// LoadWaypoints reads a YAML waypoint trace from path. Waypoints need
// not be pre-sorted; LoadWaypoints sorts them by timestamp.
func LoadWaypoints(path string) ([]Waypoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read waypoint trace %s: %w", path, err)
	}
	var f waypointFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse waypoint trace %s: %w", path, err)
	}
	sort.Slice(f.Waypoints, func(i, j int) bool {
		return f.Waypoints[i].At.Before(f.Waypoints[j].At)
	})
	return f.Waypoints, nil
}

// NewWaypointMobility creates a WaypointMobility over waypoints (already
// sorted ascending by At), reporting position relative to sched.Now().
func NewWaypointMobility(sched gpsr.Scheduler, waypoints []Waypoint) *WaypointMobility {
	return &WaypointMobility{sched: sched, waypoints: waypoints}
}

// Position interpolates linearly between the two waypoints bracketing
// the scheduler's current time. Before the first waypoint or after the
// last, it clamps to the nearest endpoint. An empty trace reports
// ok=false.
func (m *WaypointMobility) Position() (gpsr.Position, bool) {
	if len(m.waypoints) == 0 {
		return gpsr.Position{}, false
	}

	now := m.sched.Now()
	if !now.After(m.waypoints[0].At) {
		return gpsr.Position{X: m.waypoints[0].X, Y: m.waypoints[0].Y}, true
	}
	last := m.waypoints[len(m.waypoints)-1]
	if !now.Before(last.At) {
		return gpsr.Position{X: last.X, Y: last.Y}, true
	}

	idx := sort.Search(len(m.waypoints), func(i int) bool {
		return m.waypoints[i].At.After(now)
	})
	prev := m.waypoints[idx-1]
	next := m.waypoints[idx]

	span := next.At.Sub(prev.At)
	if span <= 0 {
		return gpsr.Position{X: next.X, Y: next.Y}, true
	}
	frac := float64(now.Sub(prev.At)) / float64(span)

	return gpsr.Position{
		X: prev.X + (next.X-prev.X)*frac,
		Y: prev.Y + (next.Y-prev.Y)*frac,
	}, true
}

var _ gpsr.Mobility = (*WaypointMobility)(nil)
