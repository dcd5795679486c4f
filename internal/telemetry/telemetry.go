// Package telemetry mirrors the live camera state of the map and broadcasts
// significant changes to subscribers at a throttled rate.
//
// The synchronizer only observes the map. It never moves the camera, so
// observers and animators cannot form a feedback loop.
package telemetry

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
)

// Significance thresholds.
const (
	ZoomEpsilon   = 0.01
	AngleEpsilon  = 0.5    // degrees, tilt and heading
	CenterEpsilon = 0.0001 // degrees, either axis
)

// DefaultThrottle is the minimum spacing between broadcasts.
const DefaultThrottle = 100 * time.Millisecond

// CameraState is a snapshot of the camera. Center is nil until the map has
// reported a position.
type CameraState struct {
	Center      *orb.Point `json:"center"`
	Zoom        float64    `json:"zoom"`
	Tilt        float64    `json:"tilt"`
	Heading     float64    `json:"heading"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func (s CameraState) clone() CameraState {
	if s.Center != nil {
		c := *s.Center
		s.Center = &c
	}
	return s
}

// CameraUpdate is a partial state change. Nil fields keep their value.
type CameraUpdate struct {
	Center  *orb.Point
	Zoom    *float64
	Tilt    *float64
	Heading *float64
}

// Listener receives broadcast snapshots.
type Listener func(CameraState)

// Options configures a Synchronizer.
type Options struct {
	Throttle time.Duration
	Clock    clock.Clock
	Logger   *zerolog.Logger
}

// Synchronizer is the single owner of the mirrored camera state.
type Synchronizer struct {
	throttle time.Duration
	clk      clock.Clock
	log      zerolog.Logger

	mu        sync.Mutex
	state     CameraState
	lastSent  *CameraState
	listeners map[uint64]Listener
	nextID    uint64
	timer     clock.Timer
	timerSeq  uint64
}

// New creates a Synchronizer with no center and zero zoom, tilt and heading.
func New(opts Options) *Synchronizer {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	log := logging.WithComponent("telemetry")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Synchronizer{
		throttle:  opts.Throttle,
		clk:       opts.Clock,
		log:       log,
		listeners: make(map[uint64]Listener),
	}
}

// UpdateCameraState merges u into the current state. A significant change
// schedules a trailing-edge broadcast of the latest state; other changes are
// recorded silently.
func (s *Synchronizer) UpdateCameraState(u CameraUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	next := prev
	if u.Center != nil {
		c := *u.Center
		next.Center = &c
	}
	if u.Zoom != nil {
		next.Zoom = *u.Zoom
	}
	if u.Tilt != nil {
		next.Tilt = *u.Tilt
	}
	if u.Heading != nil {
		next.Heading = *u.Heading
	}
	next.LastUpdated = s.clk.Now()
	s.state = next

	significant := Significant(prev, next)
	metrics.TelemetryUpdates.WithLabelValues(strconv.FormatBool(significant)).Inc()
	if significant && s.timer == nil {
		s.timerSeq++
		seq := s.timerSeq
		s.timer = s.clk.AfterFunc(s.throttle, func() { s.fire(seq) })
	}
}

// Significant reports whether next differs enough from prev to notify
// subscribers.
func Significant(prev, next CameraState) bool {
	if math.Abs(next.Zoom-prev.Zoom) >= ZoomEpsilon {
		return true
	}
	if math.Abs(next.Tilt-prev.Tilt) >= AngleEpsilon {
		return true
	}
	if math.Abs(next.Heading-prev.Heading) >= AngleEpsilon {
		return true
	}
	if (prev.Center == nil) != (next.Center == nil) {
		return true
	}
	if prev.Center != nil && next.Center != nil {
		if math.Abs(next.Center.Lon()-prev.Center.Lon()) >= CenterEpsilon ||
			math.Abs(next.Center.Lat()-prev.Center.Lat()) >= CenterEpsilon {
			return true
		}
	}
	return false
}

// CameraState returns a copy of the current state.
func (s *Synchronizer) CameraState() CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers l for future broadcasts.
func (s *Synchronizer) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Flush delivers the current state now when a broadcast is pending or the
// state changed since the last broadcast.
func (s *Synchronizer) Flush() {
	s.mu.Lock()
	pending := s.timer != nil
	if pending {
		s.timer.Stop()
		s.timer = nil
	}
	changed := s.lastSent == nil || !sameCamera(*s.lastSent, s.state)
	s.mu.Unlock()

	if pending || changed {
		s.broadcast()
	}
}

// Close cancels any pending broadcast and drops all subscribers.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.listeners = make(map[uint64]Listener)
}

// fire runs the trailing broadcast of timer seq. A stopped or replaced timer
// may still fire; it finds a newer seq and does nothing.
func (s *Synchronizer) fire(seq uint64) {
	s.mu.Lock()
	if s.timer == nil || seq != s.timerSeq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()
	s.broadcast()
}

func (s *Synchronizer) broadcast() {
	s.mu.Lock()
	snap := s.state.clone()
	sent := snap.clone()
	s.lastSent = &sent
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.mu.Unlock()

	metrics.TelemetryBroadcasts.Inc()
	for _, l := range ls {
		s.deliver(l, snap.clone())
	}
}

func (s *Synchronizer) deliver(l Listener, st CameraState) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("camera state listener panicked")
		}
	}()
	l(st)
}

func sameCamera(a, b CameraState) bool {
	if a.Zoom != b.Zoom || a.Tilt != b.Tilt || a.Heading != b.Heading {
		return false
	}
	if a.Center == nil || b.Center == nil {
		return a.Center == b.Center
	}
	return *a.Center == *b.Center
}

// Bind subscribes the synchronizer to m's camera events. Each event feeds the
// changed field; idle feeds the whole pose and flushes so the settled state
// always reaches subscribers.
func (s *Synchronizer) Bind(m platform.Map) (unbind func()) {
	offs := []func(){
		m.On(platform.EventCenterChanged, func() {
			c := m.Camera().Center
			s.UpdateCameraState(CameraUpdate{Center: &c})
		}),
		m.On(platform.EventZoomChanged, func() {
			z := m.Camera().Zoom
			s.UpdateCameraState(CameraUpdate{Zoom: &z})
		}),
		m.On(platform.EventTiltChanged, func() {
			t := m.Camera().Tilt
			s.UpdateCameraState(CameraUpdate{Tilt: &t})
		}),
		m.On(platform.EventHeadingChanged, func() {
			h := m.Camera().Heading
			s.UpdateCameraState(CameraUpdate{Heading: &h})
		}),
		m.On(platform.EventIdle, func() {
			s.UpdateCameraState(FromCamera(m.Camera()))
			s.Flush()
		}),
	}
	s.UpdateCameraState(FromCamera(m.Camera()))
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// FromCamera builds a full update from a platform camera pose.
func FromCamera(c platform.Camera) CameraUpdate {
	center, zoom, tilt, heading := c.Center, c.Zoom, c.Tilt, c.Heading
	return CameraUpdate{Center: &center, Zoom: &zoom, Tilt: &tilt, Heading: &heading}
}
