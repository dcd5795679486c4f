package orchestrator

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/camera"
	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/station"
)

type call struct {
	method string
	target orb.Point
	end    orb.Point
	params camera.Params
	revs   float64
}

// recorder implements the full capability and records every call.
type recorder struct{ calls []call }

func (r *recorder) AnimateCameraTo(target orb.Point, p camera.Params) {
	r.calls = append(r.calls, call{method: "point", target: target, params: p})
}

func (r *recorder) AnimateToStation(target orb.Point, p camera.Params) {
	r.calls = append(r.calls, call{method: "station", target: target, params: p})
}

func (r *recorder) AnimateToRoute(start, end orb.Point, p camera.Params) {
	r.calls = append(r.calls, call{method: "route", target: start, end: end, params: p})
}

func (r *recorder) ResetCamera(p camera.Params) {
	r.calls = append(r.calls, call{method: "reset", params: p})
}

func (r *recorder) CircleAroundPoint(center orb.Point, revolutions float64, p camera.Params) {
	r.calls = append(r.calls, call{method: "orbit", target: center, params: p, revs: revolutions})
}

// pointOnly has a single capability.
type pointOnly struct{ n int }

func (p *pointOnly) AnimateCameraTo(orb.Point, camera.Params) { p.n++ }

var (
	st5 = station.Station{ID: 5, Name: "Taipei Main", Coordinates: orb.Point{121.5170, 25.0478}}
	st7 = station.Station{ID: 7, Name: "Xinyi", Coordinates: orb.Point{121.5654, 25.0330}}
)

func newOrchestrator(buf *bytes.Buffer) *Orchestrator {
	o := New(station.NewStore(st5, st7), DefaultPolicy())
	if buf != nil {
		o.WithLogger(logging.NewTestLogger(buf))
	}
	return o
}

func TestSelectedStationAppliesStationPolicy(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	o := newOrchestrator(nil)
	o.Initialize(rec)

	if !o.OnDepartureStationSelected(5) {
		t.Fatal("OnDepartureStationSelected(5)=false")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("calls=%d, want 1", len(rec.calls))
	}
	c := rec.calls[0]
	if c.method != "station" || c.target != st5.Coordinates {
		t.Fatalf("call=%+v, want station transition to %v", c, st5.Coordinates)
	}
	if *c.params.Zoom != 16 || *c.params.Tilt != 45 || c.params.Duration != 800*time.Millisecond {
		t.Fatalf("params zoom=%v tilt=%v duration=%v, want 16/45/800ms", *c.params.Zoom, *c.params.Tilt, c.params.Duration)
	}
}

func TestUnknownStationMakesNoCalls(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rec := &recorder{}
	o := newOrchestrator(&buf)
	o.Initialize(rec)

	if o.AnimateToSelectedStation(404, Options{}) {
		t.Fatal("unknown station reported as started")
	}
	if o.AnimateToShowRoute(5, 404, Options{}) {
		t.Fatal("route with unknown arrival reported as started")
	}
	if len(rec.calls) != 0 {
		t.Fatalf("calls=%+v, want none", rec.calls)
	}
	if !strings.Contains(buf.String(), "unknown_station") {
		t.Fatalf("log=%s, want unknown_station warning", buf.String())
	}
}

func TestMissingCapabilityIsNoOp(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	o := newOrchestrator(&buf)

	if o.OnDepartureStationSelected(5) || o.ResetCamera(Options{}) || o.OnLocationSearch(st7.Coordinates) {
		t.Fatal("operation started without a capability")
	}
	if !strings.Contains(buf.String(), "camera controls not ready") {
		t.Fatalf("log=%s, want not-ready warning", buf.String())
	}

	p := &pointOnly{}
	o.Initialize(p)
	if o.AnimateToShowRoute(5, 7, Options{}) || o.HighlightLocation(st7.Coordinates) || o.ResetCamera(Options{}) {
		t.Fatal("operation started on a capability lacking the method")
	}
	if !o.OnDepartureStationSelected(7) || p.n != 1 {
		t.Fatalf("station view via point capability n=%d, want 1", p.n)
	}
}

func TestNilAnimatorIsNoOp(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	o := newOrchestrator(&buf)
	o.Initialize((*camera.Animator)(nil))

	if o.OnDepartureStationSelected(5) || o.ResetCamera(Options{}) || o.OnRouteComputed(5, 7) || o.HighlightLocation(st7.Coordinates) {
		t.Fatal("operation started on a nil animator")
	}
	if o.AnimateToLocation(st7.Coordinates, Options{Controller: (*camera.Animator)(nil)}) {
		t.Fatal("operation started on a nil per-call animator")
	}
	if !strings.Contains(buf.String(), "camera controls not ready") {
		t.Fatalf("log=%s, want not-ready warning", buf.String())
	}

	p := &pointOnly{}
	o.Initialize(p)
	if !o.AnimateToLocation(st7.Coordinates, Options{Controller: (*camera.Animator)(nil)}) || p.n != 1 {
		t.Fatalf("nil override did not fall back to the bound capability, n=%d", p.n)
	}
}

func TestPerCallControllerOverride(t *testing.T) {
	t.Parallel()
	bound, override := &recorder{}, &recorder{}
	o := newOrchestrator(nil)
	o.Initialize(bound)

	o.AnimateToLocation(st7.Coordinates, Options{Controller: override, Zoom: camera.Float(18)})
	if len(bound.calls) != 0 || len(override.calls) != 1 {
		t.Fatalf("bound=%d override=%d, want 0/1", len(bound.calls), len(override.calls))
	}
	c := override.calls[0]
	if *c.params.Zoom != 18 || *c.params.Tilt != 0 {
		t.Fatalf("zoom=%v tilt=%v, want caller zoom 18 and flat tilt", *c.params.Zoom, *c.params.Tilt)
	}
}

func TestTriggers(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	o := newOrchestrator(nil)
	o.Initialize(rec)
	dep := 5

	o.OnArrivalStationSelected(7)
	o.OnRouteComputed(5, 7)
	o.OnArrivalStationCleared(&dep)
	o.OnArrivalStationCleared(nil)
	o.OnLocateMePressed(orb.Point{121.5, 25.0})
	o.HighlightLocation(st7.Coordinates)

	want := []string{"station", "route", "station", "reset", "point", "orbit"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls=%d, want %d", len(rec.calls), len(want))
	}
	for i, w := range want {
		if rec.calls[i].method != w {
			t.Errorf("call %d=%s, want %s", i, rec.calls[i].method, w)
		}
	}
	if r := rec.calls[1]; r.target != st5.Coordinates || r.end != st7.Coordinates {
		t.Errorf("route=%v->%v, want 5->7", r.target, r.end)
	}
	if r := rec.calls[2]; r.target != st5.Coordinates {
		t.Errorf("cleared arrival target=%v, want departure", r.target)
	}
	if r := rec.calls[5]; r.params.Duration != 6*time.Second || r.revs != 1 {
		t.Errorf("orbit duration=%v revs=%v, want 6s/1", r.params.Duration, r.revs)
	}
}

func TestInvalidLocationSkipped(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	o := newOrchestrator(nil)
	o.Initialize(rec)
	if o.OnLocationSearch(orb.Point{0, 120}) {
		t.Fatal("latitude 120 accepted")
	}
	if len(rec.calls) != 0 {
		t.Fatal("capability called for invalid location")
	}
}

// Two departure selections in quick succession: the second wins and the
// first never completes.
func TestRapidSelectionLastWins(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Unix(0, 0))
	m := platform.NewHeadless(platform.HeadlessOptions{
		Initial: platform.Camera{Center: orb.Point{121.5, 25.0}, Zoom: 12},
		Clock:   clk,
	})
	o := newOrchestrator(nil)
	o.Initialize(camera.NewAnimator(m, camera.Config{Clock: clk}))

	var done5, done7 int
	o.AnimateToSelectedStation(5, Options{OnComplete: func() { done5++ }})
	clk.Advance(50 * time.Millisecond)
	o.AnimateToSelectedStation(7, Options{OnComplete: func() { done7++ }})
	clk.Advance(2 * time.Second)

	got := m.Camera()
	if got.Center != st7.Coordinates || got.Zoom != 16 || got.Tilt != 45 {
		t.Fatalf("camera=%+v, want station 7 view", got)
	}
	if done5 != 0 || done7 != 1 {
		t.Fatalf("completions 5=%d 7=%d, want 0/1", done5, done7)
	}
}

// A store swap after resolution must not retarget the running transition.
func TestResolutionHappensBeforeMotion(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(time.Unix(0, 0))
	m := platform.NewHeadless(platform.HeadlessOptions{
		Initial: platform.Camera{Center: orb.Point{121.5, 25.0}, Zoom: 12},
		Clock:   clk,
	})
	store := station.NewStore(st5)
	o := New(store, DefaultPolicy())
	o.Initialize(camera.NewAnimator(m, camera.Config{Clock: clk}))

	o.OnDepartureStationSelected(5)
	clk.Advance(100 * time.Millisecond)
	store.Replace([]station.Station{{ID: 5, Coordinates: orb.Point{121.6, 25.1}}})
	clk.Advance(time.Second)

	if got := m.Camera().Center; got != st5.Coordinates {
		t.Fatalf("center=%v, want the coordinates resolved at call time %v", got, st5.Coordinates)
	}
}
