package scene

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/overlay"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/station"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

var anchorPt = orb.Point{121.5, 25.0}

func newMap() (*platform.Headless, *clock.Manual) {
	clk := clock.NewManual(time.Unix(0, 0))
	return platform.NewHeadless(platform.HeadlessOptions{
		Initial: platform.Camera{Center: anchorPt, Zoom: 16, Tilt: 45},
		Clock:   clk,
	}), clk
}

func threeStations() Options {
	return Options{Stations: []station.Station{
		{ID: 1, Coordinates: anchorPt},
		{ID: 2, Coordinates: orb.Point{121.501, 25.001}},
		{ID: 3, Coordinates: orb.Point{121.499, 24.999}},
	}}
}

func TestLocalOffset(t *testing.T) {
	t.Parallel()
	v := LocalOffset(anchorPt, orb.Point{121.501, 25.001})
	wantX := 0.001 * 111000 * math.Cos(25*math.Pi/180)
	if math.Abs(v.X-wantX) > 1e-6 {
		t.Fatalf("x=%v, want %v", v.X, wantX)
	}
	if math.Abs(v.Z-(-111)) > 1e-6 {
		t.Fatalf("z=%v, want -111 (north is -z)", v.Z)
	}
	if v.Y != 0 {
		t.Fatalf("y=%v, want 0", v.Y)
	}
	if o := LocalOffset(anchorPt, anchorPt); o != (Vec3{}) {
		t.Fatalf("anchor offset=%v, want zero", o)
	}
}

func TestLifecycleWithContextLoss(t *testing.T) {
	t.Parallel()
	m, _ := newMap()
	log := &FrameLog{}
	o := New("three", Config{Renderer: log.Factory()})

	if o.State() != StateUninitialized {
		t.Fatalf("state=%v, want uninitialized", o.State())
	}
	o.Initialize(m)
	if o.State() != StateContextReady {
		t.Fatalf("state=%v, want context-ready", o.State())
	}
	if err := o.Update(threeStations()); err != nil {
		t.Fatal(err)
	}
	m.Draw()
	if o.State() != StateRendering {
		t.Fatalf("state=%v, want rendering", o.State())
	}
	frame, ok := log.Last()
	if !ok || len(frame.Meshes) != 3 || frame.Generation != 1 {
		t.Fatalf("frame=%+v, want 3 meshes on generation 1", frame)
	}
	if frames, resets, _ := log.Stats(); frames != 1 || resets != 1 {
		t.Fatalf("frames=%d resets=%d, want 1/1", frames, resets)
	}

	m.LoseContext()
	if o.State() != StateAttached {
		t.Fatalf("state after loss=%v, want attached", o.State())
	}
	m.Draw()
	if frames, _, _ := log.Stats(); frames != 1 {
		t.Fatalf("frames=%d, drew without a context", frames)
	}

	m.RestoreContext()
	if o.State() != StateContextReady {
		t.Fatalf("state after restore=%v, want context-ready", o.State())
	}
	m.Draw()
	frame, _ = log.Last()
	if _, _, renderers := log.Stats(); renderers != 2 || frame.Generation != 2 {
		t.Fatalf("renderers=%d generation=%d, want 2/2", renderers, frame.Generation)
	}

	meshes := o.Scene().Children()
	o.Dispose()
	o.Dispose()
	if o.State() != StateDisposed {
		t.Fatalf("state=%v, want disposed", o.State())
	}
	for _, mesh := range meshes {
		if !mesh.Disposed() {
			t.Fatalf("mesh %s not disposed", mesh.Name)
		}
	}
	if m.Draw() != 0 {
		t.Fatal("disposed overlay still attached to map")
	}
}

func TestRendererFailureStaysAttached(t *testing.T) {
	t.Parallel()
	m, _ := newMap()
	o := New("three", Config{Renderer: func(platform.GLContext) (Renderer, error) {
		return nil, errors.New("no webgl2")
	}})
	o.Initialize(m)
	_ = o.Update(threeStations())
	m.Draw()
	if o.State() != StateAttached {
		t.Fatalf("state=%v, want attached", o.State())
	}
}

func TestUpdateReplacesTaggedMeshesOnly(t *testing.T) {
	t.Parallel()
	o := New("three", Config{})
	foreign := &Mesh{Name: "other", Tag: "someone-else", Geometry: &Geometry{}, Material: &Material{}}
	o.Scene().Add(foreign)

	_ = o.Update(threeStations())
	first := o.Scene().Children()
	if len(first) != 4 {
		t.Fatalf("children=%d, want 4", len(first))
	}

	_ = o.Update(Options{Stations: []station.Station{{ID: 9, Coordinates: orb.Point{121.6, 25.1}}}})
	for _, mesh := range first {
		if mesh == foreign {
			continue
		}
		if !mesh.Disposed() {
			t.Fatalf("old mesh %s not disposed", mesh.Name)
		}
	}
	if foreign.Disposed() {
		t.Fatal("untagged mesh disposed")
	}
	if n := len(o.Scene().Children()); n != 2 {
		t.Fatalf("children=%d, want 2", n)
	}
	if len(o.Scene().Lights()) != 2 {
		t.Fatal("lights did not survive the update")
	}
	if a, _ := o.Anchor(); a != (orb.Point{121.6, 25.1}) {
		t.Fatalf("anchor=%v, want recomputed to [121.6 25.1]", a)
	}
}

func TestSelectionChangeRestylesInPlace(t *testing.T) {
	t.Parallel()
	o := New("three", Config{})
	in := threeStations()
	_ = o.Update(in)
	before := o.Scene().Children()

	dep := 2
	in.DepartureID = &dep
	_ = o.Update(in)
	after := o.Scene().Children()

	if len(before) != len(after) || before[1] != after[1] {
		t.Fatal("selection change rebuilt meshes")
	}
	if after[1].Material.Color != "#43a047" {
		t.Fatalf("departure color=%s, want #43a047", after[1].Material.Color)
	}
}

func TestAnchorSkipsNonFinite(t *testing.T) {
	t.Parallel()
	o := New("three", Config{})
	_ = o.Update(Options{Stations: []station.Station{
		{ID: 1, Coordinates: orb.Point{math.NaN(), 25}},
		{ID: 2, Coordinates: orb.Point{121.52, 25.02}},
	}})
	a, ok := o.Anchor()
	if !ok || a != (orb.Point{121.52, 25.02}) {
		t.Fatalf("anchor=%v ok=%v, want first valid object", a, ok)
	}
	if n := len(o.Scene().Children()); n != 1 {
		t.Fatalf("children=%d, want 1", n)
	}
}

func TestAnchorCentroidPolicy(t *testing.T) {
	t.Parallel()
	o := New("three", Config{Anchor: AnchorCentroid})
	_ = o.Update(Options{Stations: []station.Station{
		{ID: 1, Coordinates: orb.Point{121.0, 25.0}},
		{ID: 2, Coordinates: orb.Point{122.0, 26.0}},
	}})
	a, _ := o.Anchor()
	if math.Abs(a.Lon()-121.5) > 1e-9 || math.Abs(a.Lat()-25.5) > 1e-9 {
		t.Fatalf("anchor=%v, want centroid [121.5 25.5]", a)
	}
}

func TestProjectionFollowsCamera(t *testing.T) {
	t.Parallel()
	m, _ := newMap()
	log := &FrameLog{}
	o := New("three", Config{Renderer: log.Factory()})
	o.Initialize(m)
	_ = o.Update(threeStations())

	m.Draw()
	p1 := o.Projection()
	cam := m.Camera()
	cam.Heading = 90
	m.SetCamera(cam)
	m.Draw()
	p2 := o.Projection()
	if p1 == p2 {
		t.Fatal("projection not recomputed after camera moved")
	}

	frame, _ := log.Last()
	anchorMesh := frame.Meshes[0]
	if anchorMesh.Local.X != 0 || anchorMesh.Local.Z != 0 {
		t.Fatalf("anchor mesh local=%v, want on the origin", anchorMesh.Local)
	}
}

func TestTelemetryRequestsRedraw(t *testing.T) {
	t.Parallel()
	m, clk := newMap()
	sync := telemetry.New(telemetry.Options{Clock: clk})
	log := &FrameLog{}
	o := New("three", Config{Renderer: log.Factory(), Telemetry: sync})
	o.Initialize(m)
	_ = o.Update(threeStations())
	m.Draw()
	if m.Draw() != 0 {
		t.Fatal("idle frame redrew")
	}

	z := 17.0
	sync.UpdateCameraState(telemetry.CameraUpdate{Zoom: &z})
	clk.Advance(telemetry.DefaultThrottle)
	if m.Draw() != 1 {
		t.Fatal("telemetry broadcast did not request a redraw")
	}
}

func TestHiddenOverlaySkipsRender(t *testing.T) {
	t.Parallel()
	m, _ := newMap()
	log := &FrameLog{}
	o := New("three", Config{Renderer: log.Factory()})
	o.Initialize(m)
	_ = o.Update(threeStations())
	o.SetVisible(false)
	m.Draw()
	if frames, _, _ := log.Stats(); frames != 0 {
		t.Fatalf("frames=%d while hidden, want 0", frames)
	}
	o.SetVisible(true)
	m.Draw()
	if frames, _, _ := log.Stats(); frames != 1 {
		t.Fatalf("frames=%d after show, want 1", frames)
	}
	if n := len(o.Scene().Children()); n != 3 {
		t.Fatalf("children=%d, hiding lost meshes", n)
	}
}

func TestTypeVisibilityKeepsMeshes(t *testing.T) {
	m, _ := newMap()
	log := &FrameLog{}
	reg := overlay.NewRegistry()
	reg.SetMap(m)
	o := New("three", Config{Renderer: log.Factory()})
	reg.Register("three", o)
	reg.UpdateOverlay("three", threeStations())
	m.Draw()

	before := o.Scene().Children()
	colors := make([]string, len(before))
	for i, mesh := range before {
		colors[i] = mesh.Material.Color
	}
	rebuilds := testutil.ToFloat64(metrics.SceneRebuilds)

	reg.SetTypeVisible(overlay.TypeThree, false)
	m.Draw()
	reg.SetTypeVisible(overlay.TypeThree, true)
	m.Draw()

	after := o.Scene().Children()
	if len(after) != len(before) {
		t.Fatalf("children=%d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i] != before[i] || after[i].Material.Color != colors[i] {
			t.Fatalf("mesh %d replaced or restyled by a visibility toggle", i)
		}
	}
	if got := testutil.ToFloat64(metrics.SceneRebuilds); got != rebuilds {
		t.Fatalf("rebuilds=%v, want %v", got, rebuilds)
	}
	if frame, ok := log.Last(); !ok || len(frame.Meshes) != 3 {
		t.Fatalf("frame=%+v ok=%v, want the retained meshes drawn", frame, ok)
	}
}

func TestUpdateRejectsWrongOptions(t *testing.T) {
	t.Parallel()
	o := New("three", Config{})
	if err := o.Update(42); err == nil {
		t.Fatal("Update(42) err=nil")
	}
}
