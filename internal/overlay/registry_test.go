package overlay

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/station"
)

type fakeOverlay struct {
	kind      Type
	inits     []platform.Map
	updates   []any
	visible   []bool
	disposed  int
	updateErr error
	panicMsg  string
}

func (f *fakeOverlay) Type() Type { return f.kind }
func (f *fakeOverlay) Initialize(m platform.Map) { f.inits = append(f.inits, m) }
func (f *fakeOverlay) SetVisible(v bool) { f.visible = append(f.visible, v) }
func (f *fakeOverlay) Dispose() { f.disposed++ }
func (f *fakeOverlay) lastVisible() bool { return f.visible[len(f.visible)-1] }
func (f *fakeOverlay) Update(opts any) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.updates = append(f.updates, opts)
	return f.updateErr
}

func newMap() *platform.Headless {
	return platform.NewHeadless(platform.HeadlessOptions{Clock: clock.NewManual(time.Unix(0, 0))})
}

func TestRegisterReplacesAndDisposesPrevious(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := &fakeOverlay{kind: TypeMarker}
	b := &fakeOverlay{kind: TypeMarker}

	r.Register("stations", a)
	r.Register("stations", b)

	if a.disposed != 1 {
		t.Fatalf("a.disposed=%d, want 1", a.disposed)
	}
	if got, _ := r.Get("stations"); got != b {
		t.Fatal("registry does not hold the replacement overlay")
	}
	if r.Len() != 1 {
		t.Fatalf("Len()=%d, want 1", r.Len())
	}
}

func TestRegisterSameOverlayAgainKeepsIt(t *testing.T) {
	m := newMap()
	r := NewRegistry()
	r.SetMap(m)
	gauge := metrics.OverlaysRegistered.WithLabelValues(string(TypeRoute))
	before := testutil.ToFloat64(gauge)

	a := &fakeOverlay{kind: TypeRoute}
	r.Register("route", a)
	r.SetOverlayVisible("route", false)
	r.Register("route", a)

	if a.disposed != 0 {
		t.Fatalf("disposed=%d, want 0", a.disposed)
	}
	if len(a.inits) != 2 || a.lastVisible() {
		t.Fatalf("inits=%d visible=%v, want re-initialized and still hidden", len(a.inits), a.lastVisible())
	}
	if got := testutil.ToFloat64(gauge); got != before+1 {
		t.Fatalf("gauge=%v, want %v", got, before+1)
	}

	ml := NewMarkerLayer("stations", nil)
	r.Register("stations", ml)
	r.Register("stations", ml)
	r.UpdateOverlay("stations", MarkerOptions{Stations: []station.Station{
		{ID: 5, Name: "Taipei Main", Coordinates: orb.Point{121.5170, 25.0478}},
	}})
	if !ml.Visible() || len(ml.Features().Features) != 1 {
		t.Fatalf("visible=%v features=%d, want a live marker layer", ml.Visible(), len(ml.Features().Features))
	}
	if l, ok := m.Layer("stations"); !ok || len(l.Features.Features) != 1 {
		t.Fatalf("map layer=%+v ok=%v, want the updated markers", l, ok)
	}
}

func TestSetMapInitializesAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := &fakeOverlay{kind: TypeMarker}
	b := &fakeOverlay{kind: TypeRoute}
	r.Register("a", a)
	r.Register("b", b)
	if len(a.inits) != 0 {
		t.Fatal("overlay initialized before a map was bound")
	}

	m1, m2 := newMap(), newMap()
	r.SetMap(m1)
	r.SetMap(m2)
	if len(a.inits) != 2 || a.inits[1] != m2 || len(b.inits) != 2 {
		t.Fatalf("inits a=%d b=%d, want 2 each ending on the new map", len(a.inits), len(b.inits))
	}

	c := &fakeOverlay{kind: TypeCircle}
	r.Register("c", c)
	if len(c.inits) != 1 || c.inits[0] != m2 {
		t.Fatal("overlay registered after SetMap was not initialized")
	}
}

func TestUpdateOverlayNeverPanics(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewRegistry().WithLogger(logging.NewTestLogger(&buf))

	r.UpdateOverlay("missing", 1)
	if !strings.Contains(buf.String(), "unregistered overlay") {
		t.Fatalf("log=%s, want warning for missing overlay", buf.String())
	}

	r.Register("boom", &fakeOverlay{kind: TypeThree, panicMsg: "kaboom"})
	r.UpdateOverlay("boom", nil)
	if !strings.Contains(buf.String(), "kaboom") {
		t.Fatalf("log=%s, want recovered panic", buf.String())
	}

	bad := &fakeOverlay{kind: TypeRoute, updateErr: errors.New("bad path")}
	r.Register("route", bad)
	r.UpdateOverlay("route", PolylineOptions{})
	if len(bad.updates) != 1 || !strings.Contains(buf.String(), "bad path") {
		t.Fatalf("log=%s, want logged update error", buf.String())
	}
}

func TestTypeVisibilityRememberedForNewOverlays(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := &fakeOverlay{kind: TypeWalking}
	other := &fakeOverlay{kind: TypeRoute}
	r.Register("walk-1", a)
	r.Register("route", other)

	r.SetTypeVisible(TypeWalking, false)
	if a.lastVisible() {
		t.Fatal("walking overlay still visible")
	}
	if !other.lastVisible() {
		t.Fatal("route overlay hidden by walking toggle")
	}

	b := &fakeOverlay{kind: TypeWalking}
	r.Register("walk-2", b)
	if b.lastVisible() {
		t.Fatal("new walking overlay should start hidden")
	}
	if a.disposed != 0 {
		t.Fatal("hiding disposed the overlay")
	}

	r.SetTypeVisible(TypeWalking, true)
	if !a.lastVisible() || !b.lastVisible() {
		t.Fatal("walking overlays not shown again")
	}
}

func TestSetOverlayVisible(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := &fakeOverlay{kind: TypeMarker}
	r.Register("a", a)
	if !r.SetOverlayVisible("a", false) || a.lastVisible() {
		t.Fatal("SetOverlayVisible(a, false) did not hide a")
	}
	if r.SetOverlayVisible("nope", true) {
		t.Fatal("SetOverlayVisible(nope) = true")
	}
	if d := r.Descriptors(); len(d) != 1 || d[0].Visible {
		t.Fatalf("Descriptors()=%+v, want a hidden", d)
	}
}

func TestRemoveAndDisposeAll(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := &fakeOverlay{kind: TypeMarker}
	b := &fakeOverlay{kind: TypeThree}
	r.Register("a", a)
	r.Register("b", b)
	r.SetMap(newMap())

	r.RemoveOverlay("a")
	r.RemoveOverlay("a")
	if a.disposed != 1 {
		t.Fatalf("a.disposed=%d, want 1", a.disposed)
	}

	r.DisposeAll()
	r.DisposeAll()
	if b.disposed != 1 {
		t.Fatalf("b.disposed=%d, want 1", b.disposed)
	}
	if r.Len() != 0 || r.Map() != nil {
		t.Fatal("DisposeAll left overlays or map binding")
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()
	if got, err := ParseType("walking"); err != nil || got != TypeWalking {
		t.Fatalf("ParseType(walking)=%v,%v", got, err)
	}
	if _, err := ParseType("lasers"); err == nil {
		t.Fatal("ParseType(lasers) err=nil")
	}
}

func TestRegistryWithHeadlessLayers(t *testing.T) {
	t.Parallel()
	m := newMap()
	r := NewRegistry()
	r.SetMap(m)

	route := NewRouteLayer("route")
	r.Register("route", route)
	r.UpdateOverlay("route", PolylineOptions{Path: []orb.Point{{121.51, 25.04}, {121.56, 25.03}}})

	l, ok := m.Layer("route")
	if !ok || len(l.Features.Features) != 1 || !l.Visible {
		t.Fatalf("map layer=%+v ok=%v, want one visible feature", l, ok)
	}

	r.SetTypeVisible(TypeRoute, false)
	l, _ = m.Layer("route")
	if l.Visible || len(l.Features.Features) != 1 {
		t.Fatal("hiding should keep features and clear visibility")
	}

	r.RemoveOverlay("route")
	if _, ok := m.Layer("route"); ok {
		t.Fatal("layer still on map after RemoveOverlay")
	}
}
