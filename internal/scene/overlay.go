package scene

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	fgeo "github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/overlay"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/station"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

// State is the lifecycle stage of an Overlay.
type State int

const (
	StateUninitialized State = iota
	StateAttached
	StateContextReady
	StateRendering
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAttached:
		return "attached"
	case StateContextReady:
		return "context-ready"
	case StateRendering:
		return "rendering"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AnchorPolicy chooses the geographic origin of the local frame.
type AnchorPolicy int

const (
	// AnchorFirst uses the first valid object of the incoming set.
	AnchorFirst AnchorPolicy = iota
	// AnchorCentroid uses the centroid of all valid object positions.
	AnchorCentroid
)

// Building is an extruded footprint.
type Building struct {
	ID       string    `json:"id"`
	Position orb.Point `json:"position"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
}

// Options is the object set drawn by the 3D overlay. Objects are taken in
// order: stations, buildings, then route points.
type Options struct {
	Stations    []station.Station
	Buildings   []Building
	Route       []orb.Point
	DepartureID *int
	ArrivalID   *int
}

// Subscriber is the telemetry source the overlay redraws on.
type Subscriber interface {
	Subscribe(l telemetry.Listener) (unsubscribe func())
}

// Config configures an Overlay.
type Config struct {
	Renderer  RendererFactory
	Telemetry Subscriber
	Anchor    AnchorPolicy
	// Altitude of the anchor in meters.
	Altitude float64
	Logger   *zerolog.Logger
}

// Overlay renders station columns, buildings and the route tube as a WebGL
// layer anchored to a geographic point.
type Overlay struct {
	id    string
	tag   string
	cfg   Config
	log   zerolog.Logger
	scene *Scene

	mu          sync.Mutex
	state       State
	m           platform.Map
	handle      platform.WebGLHandle
	renderer    Renderer
	unsubscribe func()
	visible     bool
	anchor      orb.Point
	hasAnchor   bool
	signature   uint64
	projection  platform.Mat4
}

// New creates an uninitialized 3D overlay.
func New(id string, cfg Config) *Overlay {
	log := logging.WithComponent("scene").With().Str("overlay", id).Logger()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Overlay{
		id:      id,
		tag:     "overlay:" + id,
		cfg:     cfg,
		log:     log,
		scene:   NewScene(),
		visible: true,
	}
}

func (o *Overlay) Type() overlay.Type { return overlay.TypeThree }

// Initialize attaches the overlay to m, leaving any previous map first.
func (o *Overlay) Initialize(m platform.Map) {
	o.mu.Lock()
	if o.state == StateDisposed {
		o.mu.Unlock()
		return
	}
	old := o.handle
	o.handle = nil
	o.m = m
	if o.unsubscribe == nil && o.cfg.Telemetry != nil {
		o.unsubscribe = o.cfg.Telemetry.Subscribe(func(telemetry.CameraState) { o.requestRedraw() })
	}
	o.mu.Unlock()

	if old != nil {
		old.Detach()
	}
	h := m.AttachWebGL(o)

	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()
}

// OnAdd is called by the map when the overlay is attached.
func (o *Overlay) OnAdd() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateDisposed {
		o.state = StateAttached
	}
}

// OnContextRestored builds a renderer for gl. Failure leaves the overlay
// attached and silent.
func (o *Overlay) OnContextRestored(gl platform.GLContext) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateDisposed || o.state == StateUninitialized {
		return
	}
	if gl == nil || o.cfg.Renderer == nil {
		o.log.Warn().Msg("no rendering surface, 3D overlay stays idle")
		return
	}
	r, err := o.cfg.Renderer(gl)
	if err != nil {
		o.log.Warn().Err(err).Msg("renderer construction failed, 3D overlay stays idle")
		return
	}
	if o.renderer != nil {
		o.renderer.Dispose()
	}
	o.renderer = r
	o.state = StateContextReady
}

// OnContextLost drops the renderer and waits for a new context.
func (o *Overlay) OnContextLost() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateDisposed {
		return
	}
	metrics.SceneContextLosses.Inc()
	if o.renderer != nil {
		o.renderer.Dispose()
		o.renderer = nil
	}
	if o.state == StateContextReady || o.state == StateRendering {
		o.state = StateAttached
	}
}

// OnDraw recomputes the projection for this frame, renders and resets the
// shared GL state.
func (o *Overlay) OnDraw(gl platform.GLContext, t platform.CoordinateTransformer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.renderer == nil || (o.state != StateContextReady && o.state != StateRendering) {
		return
	}
	if !o.visible || !o.hasAnchor {
		return
	}

	proj := t.FromLatLngAltitude(o.anchor, o.cfg.Altitude)
	if !proj.Finite() {
		o.log.Warn().Msg("non-finite projection, frame skipped")
		return
	}
	o.projection = proj
	if err := o.renderer.Render(o.scene, Camera{Projection: proj}); err != nil {
		o.log.Warn().Err(err).Msg("render failed")
	}
	o.renderer.ResetState()
	o.state = StateRendering
	metrics.SceneDraws.Inc()
}

// OnRemove releases GPU resources when the map drops the overlay.
func (o *Overlay) OnRemove() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.renderer != nil {
		o.renderer.Dispose()
		o.renderer = nil
	}
	if o.state != StateDisposed {
		o.state = StateUninitialized
	}
}

// Update replaces the object set. A changed set rebuilds every tagged mesh
// around a recomputed anchor; a selection-only change restyles in place.
func (o *Overlay) Update(opts any) error {
	var in Options
	switch v := opts.(type) {
	case Options:
		in = v
	case *Options:
		in = *v
	default:
		return fmt.Errorf("3d overlay %s: %w: %T", o.id, overlay.ErrUnsupportedOptions, opts)
	}

	o.mu.Lock()
	if o.state == StateDisposed {
		o.mu.Unlock()
		return nil
	}
	sig := signature(in)
	if sig != o.signature || !o.hasAnchor {
		o.rebuildLocked(in)
		o.signature = sig
	} else {
		o.restyleLocked(in)
	}
	o.mu.Unlock()

	o.requestRedraw()
	return nil
}

func (o *Overlay) rebuildLocked(in Options) {
	for _, m := range o.scene.RemoveTagged(o.tag) {
		m.Dispose()
	}
	metrics.SceneRebuilds.Inc()

	anchor, ok := o.pickAnchor(in)
	o.anchor, o.hasAnchor = anchor, ok
	if !ok {
		return
	}

	for _, st := range in.Stations {
		if !fgeo.Valid(st.Coordinates) {
			continue
		}
		pos := LocalOffset(anchor, st.Coordinates)
		pos.Y = stationHeight / 2
		o.scene.Add(&Mesh{
			Name:     fmt.Sprintf("station:%d", st.ID),
			Tag:      o.tag,
			Position: pos,
			Geometry: &Geometry{Kind: GeometryCylinder, Radius: 6, Height: stationHeight},
			Material: &Material{Color: stationColor(st.ID, in), Opacity: 0.9},
			Meta:     map[string]any{"stationID": st.ID},
		})
	}
	for _, b := range in.Buildings {
		if !fgeo.Valid(b.Position) || b.Height <= 0 {
			continue
		}
		w := b.Width
		if w <= 0 {
			w = 20
		}
		pos := LocalOffset(anchor, b.Position)
		pos.Y = b.Height / 2
		o.scene.Add(&Mesh{
			Name:     "building:" + b.ID,
			Tag:      o.tag,
			Position: pos,
			Geometry: &Geometry{Kind: GeometryBox, Width: w, Depth: w, Height: b.Height},
			Material: &Material{Color: "#b0bec5", Opacity: 0.8},
		})
	}
	var path []Vec3
	for _, p := range in.Route {
		if !fgeo.Valid(p) {
			continue
		}
		v := LocalOffset(anchor, p)
		v.Y = routeLift
		path = append(path, v)
	}
	if len(path) >= 2 {
		o.scene.Add(&Mesh{
			Name:     "route",
			Tag:      o.tag,
			Geometry: &Geometry{Kind: GeometryTube, Radius: 3, Path: path},
			Material: &Material{Color: "#43a047", Opacity: 1},
		})
	}
}

func (o *Overlay) restyleLocked(in Options) {
	for _, m := range o.scene.Children() {
		id, ok := m.Meta["stationID"].(int)
		if !ok || m.Tag != o.tag {
			continue
		}
		m.Material.Color = stationColor(id, in)
	}
}

func (o *Overlay) pickAnchor(in Options) (orb.Point, bool) {
	pts := positions(in)
	if o.cfg.Anchor == AnchorCentroid {
		return fgeo.Centroid(pts)
	}
	for _, p := range pts {
		if fgeo.Valid(p) {
			return p, true
		}
	}
	return orb.Point{}, false
}

func (o *Overlay) requestRedraw() {
	o.mu.Lock()
	h := o.handle
	o.mu.Unlock()
	if h != nil {
		h.RequestRedraw()
	}
}

// SetVisible hides or shows the meshes without discarding them.
func (o *Overlay) SetVisible(visible bool) {
	o.mu.Lock()
	o.visible = visible
	o.mu.Unlock()
	o.requestRedraw()
}

// Dispose detaches from the map and releases every mesh. It is idempotent.
func (o *Overlay) Dispose() {
	o.mu.Lock()
	if o.state == StateDisposed {
		o.mu.Unlock()
		return
	}
	h := o.handle
	o.handle = nil
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	if h != nil {
		h.Detach()
	}
	if unsub != nil {
		unsub()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.scene.RemoveTagged(o.tag) {
		m.Dispose()
	}
	if o.renderer != nil {
		o.renderer.Dispose()
		o.renderer = nil
	}
	o.hasAnchor = false
	o.m = nil
	o.state = StateDisposed
}

// State returns the lifecycle stage.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Anchor returns the current anchor.
func (o *Overlay) Anchor() (orb.Point, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.anchor, o.hasAnchor
}

// Projection returns the matrix used by the last drawn frame.
func (o *Overlay) Projection() platform.Mat4 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.projection
}

// Scene exposes the scene graph.
func (o *Overlay) Scene() *Scene { return o.scene }

const (
	stationHeight = 20.0
	routeLift     = 2.0
)

func stationColor(id int, in Options) string {
	switch {
	case in.DepartureID != nil && *in.DepartureID == id:
		return "#43a047"
	case in.ArrivalID != nil && *in.ArrivalID == id:
		return "#e53935"
	default:
		return "#1e88e5"
	}
}

func positions(in Options) []orb.Point {
	pts := make([]orb.Point, 0, len(in.Stations)+len(in.Buildings)+len(in.Route))
	for _, st := range in.Stations {
		pts = append(pts, st.Coordinates)
	}
	for _, b := range in.Buildings {
		pts = append(pts, b.Position)
	}
	return append(pts, in.Route...)
}

// signature hashes the geometry-defining part of the object set. Selection
// ids are excluded.
func signature(in Options) uint64 {
	d := xxhash.New()
	var buf [8]byte
	putF := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = d.Write(buf[:])
	}
	putS := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	for _, st := range in.Stations {
		putS("s")
		putF(float64(st.ID))
		putF(st.Coordinates.Lon())
		putF(st.Coordinates.Lat())
	}
	for _, b := range in.Buildings {
		putS("b" + b.ID)
		putF(b.Position.Lon())
		putF(b.Position.Lat())
		putF(b.Width)
		putF(b.Height)
	}
	for _, p := range in.Route {
		putS("r")
		putF(p.Lon())
		putF(p.Lat())
	}
	return d.Sum64()
}
