package platform

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
)

// HeadlessOptions configures a Headless map.
type HeadlessOptions struct {
	Initial        Camera
	ViewportWidth  int
	ViewportHeight int
	// IdleAfter is the quiet period after the last camera change before
	// EventIdle fires.
	IdleAfter time.Duration
	// RenderInterval is the frame period used by Serve.
	RenderInterval time.Duration
	Clock          clock.Clock
}

// Headless is an in-process map surface. It keeps a virtual camera, emits
// change events, stores 2D layers and drives WebGL overlay lifecycles.
type Headless struct {
	opts HeadlessOptions
	log  zerolog.Logger

	mu        sync.Mutex
	camera    Camera
	nextID    uint64
	listeners map[Event]map[uint64]func()
	layers    map[string]Layer
	overlays  map[uint64]*attachment
	gl        *glContext
	glGen     uint64
	idleTimer clock.Timer
	dirty     bool
	frames    uint64
}

// NewHeadless creates a map with a live rendering context.
func NewHeadless(opts HeadlessOptions) *Headless {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 250 * time.Millisecond
	}
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = 16 * time.Millisecond
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = 1280
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = 800
	}
	return &Headless{
		opts:      opts,
		log:       logging.WithComponent("platform"),
		camera:    opts.Initial,
		listeners: make(map[Event]map[uint64]func()),
		layers:    make(map[string]Layer),
		overlays:  make(map[uint64]*attachment),
		gl:        &glContext{gen: 1},
		glGen:     1,
		dirty:     true,
	}
}

// Viewport returns the surface size in pixels.
func (h *Headless) Viewport() (width, height int) {
	return h.opts.ViewportWidth, h.opts.ViewportHeight
}

func (h *Headless) Camera() Camera {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.camera
}

// SetCamera moves the camera, emits one event per changed field and
// restarts the idle countdown.
func (h *Headless) SetCamera(c Camera) {
	h.mu.Lock()
	old := h.camera
	h.camera = c

	var changed []Event
	if old.Center != c.Center {
		changed = append(changed, EventCenterChanged)
	}
	if old.Zoom != c.Zoom {
		changed = append(changed, EventZoomChanged)
	}
	if old.Tilt != c.Tilt {
		changed = append(changed, EventTiltChanged)
	}
	if old.Heading != c.Heading {
		changed = append(changed, EventHeadingChanged)
	}
	if len(changed) > 0 {
		h.dirty = true
		if h.idleTimer != nil {
			h.idleTimer.Stop()
		}
		h.idleTimer = h.opts.Clock.AfterFunc(h.opts.IdleAfter, func() { h.emit(EventIdle) })
	}
	h.mu.Unlock()

	for _, ev := range changed {
		h.emit(ev)
	}
}

func (h *Headless) On(ev Event, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.listeners[ev] == nil {
		h.listeners[ev] = make(map[uint64]func())
	}
	h.listeners[ev][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners[ev], id)
	}
}

// emit calls listeners in registration order, outside the lock.
func (h *Headless) emit(ev Event) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.listeners[ev]))
	for id := range h.listeners[ev] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[ev][id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *Headless) SetLayer(l Layer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layers[l.ID] = l
}

func (h *Headless) RemoveLayer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.layers, id)
}

// Layer returns the layer stored under id.
func (h *Headless) Layer(id string) (Layer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.layers[id]
	return l, ok
}

// Layers returns all layers sorted by id.
func (h *Headless) Layers() []Layer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Layer, 0, len(h.layers))
	for _, l := range h.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Click dispatches a click on featureID of a visible layer. It reports
// whether a handler ran.
func (h *Headless) Click(layerID string, featureID any) bool {
	h.mu.Lock()
	l, ok := h.layers[layerID]
	h.mu.Unlock()
	if !ok || !l.Visible || l.OnClick == nil {
		return false
	}
	l.OnClick(featureID)
	return true
}

func (h *Headless) AttachWebGL(o WebGLOverlay) WebGLHandle {
	h.mu.Lock()
	h.nextID++
	a := &attachment{id: h.nextID, host: h, overlay: o, redraw: true}
	h.overlays[a.id] = a
	gl := h.gl
	h.mu.Unlock()

	o.OnAdd()
	if gl != nil {
		o.OnContextRestored(gl)
	}
	return a
}

// Draw renders one frame: every overlay that requested a redraw, or all of
// them when the camera moved since the last frame. It returns the number of
// overlays drawn. Nothing is drawn while the context is lost.
func (h *Headless) Draw() int {
	h.mu.Lock()
	gl := h.gl
	if gl == nil {
		h.mu.Unlock()
		return 0
	}
	var due []*attachment
	for _, a := range h.sortedOverlaysLocked() {
		if h.dirty || a.redraw {
			a.redraw = false
			due = append(due, a)
		}
	}
	h.dirty = false
	if len(due) > 0 {
		h.frames++
	}
	t := &transformer{camera: h.camera, width: h.opts.ViewportWidth, height: h.opts.ViewportHeight}
	h.mu.Unlock()

	for _, a := range due {
		a.overlay.OnDraw(gl, t)
	}
	return len(due)
}

// Frames returns the number of frames that drew at least one overlay.
func (h *Headless) Frames() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

// LoseContext simulates the GPU context being dropped.
func (h *Headless) LoseContext() {
	h.mu.Lock()
	if h.gl == nil {
		h.mu.Unlock()
		return
	}
	h.gl = nil
	atts := h.sortedOverlaysLocked()
	h.mu.Unlock()

	h.log.Warn().Int("overlays", len(atts)).Msg("rendering context lost")
	for _, a := range atts {
		a.overlay.OnContextLost()
	}
}

// RestoreContext re-creates the rendering context.
func (h *Headless) RestoreContext() {
	h.mu.Lock()
	if h.gl != nil {
		h.mu.Unlock()
		return
	}
	h.glGen++
	gl := &glContext{gen: h.glGen}
	h.gl = gl
	atts := h.sortedOverlaysLocked()
	for _, a := range atts {
		a.redraw = true
	}
	h.mu.Unlock()

	h.log.Info().Uint64("generation", gl.gen).Msg("rendering context restored")
	for _, a := range atts {
		a.overlay.OnContextRestored(gl)
	}
}

// Serve draws frames every RenderInterval until ctx is done.
func (h *Headless) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.RenderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Draw()
		}
	}
}

func (h *Headless) String() string { return "render-loop" }

func (h *Headless) sortedOverlaysLocked() []*attachment {
	out := make([]*attachment, 0, len(h.overlays))
	for _, a := range h.overlays {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

type attachment struct {
	id      uint64
	host    *Headless
	overlay WebGLOverlay
	redraw  bool
}

func (a *attachment) RequestRedraw() {
	a.host.mu.Lock()
	defer a.host.mu.Unlock()
	a.redraw = true
}

func (a *attachment) Detach() {
	a.host.mu.Lock()
	if _, ok := a.host.overlays[a.id]; !ok {
		a.host.mu.Unlock()
		return
	}
	delete(a.host.overlays, a.id)
	a.host.mu.Unlock()
	a.overlay.OnRemove()
}

type glContext struct{ gen uint64 }

func (g *glContext) Generation() uint64 { return g.gen }

const tileSize = 256

// transformer projects geographic positions for one frame. Local geometry
// uses x east, y up, z south, in meters.
type transformer struct {
	camera        Camera
	width, height int
}

func (t *transformer) FromLatLngAltitude(p orb.Point, altitude float64) Mat4 {
	at := project.WGS84.ToMercator(p)
	center := project.WGS84.ToMercator(t.camera.Center)

	// pixels per web mercator meter
	px := tileSize * math.Pow(2, t.camera.Zoom) / (2 * math.Pi * 6378137)
	// local meters are stretched by the mercator scale factor at p
	stretch := 1 / math.Cos(p.Lat()*math.Pi/180)

	m := Scale(2/float64(t.width), 2/float64(t.height), 1e-4)
	m = m.Mul(RotateX(-t.camera.Tilt * math.Pi / 180))
	m = m.Mul(RotateZ(t.camera.Heading * math.Pi / 180))
	m = m.Mul(Scale(px, px, px))
	m = m.Mul(Translate(at[0]-center[0], at[1]-center[1], altitude))
	m = m.Mul(Scale(stretch, stretch, stretch))
	return m.Mul(RotateX(math.Pi / 2))
}
