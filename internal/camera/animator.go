package camera

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-fleetmap/internal/clock"
	fgeo "github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
)

// DefaultFrameInterval is roughly one display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// Config configures an Animator.
type Config struct {
	FrameInterval time.Duration
	// Viewport is used to fit routes.
	ViewportWidth  int
	ViewportHeight int
	RoutePadding   float64
	MaxZoom        float64
	// Home is the pose ResetCamera returns to.
	Home   platform.Camera
	Clock  clock.Clock
	Logger *zerolog.Logger
}

// Animator is the camera-control capability. It implements every capability
// interface in this package.
//
// Each transition captures a generation number. Starting a transition bumps
// the generation, and every frame step checks it before touching the camera,
// so a preempted transition stops without writing again.
type Animator struct {
	sink Sink
	cfg  Config
	log  zerolog.Logger

	gen atomic.Uint64

	// mu serializes frame writes against Start so a stale step never lands
	// after a newer transition has begun.
	mu     sync.Mutex
	active uint64
	timer  clock.Timer
}

var (
	_ PointAnimator   = (*Animator)(nil)
	_ StationAnimator = (*Animator)(nil)
	_ RouteAnimator   = (*Animator)(nil)
	_ Resetter        = (*Animator)(nil)
	_ Orbiter         = (*Animator)(nil)
)

// NewAnimator returns an Animator writing to sink.
func NewAnimator(sink Sink, cfg Config) *Animator {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = DefaultMaxZoom
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	log := logging.WithComponent("camera")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Animator{sink: sink, cfg: cfg, log: log}
}

func (a *Animator) AnimateCameraTo(target orb.Point, p Params) {
	a.Start(request(KindPoint, target, p))
}

func (a *Animator) AnimateToStation(target orb.Point, p Params) {
	a.Start(request(KindPoint, target, p))
}

func (a *Animator) AnimateToRoute(start, end orb.Point, p Params) {
	r := request(KindRouteFit, start, p)
	r.End = end
	r.Padding = a.cfg.RoutePadding
	a.Start(r)
}

func (a *Animator) ResetCamera(p Params) {
	r := request(KindReset, a.cfg.Home.Center, p)
	if r.Zoom == nil {
		r.Zoom = Float(a.cfg.Home.Zoom)
	}
	if r.Tilt == nil {
		r.Tilt = Float(a.cfg.Home.Tilt)
	}
	if r.Heading == nil {
		r.Heading = Float(a.cfg.Home.Heading)
	}
	a.Start(r)
}

func (a *Animator) CircleAroundPoint(center orb.Point, revolutions float64, p Params) {
	r := request(KindOrbit, center, p)
	r.Revolutions = revolutions
	a.Start(r)
}

func request(kind Kind, target orb.Point, p Params) Request {
	return Request{
		Kind:       kind,
		Target:     target,
		Zoom:       p.Zoom,
		Tilt:       p.Tilt,
		Heading:    p.Heading,
		Duration:   p.Duration,
		OnComplete: p.OnComplete,
	}
}

// Start begins req, preempting any running transition, and returns its
// generation. A request with an unusable target is dropped and returns 0.
func (a *Animator) Start(req Request) uint64 {
	if !fgeo.Valid(req.Target) || (req.Kind == KindRouteFit && !fgeo.Valid(req.End)) {
		a.log.Warn().Str("kind", string(req.Kind)).Msg("transition target is not a valid coordinate, ignored")
		metrics.CameraSkipped.WithLabelValues("invalid_coordinates").Inc()
		return 0
	}

	a.mu.Lock()
	if a.active != 0 {
		metrics.CameraPreemptions.Inc()
		a.log.Debug().Uint64("generation", a.active).Msg("transition preempted")
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	gen := a.gen.Add(1)
	a.active = gen
	from := a.sink.Camera()
	a.mu.Unlock()

	metrics.CameraTransitions.WithLabelValues(string(req.Kind)).Inc()
	t := &transition{
		gen:   gen,
		req:   req,
		from:  from,
		to:    a.target(req, from),
		start: a.cfg.Clock.Now(),
	}
	a.log.Debug().
		Uint64("generation", gen).
		Str("kind", string(req.Kind)).
		Dur("duration", req.Duration).
		Msg("transition started")

	if req.Duration <= 0 {
		a.step(t)
		return gen
	}
	a.schedule(t)
	return gen
}

// Stop cancels the running transition, if any, without completing it.
func (a *Animator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == 0 {
		return
	}
	a.gen.Add(1)
	a.active = 0
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Generation returns the generation of the most recent transition.
func (a *Animator) Generation() uint64 { return a.gen.Load() }

// Active reports whether a transition is still running.
func (a *Animator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != 0
}

type transition struct {
	gen   uint64
	req   Request
	from  platform.Camera
	to    platform.Camera
	start time.Time
}

func (a *Animator) schedule(t *transition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen.Load() != t.gen {
		return
	}
	a.timer = a.cfg.Clock.AfterFunc(a.cfg.FrameInterval, func() { a.step(t) })
}

func (a *Animator) step(t *transition) {
	f := 1.0
	if t.req.Duration > 0 {
		f = math.Min(float64(a.cfg.Clock.Now().Sub(t.start))/float64(t.req.Duration), 1)
	}

	a.mu.Lock()
	if a.gen.Load() != t.gen {
		a.mu.Unlock()
		return
	}
	a.sink.SetCamera(t.pose(f))
	done := f >= 1
	if done {
		a.active = 0
		a.timer = nil
	}
	a.mu.Unlock()

	if !done {
		a.schedule(t)
		return
	}
	a.log.Debug().Uint64("generation", t.gen).Msg("transition complete")
	if t.req.OnComplete != nil {
		t.req.OnComplete()
	}
}

// target is the final pose of req starting from cur.
func (a *Animator) target(req Request, cur platform.Camera) platform.Camera {
	to := cur
	to.Center = req.Target
	if req.Kind == KindRouteFit {
		center, zoom := FitRoute(req.Target, req.End, a.cfg.ViewportWidth, a.cfg.ViewportHeight, req.Padding, a.cfg.MaxZoom)
		to.Center, to.Zoom = center, zoom
	}
	if req.Zoom != nil {
		to.Zoom = *req.Zoom
	}
	if req.Tilt != nil {
		to.Tilt = *req.Tilt
	}
	if req.Heading != nil {
		to.Heading = fgeo.NormalizeHeading(*req.Heading)
	}
	return to
}

// pose interpolates the camera at progress f in [0, 1].
func (t *transition) pose(f float64) platform.Camera {
	if t.req.Kind == KindOrbit {
		return t.orbit(f)
	}
	e := easeInOutCubic(f)
	if f >= 1 {
		return t.to
	}
	return platform.Camera{
		Center: orb.Point{
			lerp(t.from.Center.Lon(), t.to.Center.Lon(), e),
			lerp(t.from.Center.Lat(), t.to.Center.Lat(), e),
		},
		Zoom:    lerp(t.from.Zoom, t.to.Zoom, e),
		Tilt:    lerp(t.from.Tilt, t.to.Tilt, e),
		Heading: fgeo.NormalizeHeading(t.from.Heading + shortestArc(t.from.Heading, t.to.Heading)*e),
	}
}

// orbit holds the center, zoom and tilt fixed and turns the heading at a
// constant rate.
func (t *transition) orbit(f float64) platform.Camera {
	revs := t.req.Revolutions
	if revs == 0 {
		revs = 1
	}
	c := t.to
	c.Heading = fgeo.NormalizeHeading(t.from.Heading + 360*revs*f)
	return c
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }

// shortestArc is the signed turn in degrees from a to b, in [-180, 180).
func shortestArc(a, b float64) float64 {
	return math.Mod(math.Mod(b-a, 360)+540, 360) - 180
}

func easeInOutCubic(f float64) float64 {
	if f < 0.5 {
		return 4 * f * f * f
	}
	return 1 - math.Pow(-2*f+2, 3)/2
}
