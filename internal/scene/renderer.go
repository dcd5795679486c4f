package scene

import (
	"errors"
	"sync"
	"time"

	"github.com/joeblew999/plat-fleetmap/internal/platform"
)

// Camera is the per-frame view of the scene.
type Camera struct {
	Projection platform.Mat4
}

// Renderer draws a Scene into a GL context.
type Renderer interface {
	Render(s *Scene, cam Camera) error
	// ResetState returns shared GL state to what the map expects.
	ResetState()
	Dispose()
}

// RendererFactory builds a Renderer for a live context.
type RendererFactory func(gl platform.GLContext) (Renderer, error)

// ErrNoSurface is returned by factories given no context.
var ErrNoSurface = errors.New("no rendering surface")

// MeshFrame is one mesh as drawn in a frame.
type MeshFrame struct {
	Name  string `json:"name"`
	Local Vec3   `json:"local" doc:"Position in local meters"`
	Clip  Vec3   `json:"clip" doc:"Position in clip space"`
}

// Frame summarizes a rendered frame.
type Frame struct {
	Number     uint64        `json:"number"`
	Generation uint64        `json:"generation" doc:"Rendering context generation"`
	Lights     int           `json:"lights"`
	Meshes     []MeshFrame   `json:"meshes"`
	Projection platform.Mat4 `json:"projection"`
	At         time.Time     `json:"at"`
}

// FrameLog is a headless renderer backend. Each context gets its own
// renderer; all of them report into the log.
type FrameLog struct {
	mu        sync.Mutex
	last      Frame
	ok        bool
	frames    uint64
	resets    uint64
	renderers int
}

// Factory returns a RendererFactory recording into l.
func (l *FrameLog) Factory() RendererFactory {
	return func(gl platform.GLContext) (Renderer, error) {
		if gl == nil {
			return nil, ErrNoSurface
		}
		l.mu.Lock()
		l.renderers++
		l.mu.Unlock()
		return &recorder{log: l, gen: gl.Generation()}, nil
	}
}

// Last returns the most recent frame.
func (l *FrameLog) Last() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.ok
}

// Stats returns frames rendered, state resets and renderers created.
func (l *FrameLog) Stats() (frames, resets uint64, renderers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames, l.resets, l.renderers
}

type recorder struct {
	log      *FrameLog
	gen      uint64
	disposed bool
}

var errRendererDisposed = errors.New("renderer disposed")

func (r *recorder) Render(s *Scene, cam Camera) error {
	if r.disposed {
		return errRendererDisposed
	}
	children := s.Children()
	meshes := make([]MeshFrame, 0, len(children))
	for _, m := range children {
		x, y, z := cam.Projection.Apply(m.Position.X, m.Position.Y, m.Position.Z)
		meshes = append(meshes, MeshFrame{Name: m.Name, Local: m.Position, Clip: Vec3{X: x, Y: y, Z: z}})
	}

	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	r.log.frames++
	r.log.last = Frame{
		Number:     r.log.frames,
		Generation: r.gen,
		Lights:     len(s.Lights()),
		Meshes:     meshes,
		Projection: cam.Projection,
		At:         time.Now(),
	}
	r.log.ok = true
	return nil
}

func (r *recorder) ResetState() {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	r.log.resets++
}

func (r *recorder) Dispose() { r.disposed = true }
