// Package overlay keeps the set of georeferenced overlays drawn on the shared
// map and manages their lifecycle.
package overlay

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
)

// Type identifies an overlay variant.
type Type string

const (
	TypeMarker  Type = "marker"
	TypeThree   Type = "three"
	TypeCircle  Type = "circle"
	TypeWalking Type = "walking"
	TypeRoute   Type = "route"
)

// Types lists every overlay type.
var Types = []Type{TypeMarker, TypeThree, TypeCircle, TypeWalking, TypeRoute}

// ParseType returns the Type named s.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown overlay type %q", s)
}

// ErrUnsupportedOptions is returned by Update when given options of the
// wrong type for the variant.
var ErrUnsupportedOptions = errors.New("unsupported overlay options")

// Overlay is a map-anchored visual layer.
type Overlay interface {
	Type() Type
	// Initialize binds the overlay to m. It may be called again with a new
	// map, in which case the overlay moves to it.
	Initialize(m platform.Map)
	Update(opts any) error
	// SetVisible hides or shows the overlay without discarding its state.
	SetVisible(visible bool)
	Dispose()
}

// Descriptor is the registry's record of one overlay.
type Descriptor struct {
	ID      string  `json:"id"`
	Type    Type    `json:"type"`
	Visible bool    `json:"visible"`
	Overlay Overlay `json:"-"`
}

// Registry owns every overlay on the map. At most one overlay exists per id.
type Registry struct {
	log zerolog.Logger

	mu       sync.Mutex
	m        platform.Map
	overlays map[string]*Descriptor
	hidden   map[Type]bool
}

// NewRegistry creates an empty registry with no map bound.
func NewRegistry() *Registry {
	return &Registry{
		log:      logging.WithComponent("overlay"),
		overlays: make(map[string]*Descriptor),
		hidden:   make(map[Type]bool),
	}
}

// WithLogger replaces the registry's logger.
func (r *Registry) WithLogger(l zerolog.Logger) *Registry {
	r.log = l
	return r
}

// Register stores o under id, disposing any other overlay already there.
// Registering the same overlay again only re-initializes it. The overlay is
// initialized at once when a map is bound, and starts hidden when its type
// has been hidden.
func (r *Registry) Register(id string, o Overlay) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.overlays[id]; ok {
		if sameOverlay(prev.Overlay, o) {
			if r.m != nil {
				o.Initialize(r.m)
			}
			o.SetVisible(prev.Visible)
			return
		}
		r.disposeLocked(prev)
		r.log.Debug().Str("id", id).Msg("replaced overlay")
	}

	d := &Descriptor{ID: id, Type: o.Type(), Visible: !r.hidden[o.Type()], Overlay: o}
	r.overlays[id] = d
	metrics.OverlaysRegistered.WithLabelValues(string(d.Type)).Inc()

	if r.m != nil {
		o.Initialize(r.m)
	}
	o.SetVisible(d.Visible)
}

// SetMap binds m and re-initializes every registered overlay against it.
func (r *Registry) SetMap(m platform.Map) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m = m
	if m == nil {
		return
	}
	for _, d := range r.sortedLocked() {
		d.Overlay.Initialize(m)
		d.Overlay.SetVisible(d.Visible)
	}
}

// Map returns the bound map, or nil.
func (r *Registry) Map() platform.Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}

// UpdateOverlay forwards opts to the overlay at id. Unknown ids and variant
// failures, panics included, are logged and swallowed.
func (r *Registry) UpdateOverlay(id string, opts any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.overlays[id]
	if !ok {
		metrics.OverlayUpdateFailures.WithLabelValues("missing").Inc()
		r.log.Warn().Str("id", id).Msg("update for unregistered overlay")
		return
	}
	if err := r.safeUpdate(d, opts); err != nil {
		metrics.OverlayUpdateFailures.WithLabelValues(string(d.Type)).Inc()
		r.log.Warn().Err(err).Str("id", id).Str("type", string(d.Type)).Msg("overlay update failed")
	}
}

func (r *Registry) safeUpdate(d *Descriptor, opts any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("overlay %s panicked: %v", d.ID, p)
		}
	}()
	return d.Overlay.Update(opts)
}

// SetTypeVisible shows or hides every overlay of type t. The choice is
// remembered for overlays of t registered later.
func (r *Registry) SetTypeVisible(t Type, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hidden[t] = !visible
	for _, d := range r.sortedLocked() {
		if d.Type == t {
			d.Visible = visible
			d.Overlay.SetVisible(visible)
		}
	}
}

// SetOverlayVisible shows or hides one overlay. It reports whether id exists.
func (r *Registry) SetOverlayVisible(id string, visible bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.overlays[id]
	if !ok {
		r.log.Warn().Str("id", id).Msg("visibility change for unregistered overlay")
		return false
	}
	d.Visible = visible
	d.Overlay.SetVisible(visible)
	return true
}

// RemoveOverlay disposes and forgets the overlay at id.
func (r *Registry) RemoveOverlay(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.overlays[id]; ok {
		r.disposeLocked(d)
		delete(r.overlays, id)
	}
}

// DisposeAll disposes every overlay and unbinds the map. Calling it again
// is a no-op.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.sortedLocked() {
		r.disposeLocked(d)
	}
	r.overlays = make(map[string]*Descriptor)
	r.m = nil
}

// Descriptors returns a snapshot of the registered overlays sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds := r.sortedLocked()
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = *d
	}
	return out
}

// Get returns the overlay registered at id.
func (r *Registry) Get(id string) (Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.overlays[id]
	if !ok {
		return nil, false
	}
	return d.Overlay, true
}

// Len returns the number of registered overlays.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.overlays)
}

func sameOverlay(a, b Overlay) bool {
	ta := reflect.TypeOf(a)
	return ta != nil && ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

func (r *Registry) disposeLocked(d *Descriptor) {
	d.Overlay.Dispose()
	metrics.OverlaysRegistered.WithLabelValues(string(d.Type)).Dec()
}

func (r *Registry) sortedLocked() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.overlays))
	for _, d := range r.overlays {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
