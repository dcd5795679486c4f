// Package scene holds a small scene graph of meshes placed in local
// Cartesian meters around a geographic anchor, and the WebGL overlay that
// keeps it registered with the map projection.
package scene

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
)

// MetersPerDegree is the equirectangular approximation used for local
// offsets.
const MetersPerDegree = 111000.0

// Vec3 is a position in local meters: x east, y up, z south.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LocalOffset returns p's position relative to anchor. North maps to -z.
func LocalOffset(anchor, p orb.Point) Vec3 {
	latRad := anchor.Lat() * math.Pi / 180
	return Vec3{
		X: (p.Lon() - anchor.Lon()) * MetersPerDegree * math.Cos(latRad),
		Z: -(p.Lat() - anchor.Lat()) * MetersPerDegree,
	}
}

// GeometryKind names a primitive.
type GeometryKind string

const (
	GeometryBox      GeometryKind = "box"
	GeometryCylinder GeometryKind = "cylinder"
	GeometryTube     GeometryKind = "tube"
)

// Geometry is a mesh's shape in meters.
type Geometry struct {
	Kind   GeometryKind
	Width  float64
	Height float64
	Depth  float64
	Radius float64
	// Path is the centerline of a tube.
	Path     []Vec3
	disposed bool
}

// Material is a mesh's surface.
type Material struct {
	Color    string
	Opacity  float64
	disposed bool
}

// Mesh is a drawable object.
type Mesh struct {
	Name     string
	Tag      string
	Position Vec3
	Geometry *Geometry
	Material *Material
	Meta     map[string]any
}

// Dispose releases the mesh's geometry and material.
func (m *Mesh) Dispose() {
	if m.Geometry != nil {
		m.Geometry.disposed = true
	}
	if m.Material != nil {
		m.Material.disposed = true
	}
}

// Disposed reports whether Dispose has run.
func (m *Mesh) Disposed() bool {
	return (m.Geometry == nil || m.Geometry.disposed) && (m.Material == nil || m.Material.disposed)
}

// Light is a scene light. Lights are not tagged and survive object updates.
type Light struct {
	Kind      string
	Color     string
	Intensity float64
	Position  Vec3
}

// Scene is a list of lights and meshes.
type Scene struct {
	mu       sync.Mutex
	lights   []Light
	children []*Mesh
}

// NewScene returns a scene lit by an ambient and a directional light.
func NewScene() *Scene {
	return &Scene{lights: []Light{
		{Kind: "ambient", Color: "#ffffff", Intensity: 0.75},
		{Kind: "directional", Color: "#ffffff", Intensity: 0.25, Position: Vec3{X: 0.5, Y: -1, Z: 0.5}},
	}}
}

func (s *Scene) Add(m *Mesh) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, m)
}

// RemoveTagged detaches every mesh tagged tag and returns them.
func (s *Scene) RemoveTagged(tag string) []*Mesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*Mesh
	kept := s.children[:0]
	for _, m := range s.children {
		if m.Tag == tag {
			removed = append(removed, m)
		} else {
			kept = append(kept, m)
		}
	}
	s.children = kept
	return removed
}

// Children returns a copy of the mesh list.
func (s *Scene) Children() []*Mesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Mesh(nil), s.children...)
}

// Lights returns a copy of the light list.
func (s *Scene) Lights() []Light {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Light(nil), s.lights...)
}
