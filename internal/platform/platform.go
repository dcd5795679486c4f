// Package platform defines the map surface the camera and overlay core is
// bound to, and a headless in-process implementation of it.
package platform

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Camera is the full camera pose of a map surface.
type Camera struct {
	Center  orb.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Tilt    float64   `json:"tilt"`
	Heading float64   `json:"heading"`
}

// Event names a camera change notification.
type Event string

const (
	EventCenterChanged  Event = "center_changed"
	EventZoomChanged    Event = "zoom_changed"
	EventTiltChanged    Event = "tilt_changed"
	EventHeadingChanged Event = "heading_changed"
	// EventIdle fires once the camera has stopped moving.
	EventIdle Event = "idle"
)

// Layer is a 2D feature layer drawn by the map itself.
type Layer struct {
	ID       string
	Kind     string
	Features *geojson.FeatureCollection
	Style    Style
	Visible  bool
	// OnClick receives the id of the clicked feature.
	OnClick func(featureID any)
}

// Style is the paint applied to a Layer.
type Style struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
	Dashed      bool    `json:"dashed,omitempty"`
}

// Map is the single shared map surface.
type Map interface {
	Camera() Camera
	SetCamera(Camera)
	// On registers fn for ev and returns a function removing it.
	On(ev Event, fn func()) (off func())
	SetLayer(Layer)
	RemoveLayer(id string)
	AttachWebGL(WebGLOverlay) WebGLHandle
}

// GLContext is an opaque rendering context handed to WebGL overlays.
type GLContext interface {
	// Generation increases every time the context is re-created.
	Generation() uint64
}

// CoordinateTransformer converts geographic positions into the map's clip
// space for the frame being drawn. It is only valid during OnDraw.
type CoordinateTransformer interface {
	FromLatLngAltitude(p orb.Point, altitude float64) Mat4
}

// WebGLOverlay receives rendering lifecycle callbacks from the map.
type WebGLOverlay interface {
	OnAdd()
	OnContextRestored(gl GLContext)
	OnContextLost()
	OnDraw(gl GLContext, t CoordinateTransformer)
	OnRemove()
}

// WebGLHandle controls an attached WebGLOverlay.
type WebGLHandle interface {
	RequestRedraw()
	Detach()
}
