// Package camera drives animated transitions of the single shared map
// camera. Only the most recent transition moves the camera: starting a new
// one preempts whatever is in flight.
package camera

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/platform"
)

// Kind is the shape of a transition.
type Kind string

const (
	KindPoint    Kind = "point"
	KindRouteFit Kind = "route-fit"
	KindOrbit    Kind = "orbit"
	KindReset    Kind = "reset"
)

// Request is one camera transition. It lives only while the transition runs.
type Request struct {
	Kind   Kind
	Target orb.Point
	// End is the second endpoint of a route fit.
	End orb.Point
	// Nil pose fields keep the camera's current value.
	Zoom    *float64
	Tilt    *float64
	Heading *float64
	// Padding in pixels around a fitted route.
	Padding     float64
	Duration    time.Duration
	Revolutions float64
	// OnComplete runs after the final frame. It does not run when the
	// transition is preempted.
	OnComplete func()
}

// Params are the optional arguments shared by the capability methods.
type Params struct {
	Zoom       *float64
	Tilt       *float64
	Heading    *float64
	Duration   time.Duration
	OnComplete func()
}

// Float returns a pointer to v, for the optional pose fields.
func Float(v float64) *float64 { return &v }

// The camera-control capability is split into narrow interfaces so callers
// can probe for exactly the method they need.
type (
	PointAnimator interface {
		AnimateCameraTo(target orb.Point, p Params)
	}
	StationAnimator interface {
		AnimateToStation(target orb.Point, p Params)
	}
	RouteAnimator interface {
		AnimateToRoute(start, end orb.Point, p Params)
	}
	Resetter interface {
		ResetCamera(p Params)
	}
	Orbiter interface {
		CircleAroundPoint(center orb.Point, revolutions float64, p Params)
	}
)

// Sink is the camera a transition writes to. platform.Map satisfies it.
// SetCamera must not start transitions.
type Sink interface {
	Camera() platform.Camera
	SetCamera(platform.Camera)
}
