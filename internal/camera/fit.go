package camera

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	tileSize = 256
	// Web Mercator meters across the world at the equator.
	worldMeters = 2 * math.Pi * 6378137

	DefaultMaxZoom = 20.0
)

// FitRoute returns the center and zoom that show both a and b inside a
// width x height pixel viewport, leaving padding pixels on every side.
// Coincident points fit at maxZoom.
func FitRoute(a, b orb.Point, width, height int, padding, maxZoom float64) (orb.Point, float64) {
	bound := orb.MultiPoint{project.WGS84.ToMercator(a), project.WGS84.ToMercator(b)}.Bound()
	center := project.Mercator.ToWGS84(bound.Center())

	w := math.Max(float64(width)-2*padding, 1)
	h := math.Max(float64(height)-2*padding, 1)

	zoom := maxZoom
	if dx := bound.Right() - bound.Left(); dx > 0 {
		zoom = math.Min(zoom, math.Log2(w*worldMeters/(tileSize*dx)))
	}
	if dy := bound.Top() - bound.Bottom(); dy > 0 {
		zoom = math.Min(zoom, math.Log2(h*worldMeters/(tileSize*dy)))
	}
	return center, math.Max(zoom, 0)
}
