// Package geo has small coordinate helpers shared by the overlay and camera
// packages.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Valid reports whether p is a finite [lng, lat] inside WGS84 bounds.
func Valid(p orb.Point) bool {
	lng, lat := p.Lon(), p.Lat()
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

// Centroid returns the centroid of the valid points in ps and false when
// there are none.
func Centroid(ps []orb.Point) (orb.Point, bool) {
	mp := make(orb.MultiPoint, 0, len(ps))
	for _, p := range ps {
		if Valid(p) {
			mp = append(mp, p)
		}
	}
	if len(mp) == 0 {
		return orb.Point{}, false
	}
	c, _ := planar.CentroidArea(mp)
	return c, true
}

// NormalizeHeading maps degrees into [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
