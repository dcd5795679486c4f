package overlay

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	fgeo "github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/station"
)

// layerBase publishes one GeoJSON layer to the map and carries the shared
// Initialize, SetVisible and Dispose behaviour of the 2D variants.
type layerBase struct {
	id   string
	kind Type

	mu       sync.Mutex
	m        platform.Map
	visible  bool
	disposed bool
	features *geojson.FeatureCollection
	style    platform.Style
	onClick  func(featureID any)
}

func (l *layerBase) init(id string, kind Type, style platform.Style) {
	l.id, l.kind, l.style = id, kind, style
	l.visible = true
	l.features = geojson.NewFeatureCollection()
}

func (l *layerBase) Type() Type { return l.kind }

func (l *layerBase) Initialize(m platform.Map) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return
	}
	if l.m != nil && l.m != m {
		l.m.RemoveLayer(l.id)
	}
	l.m = m
	l.publishLocked()
}

func (l *layerBase) SetVisible(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = visible
	l.publishLocked()
}

func (l *layerBase) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return
	}
	if l.m != nil {
		l.m.RemoveLayer(l.id)
	}
	l.m = nil
	l.disposed = true
	l.features = geojson.NewFeatureCollection()
}

// Features returns the layer's current feature collection.
func (l *layerBase) Features() *geojson.FeatureCollection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.features
}

// Visible reports the layer's own visibility flag.
func (l *layerBase) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

func (l *layerBase) replace(fc *geojson.FeatureCollection, style platform.Style) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return
	}
	l.features = fc
	l.style = style
	l.publishLocked()
}

func (l *layerBase) publishLocked() {
	if l.m == nil || l.disposed {
		return
	}
	l.m.SetLayer(platform.Layer{
		ID:       l.id,
		Kind:     string(l.kind),
		Features: l.features,
		Style:    l.style,
		Visible:  l.visible,
		OnClick:  l.onClick,
	})
}

// Station marker roles.
const (
	RoleNone      = "none"
	RoleDeparture = "departure"
	RoleArrival   = "arrival"
)

// MarkerOptions describes the station markers to draw.
type MarkerOptions struct {
	Stations    []station.Station
	DepartureID *int
	ArrivalID   *int
}

// MarkerLayer draws one point per station, tagging the selected departure
// and arrival.
type MarkerLayer struct {
	layerBase

	clickMu sync.Mutex
	handler func(stationID int)
}

// NewMarkerLayer creates a station marker layer. onClick may be nil.
func NewMarkerLayer(id string, onClick func(stationID int)) *MarkerLayer {
	ml := &MarkerLayer{handler: onClick}
	ml.init(id, TypeMarker, platform.Style{Fill: "#1e88e5", Stroke: "#ffffff", StrokeWidth: 2, Opacity: 1})
	ml.layerBase.onClick = ml.click
	return ml
}

// OnStationClick replaces the click handler.
func (ml *MarkerLayer) OnStationClick(fn func(stationID int)) {
	ml.clickMu.Lock()
	defer ml.clickMu.Unlock()
	ml.handler = fn
}

func (ml *MarkerLayer) click(featureID any) {
	ml.clickMu.Lock()
	fn := ml.handler
	ml.clickMu.Unlock()
	if fn == nil {
		return
	}
	switch v := featureID.(type) {
	case int:
		fn(v)
	case float64:
		fn(int(v))
	}
}

func (ml *MarkerLayer) Update(opts any) error {
	var o MarkerOptions
	switch v := opts.(type) {
	case MarkerOptions:
		o = v
	case *MarkerOptions:
		o = *v
	default:
		return fmt.Errorf("marker layer %s: %w: %T", ml.id, ErrUnsupportedOptions, opts)
	}

	fc := geojson.NewFeatureCollection()
	for _, st := range o.Stations {
		if !fgeo.Valid(st.Coordinates) {
			continue
		}
		f := geojson.NewFeature(st.Coordinates)
		f.ID = st.ID
		f.Properties["name"] = st.Name
		f.Properties["role"] = role(st.ID, o.DepartureID, o.ArrivalID)
		fc.Append(f)
	}
	ml.replace(fc, ml.style)
	return nil
}

func role(id int, dep, arr *int) string {
	switch {
	case dep != nil && *dep == id:
		return RoleDeparture
	case arr != nil && *arr == id:
		return RoleArrival
	default:
		return RoleNone
	}
}

// CircleOptions draws a radius around a point.
type CircleOptions struct {
	Center       orb.Point
	RadiusMeters float64
	// Segments is the polygon resolution; 64 when zero.
	Segments int
	Fill     string
	Stroke   string
}

// CircleLayer shows a geodesic circle, for example a search radius.
type CircleLayer struct {
	layerBase
}

func NewCircleLayer(id string) *CircleLayer {
	c := &CircleLayer{}
	c.init(id, TypeCircle, platform.Style{Fill: "#42a5f5", Stroke: "#1e88e5", StrokeWidth: 1, Opacity: 0.2})
	return c
}

func (c *CircleLayer) Update(opts any) error {
	o, ok := opts.(CircleOptions)
	if !ok {
		return fmt.Errorf("circle layer %s: %w: %T", c.id, ErrUnsupportedOptions, opts)
	}
	if !fgeo.Valid(o.Center) {
		return fmt.Errorf("circle layer %s: invalid center %v", c.id, o.Center)
	}
	if o.RadiusMeters <= 0 {
		return fmt.Errorf("circle layer %s: radius must be positive, got %v", c.id, o.RadiusMeters)
	}
	n := o.Segments
	if n <= 0 {
		n = 64
	}

	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		ring = append(ring, geo.PointAtBearingAndDistance(o.Center, 360*float64(i)/float64(n), o.RadiusMeters))
	}
	ring = append(ring, ring[0])

	f := geojson.NewFeature(orb.Polygon{ring})
	f.Properties["radius"] = o.RadiusMeters
	fc := geojson.NewFeatureCollection().Append(f)

	style := c.style
	if o.Fill != "" {
		style.Fill = o.Fill
	}
	if o.Stroke != "" {
		style.Stroke = o.Stroke
	}
	c.replace(fc, style)
	return nil
}

// PolylineOptions describes a path.
type PolylineOptions struct {
	Path  []orb.Point
	Color string
	Width float64
	// Tolerance, in degrees, drops vertices closer than this to the line
	// through their neighbours. Zero draws every point.
	Tolerance float64
}

// PolylineLayer draws a walking leg (dashed) or a vehicle route (solid).
type PolylineLayer struct {
	layerBase
}

// NewWalkingRoute creates a dashed polyline layer of type walking.
func NewWalkingRoute(id string) *PolylineLayer {
	p := &PolylineLayer{}
	p.init(id, TypeWalking, platform.Style{Stroke: "#607d8b", StrokeWidth: 3, Opacity: 0.9, Dashed: true})
	return p
}

// NewRouteLayer creates a solid polyline layer of type route.
func NewRouteLayer(id string) *PolylineLayer {
	p := &PolylineLayer{}
	p.init(id, TypeRoute, platform.Style{Stroke: "#43a047", StrokeWidth: 6, Opacity: 1})
	return p
}

// Update draws the valid points of the path. Fewer than two clears the layer.
func (p *PolylineLayer) Update(opts any) error {
	o, ok := opts.(PolylineOptions)
	if !ok {
		return fmt.Errorf("%s layer %s: %w: %T", p.kind, p.id, ErrUnsupportedOptions, opts)
	}
	ls := make(orb.LineString, 0, len(o.Path))
	for _, pt := range o.Path {
		if fgeo.Valid(pt) {
			ls = append(ls, pt)
		}
	}

	fc := geojson.NewFeatureCollection()
	if len(ls) >= 2 {
		length := geo.Length(ls)
		if o.Tolerance > 0 && len(ls) > 2 {
			ls = simplify.DouglasPeucker(o.Tolerance).Simplify(ls).(orb.LineString)
		}
		f := geojson.NewFeature(ls)
		f.Properties["lengthMeters"] = length
		fc.Append(f)
	}

	style := p.style
	if o.Color != "" {
		style.Stroke = o.Color
	}
	if o.Width > 0 {
		style.StrokeWidth = o.Width
	}
	p.replace(fc, style)
	return nil
}
