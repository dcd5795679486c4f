package service

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/overlay"
	"github.com/joeblew999/plat-fleetmap/internal/scene"
	"github.com/joeblew999/plat-fleetmap/internal/station"
)

// Overlay ids installed by OverlayService.
const (
	OverlayStations = "stations"
	OverlayScene    = "scene3d"
	OverlayUser     = "user-location"
	OverlayWalking  = "walking"
	OverlayRoute    = "route"
)

// UserRadiusMeters is the accuracy circle drawn around a position fix.
const UserRadiusMeters = 80.0

// RouteTolerance thins computed route geometry to roughly one meter.
const RouteTolerance = 1e-5

// OverlayService keeps the standard overlays in step with the booking
// selection.
type OverlayService struct {
	reg      *overlay.Registry
	stations *station.Store
	bus      *EventBus
}

func NewOverlayService(reg *overlay.Registry, stations *station.Store, bus *EventBus) *OverlayService {
	return &OverlayService{reg: reg, stations: stations, bus: bus}
}

// Registry exposes the underlying registry.
func (s *OverlayService) Registry() *overlay.Registry { return s.reg }

// Install registers the standard overlays. sc may be nil when no 3D layer is
// wanted. onStationClick receives marker clicks.
func (s *OverlayService) Install(sc *scene.Overlay, onStationClick func(stationID int)) {
	s.reg.Register(OverlayStations, overlay.NewMarkerLayer(OverlayStations, onStationClick))
	if sc != nil {
		s.reg.Register(OverlayScene, sc)
	}
	s.reg.Register(OverlayUser, overlay.NewCircleLayer(OverlayUser))
	s.reg.Register(OverlayWalking, overlay.NewWalkingRoute(OverlayWalking))
	s.reg.Register(OverlayRoute, overlay.NewRouteLayer(OverlayRoute))
}

// Sync pushes the selection, the current station snapshot and route into
// every standard overlay.
func (s *OverlayService) Sync(sel Selection, route []orb.Point) {
	snap := s.stations.Snapshot()
	all := snap.All()

	s.reg.UpdateOverlay(OverlayStations, overlay.MarkerOptions{
		Stations:    all,
		DepartureID: sel.DepartureID,
		ArrivalID:   sel.ArrivalID,
	})
	if _, ok := s.reg.Get(OverlayScene); ok {
		s.reg.UpdateOverlay(OverlayScene, scene.Options{
			Stations:    all,
			Route:       route,
			DepartureID: sel.DepartureID,
			ArrivalID:   sel.ArrivalID,
		})
	}

	var walk []orb.Point
	if sel.User != nil {
		s.reg.UpdateOverlay(OverlayUser, overlay.CircleOptions{Center: sel.User.Point(), RadiusMeters: UserRadiusMeters})
		if sel.DepartureID != nil {
			if dep, ok := snap.Lookup(*sel.DepartureID); ok {
				walk = []orb.Point{sel.User.Point(), dep.Coordinates}
			}
		}
	}
	s.reg.UpdateOverlay(OverlayWalking, overlay.PolylineOptions{Path: walk})
	s.reg.UpdateOverlay(OverlayRoute, overlay.PolylineOptions{Path: route, Tolerance: RouteTolerance})
}

// List returns every registered overlay.
func (s *OverlayService) List() []OverlayView {
	ds := s.reg.Descriptors()
	out := make([]OverlayView, 0, len(ds))
	for _, d := range ds {
		out = append(out, OverlayView{ID: d.ID, Type: string(d.Type), Visible: d.Visible})
	}
	return out
}

// SetVisible shows or hides one overlay.
func (s *OverlayService) SetVisible(id string, visible bool) error {
	if !s.reg.SetOverlayVisible(id, visible) {
		return fmt.Errorf("overlay %q: %w", id, ErrOverlayNotFound)
	}
	s.bus.Publish(Event{Resource: "overlays", Action: "visibility", ID: id})
	return nil
}

// SetTypeVisible shows or hides every overlay of a type.
func (s *OverlayService) SetTypeVisible(typ string, visible bool) error {
	t, err := overlay.ParseType(typ)
	if err != nil {
		return errors.Join(ErrOverlayNotFound, err)
	}
	s.reg.SetTypeVisible(t, visible)
	s.bus.Publish(Event{Resource: "overlays", Action: "visibility", ID: typ})
	return nil
}

// ApplyStep sets type visibility from the booking step's plan.
func (s *OverlayService) ApplyStep(step BookingStep) {
	for t, visible := range step.Visibility() {
		s.reg.SetTypeVisible(t, visible)
	}
	s.bus.Publish(Event{Resource: "booking", Action: "step", ID: string(step)})
}
