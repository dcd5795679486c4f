package service

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/camera"
	fgeo "github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/orchestrator"
	"github.com/joeblew999/plat-fleetmap/internal/station"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

// CameraServiceConfig lists the collaborators of a CameraService.
type CameraServiceConfig struct {
	Orchestrator *orchestrator.Orchestrator
	Telemetry    *telemetry.Synchronizer
	// Animator reports transition progress; optional.
	Animator *camera.Animator
	Stations *station.Store
	Overlays *OverlayService
	Bus      *EventBus
}

// CameraService maps booking actions onto camera triggers and keeps the
// selection the overlays draw.
type CameraService struct {
	cfg CameraServiceConfig

	mu    sync.Mutex
	sel   Selection
	route []orb.Point
}

func NewCameraService(cfg CameraServiceConfig) *CameraService {
	return &CameraService{cfg: cfg, sel: Selection{Step: StepSelectDeparture}}
}

// State returns the mirrored camera state.
func (s *CameraService) State() CameraView {
	v := cameraView(s.cfg.Telemetry.CameraState())
	if s.cfg.Animator != nil {
		v.Animating = s.cfg.Animator.Active()
		v.Generation = s.cfg.Animator.Generation()
	}
	return v
}

// Selection returns a copy of the current selection.
func (s *CameraService) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.clone()
}

func (s *CameraService) exists(id int) error {
	if _, ok := s.cfg.Stations.Lookup(id); !ok {
		return fmt.Errorf("station %d: %w", id, ErrStationNotFound)
	}
	return nil
}

// update applies fn to the selection under the lock, then resyncs overlays
// and notifies live clients.
func (s *CameraService) update(action string, fn func(sel *Selection)) {
	s.mu.Lock()
	fn(&s.sel)
	sel, route := s.sel.clone(), append([]orb.Point(nil), s.route...)
	s.mu.Unlock()

	if s.cfg.Overlays != nil {
		s.cfg.Overlays.Sync(sel, route)
	}
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(Event{Resource: "camera", Action: action})
	}
}

// SelectDeparture selects a departure station and flies to it. It reports
// whether a transition was issued.
func (s *CameraService) SelectDeparture(id int) (bool, error) {
	if err := s.exists(id); err != nil {
		return false, err
	}
	s.update("departure", func(sel *Selection) {
		sel.DepartureID = &id
		s.route = nil
	})
	return s.cfg.Orchestrator.OnDepartureStationSelected(id), nil
}

// SelectArrival selects an arrival station and flies to it.
func (s *CameraService) SelectArrival(id int) (bool, error) {
	if err := s.exists(id); err != nil {
		return false, err
	}
	s.update("arrival", func(sel *Selection) {
		sel.ArrivalID = &id
		s.route = nil
	})
	return s.cfg.Orchestrator.OnArrivalStationSelected(id), nil
}

// ClearArrival drops the arrival and returns to the departure view.
func (s *CameraService) ClearArrival() bool {
	var dep *int
	s.update("arrival_cleared", func(sel *Selection) {
		sel.ArrivalID = nil
		s.route = nil
		if sel.DepartureID != nil {
			d := *sel.DepartureID
			dep = &d
		}
	})
	return s.cfg.Orchestrator.OnArrivalStationCleared(dep)
}

// ShowRoute records a computed route between two stations and frames it.
// An empty path draws the straight leg between the stations.
func (s *CameraService) ShowRoute(departureID, arrivalID int, path []Location) (bool, error) {
	snap := s.cfg.Stations.Snapshot()
	dep, ok := snap.Lookup(departureID)
	if !ok {
		return false, fmt.Errorf("departure %d: %w", departureID, ErrStationNotFound)
	}
	arr, ok := snap.Lookup(arrivalID)
	if !ok {
		return false, fmt.Errorf("arrival %d: %w", arrivalID, ErrStationNotFound)
	}

	route := []orb.Point{dep.Coordinates, arr.Coordinates}
	if len(path) >= 2 {
		route = make([]orb.Point, 0, len(path))
		for _, l := range path {
			route = append(route, l.Point())
		}
	}
	s.update("route", func(sel *Selection) {
		sel.DepartureID, sel.ArrivalID = &departureID, &arrivalID
		s.route = route
	})
	return s.cfg.Orchestrator.OnRouteComputed(departureID, arrivalID), nil
}

// Locate flies to a location. A search result only moves the camera; a
// position fix also becomes the user's location. An out-of-range location
// changes nothing.
func (s *CameraService) Locate(loc Location, search bool) bool {
	if !fgeo.Valid(loc.Point()) {
		logging.Warn().Float64("lng", loc.Lng).Float64("lat", loc.Lat).Msg("ignoring invalid location")
		return false
	}
	if search {
		return s.cfg.Orchestrator.OnLocationSearch(loc.Point())
	}
	s.update("located", func(sel *Selection) { sel.User = &loc })
	return s.cfg.Orchestrator.OnLocateMePressed(loc.Point())
}

// Highlight orbits a location.
func (s *CameraService) Highlight(loc Location) bool {
	return s.cfg.Orchestrator.HighlightLocation(loc.Point())
}

// Reset returns the camera to its home view.
func (s *CameraService) Reset() bool {
	return s.cfg.Orchestrator.ResetCamera(orchestrator.Options{})
}

// SetStep moves the booking flow to step and applies its overlay plan.
func (s *CameraService) SetStep(step BookingStep) {
	s.mu.Lock()
	s.sel.Step = step
	s.mu.Unlock()
	if s.cfg.Overlays != nil {
		s.cfg.Overlays.ApplyStep(step)
	}
}

// StationClicked handles a marker click: it selects the arrival while the
// flow is choosing one, and the departure otherwise.
func (s *CameraService) StationClicked(id int) {
	var err error
	if s.Selection().Step == StepSelectArrival {
		_, err = s.SelectArrival(id)
	} else {
		_, err = s.SelectDeparture(id)
	}
	if err != nil {
		logging.Warn().Err(err).Int("station", id).Msg("station click ignored")
	}
}
