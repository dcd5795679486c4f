package orchestrator

import "github.com/paulmach/orb"

// The canonical camera triggers. Each applies the fixed policy for its view.

// OnDepartureStationSelected shows the chosen departure station.
func (o *Orchestrator) OnDepartureStationSelected(id int) bool {
	return o.AnimateToSelectedStation(id, Options{})
}

// OnArrivalStationSelected shows the chosen arrival station.
func (o *Orchestrator) OnArrivalStationSelected(id int) bool {
	return o.AnimateToSelectedStation(id, Options{})
}

// OnArrivalStationCleared goes back to the departure station, or resets the
// camera when no departure is selected.
func (o *Orchestrator) OnArrivalStationCleared(departureID *int) bool {
	if departureID == nil {
		return o.ResetCamera(Options{})
	}
	return o.AnimateToSelectedStation(*departureID, Options{})
}

// OnRouteComputed frames both ends of the computed route.
func (o *Orchestrator) OnRouteComputed(departureID, arrivalID int) bool {
	return o.AnimateToShowRoute(departureID, arrivalID, Options{})
}

// OnLocationSearch shows a search result.
func (o *Orchestrator) OnLocationSearch(loc orb.Point) bool {
	return o.AnimateToLocation(loc, Options{})
}

// OnLocateMePressed shows the user's position fix.
func (o *Orchestrator) OnLocateMePressed(loc orb.Point) bool {
	return o.AnimateToLocation(loc, Options{})
}

// HighlightLocation orbits loc.
func (o *Orchestrator) HighlightLocation(loc orb.Point) bool {
	return o.CircleAroundPoint(loc, Options{})
}
