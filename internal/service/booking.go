package service

import (
	"fmt"

	"github.com/joeblew999/plat-fleetmap/internal/overlay"
)

// BookingStep is the stage of the booking flow. It drives which overlay
// types are shown, independent of camera motion.
type BookingStep string

const (
	StepSelectDeparture BookingStep = "select_departure"
	StepSelectArrival   BookingStep = "select_arrival"
	StepRoute           BookingStep = "route"
	StepRiding          BookingStep = "riding"
)

// visibilityPlan lists the overlay types shown at each step. Types not
// listed are hidden.
var visibilityPlan = map[BookingStep][]overlay.Type{
	StepSelectDeparture: {overlay.TypeMarker, overlay.TypeThree, overlay.TypeCircle},
	StepSelectArrival:   {overlay.TypeMarker, overlay.TypeThree, overlay.TypeCircle, overlay.TypeWalking},
	StepRoute:           {overlay.TypeMarker, overlay.TypeThree, overlay.TypeWalking, overlay.TypeRoute},
	StepRiding:          {overlay.TypeThree, overlay.TypeRoute},
}

// ParseStep returns the BookingStep named s.
func ParseStep(s string) (BookingStep, error) {
	step := BookingStep(s)
	if _, ok := visibilityPlan[step]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
	}
	return step, nil
}

// Visibility returns the shown state of every overlay type at step.
func (step BookingStep) Visibility() map[overlay.Type]bool {
	out := make(map[overlay.Type]bool, len(overlay.Types))
	for _, t := range overlay.Types {
		out[t] = false
	}
	for _, t := range visibilityPlan[step] {
		out[t] = true
	}
	return out
}
