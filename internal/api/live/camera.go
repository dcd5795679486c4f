package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	fgeo "github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/service"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

// Handler streams camera telemetry and booking changes, and accepts
// selections posted as Datastar signals.
type Handler struct {
	camera    *service.CameraService
	telemetry *telemetry.Synchronizer
	bus       *service.EventBus
}

// NewHandler creates a live handler.
func NewHandler(camera *service.CameraService, sync *telemetry.Synchronizer, bus *service.EventBus) *Handler {
	return &Handler{camera: camera, telemetry: sync, bus: bus}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/live/camera", h.Camera,
		huma.OperationTags("live"),
	)
	huma.Post(api, "/api/v1/live/select", h.Select,
		huma.OperationTags("live"),
	)
}

// Camera keeps one SSE stream open per client. Every telemetry broadcast
// patches the camera signals; every bus event patches the booking signals
// and fires a resource-changed event.
func (h *Handler) Camera(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)
			done := humaCtx.Context().Done()

			states := make(chan telemetry.CameraState, 1)
			unsubscribe := h.telemetry.Subscribe(func(st telemetry.CameraState) { offerLatest(states, st) })
			defer unsubscribe()

			var events chan service.Event
			if h.bus != nil {
				events = h.bus.Subscribe()
				defer h.bus.Unsubscribe(events)
			}

			if err := sse.SendSignals(h.signals()); err != nil {
				return
			}
			for {
				select {
				case <-done:
					return
				case <-states:
					if err := sse.SendSignals(cameraSignals(h.camera.State())); err != nil {
						logging.Debug().Err(err).Msg("live camera stream closed")
						return
					}
				case ev, ok := <-events:
					if !ok {
						return
					}
					if err := sse.SendSignals(h.signals()); err != nil {
						return
					}
					sse.Dispatch("resource-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
					})
				}
			}
		},
	}, nil
}

// Select applies one booking action from the posted signals and answers with
// the resulting state. Recognised actions are departure, arrival,
// clear_arrival, locate, search, highlight, reset and step.
func (h *Handler) Select(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)
			if err := h.apply(signals); err != nil {
				sse.SendError(err.Error())
				return
			}
			sse.SendSignals(h.signals())
		},
	}, nil
}

var errMissingSignal = errors.New("missing signal")

func (h *Handler) apply(s Signals) error {
	station, hasStation := s.Int("station")
	loc, hasLoc := location(s)

	switch action := s.String("action"); action {
	case "departure", "arrival":
		if !hasStation {
			return fmt.Errorf("%s: station: %w", action, errMissingSignal)
		}
		var err error
		if action == "departure" {
			_, err = h.camera.SelectDeparture(station)
		} else {
			_, err = h.camera.SelectArrival(station)
		}
		return err
	case "clear_arrival":
		h.camera.ClearArrival()
	case "locate", "search", "highlight":
		if !hasLoc {
			return fmt.Errorf("%s: lng/lat: %w", action, errMissingSignal)
		}
		if !fgeo.Valid(loc.Point()) {
			return fmt.Errorf("%s: %w", action, service.ErrInvalidLocation)
		}
		if action == "highlight" {
			h.camera.Highlight(loc)
		} else {
			h.camera.Locate(loc, action == "search")
		}
	case "reset":
		h.camera.Reset()
	case "step":
		step, err := service.ParseStep(s.String("step"))
		if err != nil {
			return err
		}
		h.camera.SetStep(step)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func location(s Signals) (service.Location, bool) {
	lng, okLng := s.Float("lng")
	lat, okLat := s.Float("lat")
	return service.Location{Lng: lng, Lat: lat}, okLng && okLat
}

func (h *Handler) signals() map[string]any {
	out := cameraSignals(h.camera.State())
	for k, v := range bookingSignals(h.camera.Selection()) {
		out[k] = v
	}
	return out
}

func cameraSignals(v service.CameraView) map[string]any {
	return map[string]any{"camera": map[string]any{
		"center":     v.Center,
		"zoom":       v.Zoom,
		"tilt":       v.Tilt,
		"heading":    v.Heading,
		"animating":  v.Animating,
		"generation": v.Generation,
	}}
}

// bookingSignals uses null for an unset station so the client drops it.
func bookingSignals(sel service.Selection) map[string]any {
	b := map[string]any{"step": string(sel.Step), "departure": nil, "arrival": nil}
	if sel.DepartureID != nil {
		b["departure"] = *sel.DepartureID
	}
	if sel.ArrivalID != nil {
		b["arrival"] = *sel.ArrivalID
	}
	return map[string]any{"booking": b}
}

// offerLatest replaces any unread state so a slow client only ever sees the
// newest one.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
