// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-fleetmap/internal/scene"
	"github.com/joeblew999/plat-fleetmap/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Stations *service.StationService
	Camera   *service.CameraService
	Overlays *service.OverlayService
	// Frames records what the 3D overlay drew; optional.
	Frames *scene.FrameLog
}

// Types

type StationIDInput struct {
	ID int `path:"id" doc:"Station ID" example:"5"`
}

type OverlayIDInput struct {
	ID string `path:"id" doc:"Overlay ID" example:"stations"`
}

type VisibilityBody struct {
	Visible bool `json:"visible" doc:"Show or hide"`
}

// IssuedBody reports whether a camera transition was started. A request can
// be accepted without one when the map's camera controls are not ready.
type IssuedBody struct {
	Issued bool               `json:"issued" doc:"Whether a camera transition was started"`
	Camera service.CameraView `json:"camera" doc:"Camera state at the time of the request"`
}

type RouteRequest struct {
	DepartureID int                `json:"departureId" doc:"Departure station ID" example:"5"`
	ArrivalID   int                `json:"arrivalId" doc:"Arrival station ID" example:"7"`
	Path        []service.Location `json:"path,omitempty" doc:"Computed route geometry; straight leg when omitted"`
}

type LocationRequest struct {
	service.Location
	Search bool `json:"search,omitempty" doc:"Search result rather than the user's own position fix"`
}

type StepBody struct {
	Step string `json:"step" enum:"select_departure,select_arrival,route,riding" doc:"Booking step"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterCamera registers camera state and trigger routes.
func (h *APIHandler) RegisterCamera(api huma.API) {
	huma.Get(api, "/api/v1/camera", h.GetCamera, huma.OperationTags("camera"))
	huma.Post(api, "/api/v1/camera/departure/{id}", h.SelectDeparture, huma.OperationTags("camera"))
	huma.Post(api, "/api/v1/camera/arrival/{id}", h.SelectArrival, huma.OperationTags("camera"))
	huma.Delete(api, "/api/v1/camera/arrival", h.ClearArrival, huma.OperationTags("camera"))
	huma.Post(api, "/api/v1/camera/route", h.ShowRoute, huma.OperationTags("camera"))
	huma.Post(api, "/api/v1/camera/location", h.Locate, huma.OperationTags("camera"))
	huma.Post(api, "/api/v1/camera/orbit", h.Orbit, huma.OperationTags("camera"))
	huma.Post(api, "/api/v1/camera/reset", h.Reset, huma.OperationTags("camera"))
}

// RegisterStations registers station lookup routes.
func (h *APIHandler) RegisterStations(api huma.API) {
	huma.Get(api, "/api/v1/stations", h.GetStations, huma.OperationTags("stations"))
	huma.Get(api, "/api/v1/stations/{id}", h.GetStation, huma.OperationTags("stations"))
}

// RegisterOverlays registers overlay listing and visibility routes.
func (h *APIHandler) RegisterOverlays(api huma.API) {
	huma.Get(api, "/api/v1/overlays", h.GetOverlays, huma.OperationTags("overlays"))
	huma.Put(api, "/api/v1/overlays/{id}/visibility", h.PutOverlayVisibility, huma.OperationTags("overlays"))
	huma.Put(api, "/api/v1/overlays/types/{type}/visibility", h.PutTypeVisibility, huma.OperationTags("overlays"))
}

// RegisterBooking registers booking flow routes.
func (h *APIHandler) RegisterBooking(api huma.API) {
	huma.Get(api, "/api/v1/booking", h.GetBooking, huma.OperationTags("booking"))
	huma.Put(api, "/api/v1/booking/step", h.PutStep, huma.OperationTags("booking"))
}

// RegisterScene registers 3D scene inspection routes.
func (h *APIHandler) RegisterScene(api huma.API) {
	huma.Get(api, "/api/v1/scene/frame", h.GetFrame, huma.OperationTags("scene"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetCamera(ctx context.Context, input *struct{}) (*struct{ Body service.CameraView }, error) {
	return &struct{ Body service.CameraView }{Body: h.svc.Camera.State()}, nil
}

func (h *APIHandler) issued(ok bool) *struct{ Body IssuedBody } {
	return &struct{ Body IssuedBody }{Body: IssuedBody{Issued: ok, Camera: h.svc.Camera.State()}}
}

func (h *APIHandler) SelectDeparture(ctx context.Context, input *StationIDInput) (*struct{ Body IssuedBody }, error) {
	ok, err := h.svc.Camera.SelectDeparture(input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return h.issued(ok), nil
}

func (h *APIHandler) SelectArrival(ctx context.Context, input *StationIDInput) (*struct{ Body IssuedBody }, error) {
	ok, err := h.svc.Camera.SelectArrival(input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return h.issued(ok), nil
}

func (h *APIHandler) ClearArrival(ctx context.Context, input *struct{}) (*struct{ Body IssuedBody }, error) {
	return h.issued(h.svc.Camera.ClearArrival()), nil
}

func (h *APIHandler) ShowRoute(ctx context.Context, input *struct{ Body RouteRequest }) (*struct{ Body IssuedBody }, error) {
	ok, err := h.svc.Camera.ShowRoute(input.Body.DepartureID, input.Body.ArrivalID, input.Body.Path)
	if err != nil {
		return nil, toHumaError(err)
	}
	return h.issued(ok), nil
}

func (h *APIHandler) Locate(ctx context.Context, input *struct{ Body LocationRequest }) (*struct{ Body IssuedBody }, error) {
	return h.issued(h.svc.Camera.Locate(input.Body.Location, input.Body.Search)), nil
}

func (h *APIHandler) Orbit(ctx context.Context, input *struct{ Body service.Location }) (*struct{ Body IssuedBody }, error) {
	return h.issued(h.svc.Camera.Highlight(input.Body)), nil
}

func (h *APIHandler) Reset(ctx context.Context, input *struct{}) (*struct{ Body IssuedBody }, error) {
	return h.issued(h.svc.Camera.Reset()), nil
}

func (h *APIHandler) GetStations(ctx context.Context, input *struct{}) (*struct{ Body []service.StationView }, error) {
	return &struct{ Body []service.StationView }{Body: h.svc.Stations.List()}, nil
}

func (h *APIHandler) GetStation(ctx context.Context, input *StationIDInput) (*struct{ Body service.StationView }, error) {
	st, err := h.svc.Stations.Get(input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body service.StationView }{Body: st}, nil
}

func (h *APIHandler) GetOverlays(ctx context.Context, input *struct{}) (*struct{ Body []service.OverlayView }, error) {
	return &struct{ Body []service.OverlayView }{Body: h.svc.Overlays.List()}, nil
}

func (h *APIHandler) PutOverlayVisibility(ctx context.Context, input *struct {
	OverlayIDInput
	Body VisibilityBody
}) (*struct{ Body []service.OverlayView }, error) {
	if err := h.svc.Overlays.SetVisible(input.ID, input.Body.Visible); err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body []service.OverlayView }{Body: h.svc.Overlays.List()}, nil
}

func (h *APIHandler) PutTypeVisibility(ctx context.Context, input *struct {
	Type string `path:"type" enum:"marker,three,circle,walking,route" doc:"Overlay type"`
	Body VisibilityBody
}) (*struct{ Body []service.OverlayView }, error) {
	if err := h.svc.Overlays.SetTypeVisible(input.Type, input.Body.Visible); err != nil {
		return nil, toHumaError(err)
	}
	return &struct{ Body []service.OverlayView }{Body: h.svc.Overlays.List()}, nil
}

func (h *APIHandler) GetBooking(ctx context.Context, input *struct{}) (*struct{ Body service.Selection }, error) {
	return &struct{ Body service.Selection }{Body: h.svc.Camera.Selection()}, nil
}

func (h *APIHandler) PutStep(ctx context.Context, input *struct{ Body StepBody }) (*struct{ Body service.Selection }, error) {
	step, err := service.ParseStep(input.Body.Step)
	if err != nil {
		return nil, toHumaError(err)
	}
	h.svc.Camera.SetStep(step)
	return &struct{ Body service.Selection }{Body: h.svc.Camera.Selection()}, nil
}

func (h *APIHandler) GetFrame(ctx context.Context, input *struct{}) (*struct{ Body scene.Frame }, error) {
	if h.svc.Frames == nil {
		return nil, huma.Error503ServiceUnavailable("3D rendering not available")
	}
	f, ok := h.svc.Frames.Last()
	if !ok {
		return nil, huma.Error404NotFound("no frame rendered yet")
	}
	return &struct{ Body scene.Frame }{Body: f}, nil
}

func toHumaError(err error) error {
	switch {
	case errors.Is(err, service.ErrStationNotFound), errors.Is(err, service.ErrOverlayNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrUnknownStep):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
