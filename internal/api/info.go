package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	stationSource string
	stations      func() int
}

// NewInfoHandler reports the station source and a live station count.
func NewInfoHandler(stationSource string, stations func() int) *InfoHandler {
	return &InfoHandler{stationSource: stationSource, stations: stations}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name          string   `json:"name" doc:"Service name"`
	Version       string   `json:"version" doc:"Service version"`
	StationSource string   `json:"station_source" doc:"Where stations are loaded from" enum:"geojson,duckdb,none"`
	Stations      int      `json:"stations" doc:"Number of stations loaded"`
	Features      []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	n := 0
	if h.stations != nil {
		n = h.stations()
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:          "fleetmap",
		Version:       "0.1.0",
		StationSource: h.stationSource,
		Stations:      n,
		Features:      []string{"camera", "overlays", "scene3d", "live", "websocket", "metrics"},
	}}, nil
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	NewInfoHandler(svc.Stations.Source(), func() int { return svc.Stations.Store().Snapshot().Len() }).RegisterRoutes(api)
}
