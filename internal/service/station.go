package service

import (
	"context"
	"fmt"
	"os"

	"github.com/joeblew999/plat-fleetmap/internal/config"
	"github.com/joeblew999/plat-fleetmap/internal/db"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/station"
)

// StationService owns the station store and its configured source.
type StationService struct {
	store *station.Store
	cfg   config.StationsConfig
	bus   *EventBus
}

// NewStationService creates a service over an empty store.
func NewStationService(cfg config.StationsConfig, bus *EventBus) *StationService {
	return &StationService{store: station.NewStore(), cfg: cfg, bus: bus}
}

// Store exposes the store for snapshot readers.
func (s *StationService) Store() *station.Store { return s.store }

// Source names where stations are loaded from.
func (s *StationService) Source() string {
	switch {
	case s.cfg.GeoJSON != "":
		return "geojson"
	case s.cfg.DuckDB != "":
		return "duckdb"
	default:
		return "none"
	}
}

// Load reads the configured source and swaps in a new snapshot. With no
// source configured the store stays empty.
func (s *StationService) Load(ctx context.Context) (int, error) {
	var (
		stations []station.Station
		err      error
	)
	switch s.Source() {
	case "geojson":
		stations, err = s.loadGeoJSON()
	case "duckdb":
		stations, err = s.loadDuckDB(ctx)
	default:
		logging.Warn().Msg("no station source configured")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	snap := s.store.Replace(stations)
	logging.Info().Str("source", s.Source()).Int("stations", snap.Len()).Msg("stations loaded")
	if s.bus != nil {
		s.bus.Publish(Event{Resource: "stations", Action: "reloaded"})
	}
	return snap.Len(), nil
}

func (s *StationService) loadGeoJSON() ([]station.Station, error) {
	f, err := os.Open(s.cfg.GeoJSON)
	if err != nil {
		return nil, fmt.Errorf("open stations: %w", err)
	}
	defer f.Close()
	return station.LoadGeoJSON(f)
}

func (s *StationService) loadDuckDB(ctx context.Context) ([]station.Station, error) {
	conn, err := db.Open(s.cfg.DuckDB)
	if err != nil {
		return nil, err
	}
	return station.LoadDuckDB(ctx, conn, s.cfg.Table)
}

// List returns every station ordered by id.
func (s *StationService) List() []StationView {
	all := s.store.Snapshot().All()
	out := make([]StationView, 0, len(all))
	for _, st := range all {
		out = append(out, stationView(st))
	}
	return out
}

// Get returns one station.
func (s *StationService) Get(id int) (StationView, error) {
	st, ok := s.store.Lookup(id)
	if !ok {
		return StationView{}, fmt.Errorf("station %d: %w", id, ErrStationNotFound)
	}
	return stationView(st), nil
}
