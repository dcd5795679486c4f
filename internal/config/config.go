// Package config loads fleetmap settings from defaults, an optional YAML
// file and FLEETMAP_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FLEETMAP_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Map       MapConfig       `koanf:"map"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Camera    CameraConfig    `koanf:"camera"`
	Stations  StationsConfig  `koanf:"stations"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
	// AllowedOrigins may open /ws/camera to other origins; "*" allows any.
	// Empty keeps the same-origin check.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MapConfig describes the headless map surface: its initial camera, the
// viewport used for fit-to-bounds math and its render cadence.
type MapConfig struct {
	CenterLng      float64       `koanf:"center_lng" validate:"gte=-180,lte=180"`
	CenterLat      float64       `koanf:"center_lat" validate:"gte=-90,lte=90"`
	Zoom           float64       `koanf:"zoom" validate:"gte=0,lte=22"`
	Tilt           float64       `koanf:"tilt" validate:"gte=0,lte=90"`
	ViewportWidth  int           `koanf:"viewport_width" validate:"min=1"`
	ViewportHeight int           `koanf:"viewport_height" validate:"min=1"`
	IdleAfter      time.Duration `koanf:"idle_after" validate:"gt=0"`
	RenderInterval time.Duration `koanf:"render_interval" validate:"gt=0"`
}

type TelemetryConfig struct {
	Throttle time.Duration `koanf:"throttle" validate:"gt=0"`
}

// CameraConfig holds the animation policies used by the orchestrator.
type CameraConfig struct {
	FrameInterval    time.Duration `koanf:"frame_interval" validate:"gt=0"`
	RoutePadding     float64       `koanf:"route_padding" validate:"gte=0"`
	StationZoom      float64       `koanf:"station_zoom" validate:"gte=0,lte=22"`
	StationTilt      float64       `koanf:"station_tilt" validate:"gte=0,lte=90"`
	LocationZoom     float64       `koanf:"location_zoom" validate:"gte=0,lte=22"`
	LocationTilt     float64       `koanf:"location_tilt" validate:"gte=0,lte=90"`
	Duration         time.Duration `koanf:"duration" validate:"gt=0"`
	OrbitDuration    time.Duration `koanf:"orbit_duration" validate:"gt=0"`
	OrbitRevolutions float64       `koanf:"orbit_revolutions" validate:"gt=0"`
}

// StationsConfig selects the station source. GeoJSON wins when both are set.
type StationsConfig struct {
	GeoJSON string `koanf:"geojson"`
	DuckDB  string `koanf:"duckdb"`
	Table   string `koanf:"table" validate:"required_with=DuckDB"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8086},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Map: MapConfig{
			CenterLng:      121.5654,
			CenterLat:      25.0330,
			Zoom:           12,
			ViewportWidth:  1280,
			ViewportHeight: 800,
			IdleAfter:      250 * time.Millisecond,
			RenderInterval: 16 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{Throttle: 100 * time.Millisecond},
		Camera: CameraConfig{
			FrameInterval:    16 * time.Millisecond,
			RoutePadding:     80,
			StationZoom:      16,
			StationTilt:      45,
			LocationZoom:     16,
			LocationTilt:     0,
			Duration:         800 * time.Millisecond,
			OrbitDuration:    6 * time.Second,
			OrbitRevolutions: 1,
		},
		Stations: StationsConfig{Table: "stations"},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envMappings maps lowercased variable names, prefix stripped, to koanf keys.
var envMappings = map[string]string{
	"host":               "server.host",
	"port":               "server.port",
	"log_level":          "logging.level",
	"log_format":         "logging.format",
	"center_lng":         "map.center_lng",
	"center_lat":         "map.center_lat",
	"zoom":               "map.zoom",
	"tilt":               "map.tilt",
	"viewport_width":     "map.viewport_width",
	"viewport_height":    "map.viewport_height",
	"idle_after":         "map.idle_after",
	"render_interval":    "map.render_interval",
	"telemetry_throttle": "telemetry.throttle",
	"frame_interval":     "camera.frame_interval",
	"route_padding":      "camera.route_padding",
	"camera_duration":    "camera.duration",
	"orbit_duration":     "camera.orbit_duration",
	"stations_geojson":   "stations.geojson",
	"stations_duckdb":    "stations.duckdb",
	"stations_table":     "stations.table",
}

// envTransformFunc returns "" for unknown variables so they are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	return getValidator().Struct(c)
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
