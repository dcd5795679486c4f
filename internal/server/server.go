package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeblew999/plat-fleetmap/internal/api"
	"github.com/joeblew999/plat-fleetmap/internal/api/live"
	"github.com/joeblew999/plat-fleetmap/internal/camera"
	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/config"
	"github.com/joeblew999/plat-fleetmap/internal/db"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/orchestrator"
	"github.com/joeblew999/plat-fleetmap/internal/overlay"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/scene"
	"github.com/joeblew999/plat-fleetmap/internal/service"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
	"github.com/joeblew999/plat-fleetmap/internal/websocket"
)

// Server is the fleetmap HTTP server. It owns the headless map surface and
// everything wired to it.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	humaAPI huma.API

	Map          *platform.Headless
	Telemetry    *telemetry.Synchronizer
	Registry     *overlay.Registry
	Animator     *camera.Animator
	Orchestrator *orchestrator.Orchestrator
	Services     *api.Services
	Bus          *service.EventBus
	Hub          *websocket.Hub
}

// Option customises a Server.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock drives the map, telemetry and animations from c.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds the server from cfg. Stations are not loaded until Run.
func New(cfg *config.Config, opts ...Option) *Server {
	o := options{clock: clock.Real{}}
	for _, fn := range opts {
		fn(&o)
	}

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("fleetmap API", "1.0.0")
	humaConfig.Info.Description = "Camera and overlay orchestration for the vehicle-dispatch map."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s", cfg.Addr()), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	home := platform.Camera{
		Center: orb.Point{cfg.Map.CenterLng, cfg.Map.CenterLat},
		Zoom:   cfg.Map.Zoom,
		Tilt:   cfg.Map.Tilt,
	}
	m := platform.NewHeadless(platform.HeadlessOptions{
		Initial:        home,
		ViewportWidth:  cfg.Map.ViewportWidth,
		ViewportHeight: cfg.Map.ViewportHeight,
		IdleAfter:      cfg.Map.IdleAfter,
		RenderInterval: cfg.Map.RenderInterval,
		Clock:          o.clock,
	})

	tlog := logging.WithComponent("telemetry")
	sync := telemetry.New(telemetry.Options{Throttle: cfg.Telemetry.Throttle, Clock: o.clock, Logger: &tlog})
	sync.Bind(m)

	bus := service.NewEventBus()
	stations := service.NewStationService(cfg.Stations, bus)

	reg := overlay.NewRegistry().WithLogger(logging.WithComponent("overlays"))
	reg.SetMap(m)
	overlays := service.NewOverlayService(reg, stations.Store(), bus)

	alog := logging.WithComponent("camera")
	anim := camera.NewAnimator(m, camera.Config{
		FrameInterval:  cfg.Camera.FrameInterval,
		ViewportWidth:  cfg.Map.ViewportWidth,
		ViewportHeight: cfg.Map.ViewportHeight,
		RoutePadding:   cfg.Camera.RoutePadding,
		Home:           home,
		Clock:          o.clock,
		Logger:         &alog,
	})
	orch := orchestrator.New(stations.Store(), policyFrom(cfg.Camera)).
		WithLogger(logging.WithComponent("orchestrator"))
	orch.Initialize(anim)

	cam := service.NewCameraService(service.CameraServiceConfig{
		Orchestrator: orch,
		Telemetry:    sync,
		Animator:     anim,
		Stations:     stations.Store(),
		Overlays:     overlays,
		Bus:          bus,
	})

	frames := &scene.FrameLog{}
	sceneLog := logging.WithComponent("scene")
	overlays.Install(scene.New(service.OverlayScene, scene.Config{
		Renderer:  frames.Factory(),
		Telemetry: sync,
		Logger:    &sceneLog,
	}), cam.StationClicked)
	overlays.Sync(cam.Selection(), nil)
	overlays.ApplyStep(cam.Selection().Step)

	hub := websocket.NewHub(websocket.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Snapshot: func() []websocket.Message {
			return []websocket.Message{
				{Type: websocket.MessageTypeCamera, Data: cam.State()},
				{Type: websocket.MessageTypeBooking, Data: cam.Selection()},
			}
		},
	})
	sync.Subscribe(func(telemetry.CameraState) {
		hub.Broadcast(websocket.MessageTypeCamera, cam.State())
	})

	s := &Server{
		cfg:          cfg,
		mux:          mux,
		humaAPI:      humago.New(mux, humaConfig),
		Map:          m,
		Telemetry:    sync,
		Registry:     reg,
		Animator:     anim,
		Orchestrator: orch,
		Services: &api.Services{
			Stations: stations,
			Camera:   cam,
			Overlays: overlays,
			Frames:   frames,
		},
		Bus: bus,
		Hub: hub,
	}
	s.routes()
	return s
}

func policyFrom(c config.CameraConfig) orchestrator.Policy {
	return orchestrator.Policy{
		StationZoom:      c.StationZoom,
		StationTilt:      c.StationTilt,
		LocationZoom:     c.LocationZoom,
		LocationTilt:     c.LocationTilt,
		Duration:         c.Duration,
		OrbitDuration:    c.OrbitDuration,
		OrbitRevolutions: c.OrbitRevolutions,
	}
}

func (s *Server) routes() {
	// Huma REST routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.Services)

	// Datastar SSE routes
	live.NewHandler(s.Services.Camera, s.Telemetry, s.Bus).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.Handle("/ws/camera", s.Hub)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/docs", http.StatusFound)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// LoadStations loads stations from the configured source and pushes them
// into the overlays.
func (s *Server) LoadStations(ctx context.Context) (int, error) {
	n, err := s.Services.Stations.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.Services.Overlays.Sync(s.Services.Camera.Selection(), nil)
	return n, nil
}

// Close releases the map overlays, telemetry timers and the database.
func (s *Server) Close() error {
	s.Animator.Stop()
	s.Telemetry.Close()
	s.Registry.DisposeAll()
	return db.Close()
}
