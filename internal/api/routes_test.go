package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/camera"
	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/config"
	"github.com/joeblew999/plat-fleetmap/internal/orchestrator"
	"github.com/joeblew999/plat-fleetmap/internal/overlay"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/scene"
	"github.com/joeblew999/plat-fleetmap/internal/service"
	"github.com/joeblew999/plat-fleetmap/internal/station"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

type env struct {
	api    humatest.TestAPI
	clk    *clock.Manual
	m      *platform.Headless
	frames *scene.FrameLog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	m := platform.NewHeadless(platform.HeadlessOptions{
		Initial: platform.Camera{Center: orb.Point{121.5654, 25.0330}, Zoom: 12},
		Clock:   clk,
	})
	bus := service.NewEventBus()
	stations := service.NewStationService(config.StationsConfig{}, bus)
	stations.Store().Replace([]station.Station{
		{ID: 5, Name: "Taipei Main", Coordinates: orb.Point{121.5170, 25.0478}},
		{ID: 7, Name: "Xinyi", Coordinates: orb.Point{121.5654, 25.0330}},
	})

	sync := telemetry.New(telemetry.Options{Clock: clk})
	sync.Bind(m)
	reg := overlay.NewRegistry()
	reg.SetMap(m)
	overlays := service.NewOverlayService(reg, stations.Store(), bus)

	anim := camera.NewAnimator(m, camera.Config{Clock: clk})
	orch := orchestrator.New(stations.Store(), orchestrator.DefaultPolicy())
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
	overlays.Install(scene.New(service.OverlayScene, scene.Config{Renderer: frames.Factory()}), cam.StationClicked)

	_, api := humatest.New(t)
	RegisterRoutes(api, &Services{Stations: stations, Camera: cam, Overlays: overlays, Frames: frames})
	return &env{api: api, clk: clk, m: m, frames: frames}
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	e := newEnv(t)
	if resp := e.api.Get("/health"); resp.Code != http.StatusOK {
		t.Fatalf("GET /health status=%d", resp.Code)
	}
	resp := e.api.Get("/api/v1/info")
	info := decode[InfoBody](t, resp.Body.String())
	if info.Name != "fleetmap" || info.Stations != 2 || info.StationSource != "none" {
		t.Fatalf("info=%+v", info)
	}
}

func TestStations(t *testing.T) {
	e := newEnv(t)
	list := decode[[]service.StationView](t, e.api.Get("/api/v1/stations").Body.String())
	if len(list) != 2 || list[0].ID != 5 {
		t.Fatalf("stations=%+v", list)
	}
	if resp := e.api.Get("/api/v1/stations/404"); resp.Code != http.StatusNotFound {
		t.Fatalf("GET /stations/404 status=%d, want 404", resp.Code)
	}
}

func TestDepartureTrigger(t *testing.T) {
	e := newEnv(t)
	resp := e.api.Post("/api/v1/camera/departure/7")
	if resp.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
	if body := decode[IssuedBody](t, resp.Body.String()); !body.Issued {
		t.Fatal("transition not issued")
	}
	e.clk.Advance(2 * time.Second)

	cam := decode[service.CameraView](t, e.api.Get("/api/v1/camera").Body.String())
	if cam.Zoom != 16 || cam.Tilt != 45 || cam.Animating {
		t.Fatalf("camera=%+v, want settled station view", cam)
	}

	if resp := e.api.Post("/api/v1/camera/departure/404"); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown station status=%d, want 404", resp.Code)
	}
}

func TestRouteAndClearArrival(t *testing.T) {
	e := newEnv(t)
	resp := e.api.Post("/api/v1/camera/route", map[string]any{"departureId": 5, "arrivalId": 7})
	if resp.Code != http.StatusOK {
		t.Fatalf("route status=%d body=%s", resp.Code, resp.Body.String())
	}
	sel := decode[service.Selection](t, e.api.Get("/api/v1/booking").Body.String())
	if sel.DepartureID == nil || sel.ArrivalID == nil || *sel.ArrivalID != 7 {
		t.Fatalf("selection=%+v", sel)
	}

	if resp := e.api.Delete("/api/v1/camera/arrival"); resp.Code != http.StatusOK {
		t.Fatalf("clear status=%d", resp.Code)
	}
	sel = decode[service.Selection](t, e.api.Get("/api/v1/booking").Body.String())
	if sel.ArrivalID != nil {
		t.Fatal("arrival not cleared")
	}
}

func TestLocationValidation(t *testing.T) {
	e := newEnv(t)
	if resp := e.api.Post("/api/v1/camera/location", map[string]any{"lng": 121.5, "lat": 95}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("lat 95 status=%d, want 422", resp.Code)
	}
	if resp := e.api.Post("/api/v1/camera/location", map[string]any{"lng": 121.5, "lat": 25}); resp.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
	if resp := e.api.Post("/api/v1/camera/orbit", map[string]any{"lng": 121.5, "lat": 25}); resp.Code != http.StatusOK {
		t.Fatalf("orbit status=%d", resp.Code)
	}
	if resp := e.api.Post("/api/v1/camera/reset"); resp.Code != http.StatusOK {
		t.Fatalf("reset status=%d", resp.Code)
	}
}

func TestOverlayVisibilityAndStep(t *testing.T) {
	e := newEnv(t)
	list := decode[[]service.OverlayView](t, e.api.Get("/api/v1/overlays").Body.String())
	if len(list) != 5 {
		t.Fatalf("overlays=%+v, want 5", list)
	}

	resp := e.api.Put("/api/v1/overlays/types/three/visibility", map[string]any{"visible": false})
	if resp.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
	for _, o := range decode[[]service.OverlayView](t, resp.Body.String()) {
		if o.Type == "three" && o.Visible {
			t.Fatal("3D overlay still visible")
		}
	}
	if resp := e.api.Put("/api/v1/overlays/nope/visibility", map[string]any{"visible": true}); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown overlay status=%d, want 404", resp.Code)
	}

	resp = e.api.Put("/api/v1/booking/step", map[string]any{"step": "riding"})
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"riding"`) {
		t.Fatalf("step status=%d body=%s", resp.Code, resp.Body.String())
	}
	if resp := e.api.Put("/api/v1/booking/step", map[string]any{"step": "paying"}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad step status=%d, want 422", resp.Code)
	}
}

func TestSceneFrame(t *testing.T) {
	e := newEnv(t)
	if resp := e.api.Get("/api/v1/scene/frame"); resp.Code != http.StatusNotFound {
		t.Fatalf("status before any frame=%d, want 404", resp.Code)
	}
	e.api.Post("/api/v1/camera/departure/5")
	e.m.Draw()

	frame := decode[scene.Frame](t, e.api.Get("/api/v1/scene/frame").Body.String())
	if len(frame.Meshes) != 2 || frame.Lights != 2 {
		t.Fatalf("frame=%+v, want 2 station meshes and 2 lights", frame)
	}
}
