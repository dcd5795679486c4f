package live

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/camera"
	"github.com/joeblew999/plat-fleetmap/internal/clock"
	"github.com/joeblew999/plat-fleetmap/internal/orchestrator"
	"github.com/joeblew999/plat-fleetmap/internal/platform"
	"github.com/joeblew999/plat-fleetmap/internal/service"
	"github.com/joeblew999/plat-fleetmap/internal/station"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

// newLive serves the handler through the humago adapter, which the SSE
// helpers unwrap.
func newLive(t *testing.T) (*http.ServeMux, *service.CameraService) {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	m := platform.NewHeadless(platform.HeadlessOptions{Clock: clk})
	store := station.NewStore(station.Station{ID: 5, Name: "Taipei Main", Coordinates: orb.Point{121.5170, 25.0478}})
	sync := telemetry.New(telemetry.Options{Clock: clk})
	sync.Bind(m)

	orch := orchestrator.New(store, orchestrator.DefaultPolicy())
	orch.Initialize(camera.NewAnimator(m, camera.Config{Clock: clk}))
	cam := service.NewCameraService(service.CameraServiceConfig{Orchestrator: orch, Telemetry: sync, Stations: store})

	mux := http.NewServeMux()
	NewHandler(cam, sync, nil).RegisterRoutes(humago.New(mux, huma.DefaultConfig("live", "test")))
	return mux, cam
}

func post(t *testing.T, mux *http.ServeMux, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/live/select", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func postSignals(t *testing.T, mux *http.ServeMux, signals map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(signals)
	if err != nil {
		t.Fatal(err)
	}
	return post(t, mux, strings.NewReader(string(b)))
}

func TestSelectDeparture(t *testing.T) {
	mux, cam := newLive(t)
	resp := postSignals(t, mux, map[string]any{"action": "departure", "station": 5})
	body := resp.Body.String()
	if !strings.Contains(body, "datastar-patch-signals") || !strings.Contains(body, `"departure":5`) {
		t.Fatalf("body=%s", body)
	}
	if sel := cam.Selection(); sel.DepartureID == nil || *sel.DepartureID != 5 {
		t.Fatalf("selection=%+v", sel)
	}
}

func TestSelectErrorsBecomeSignals(t *testing.T) {
	mux, _ := newLive(t)
	for name, sig := range map[string]map[string]any{
		"unknown station":  {"action": "departure", "station": 404},
		"missing station":  {"action": "arrival"},
		"missing lat":      {"action": "locate", "lng": 121.5},
		"lat out of range": {"action": "locate", "lng": 121.5, "lat": 95},
		"bad step":         {"action": "step", "step": "paying"},
		"bad action":       {"action": "teleport"},
	} {
		body := postSignals(t, mux, sig).Body.String()
		if !strings.Contains(body, `"error"`) {
			t.Errorf("%s: body=%s, want error signal", name, body)
		}
	}
}

func TestSelectIgnoresOutOfRangeFix(t *testing.T) {
	mux, cam := newLive(t)
	body := postSignals(t, mux, map[string]any{"action": "locate", "lng": 999, "lat": 0}).Body.String()
	if !strings.Contains(body, "out of range") {
		t.Fatalf("body=%s, want range error", body)
	}
	if u := cam.Selection().User; u != nil {
		t.Fatalf("user=%+v, want unset", u)
	}
}

func TestSelectRejectsMalformedBody(t *testing.T) {
	mux, _ := newLive(t)
	resp := post(t, mux, strings.NewReader("{not json"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.Code)
	}
}

func TestOfferLatestKeepsNewest(t *testing.T) {
	t.Parallel()
	ch := make(chan int, 1)
	for i := 1; i <= 3; i++ {
		offerLatest(ch, i)
	}
	if got := <-ch; got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestBookingSignalsNullsUnset(t *testing.T) {
	t.Parallel()
	dep := 5
	b := bookingSignals(service.Selection{Step: service.StepSelectArrival, DepartureID: &dep})["booking"].(map[string]any)
	if b["departure"] != 5 || b["arrival"] != nil || b["step"] != "select_arrival" {
		t.Fatalf("booking=%v", b)
	}
}
