// Package metrics holds the Prometheus instruments for the camera and
// overlay core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Camera

	CameraTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmap_camera_transitions_total",
			Help: "Camera transitions started, by kind",
		},
		[]string{"kind"}, // point, route, orbit, reset
	)

	CameraPreemptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmap_camera_preemptions_total",
			Help: "Camera transitions cancelled by a newer request",
		},
	)

	CameraSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmap_camera_skipped_total",
			Help: "Camera requests dropped without animating, by reason",
		},
		[]string{"reason"}, // unknown_station, no_capability, invalid_coordinates
	)

	// Telemetry

	TelemetryUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmap_telemetry_updates_total",
			Help: "Camera state updates received, by significance",
		},
		[]string{"significant"},
	)

	TelemetryBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmap_telemetry_broadcasts_total",
			Help: "Throttled camera state broadcasts delivered to subscribers",
		},
	)

	// Overlays

	OverlaysRegistered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetmap_overlays_registered",
			Help: "Registered overlays, by type",
		},
		[]string{"type"},
	)

	OverlayUpdateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmap_overlay_update_failures_total",
			Help: "Overlay updates that failed or targeted a missing overlay",
		},
		[]string{"type"},
	)

	// 3D scene

	SceneDraws = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmap_scene_draws_total",
			Help: "3D scene frames rendered",
		},
	)

	SceneRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmap_scene_rebuilds_total",
			Help: "3D object set rebuilds",
		},
	)

	SceneContextLosses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmap_scene_context_losses_total",
			Help: "Rendering context losses observed by 3D overlays",
		},
	)

	// Streams

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetmap_websocket_clients",
			Help: "Connected camera telemetry WebSocket clients",
		},
	)
)
