package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/service"
	"github.com/joeblew999/plat-fleetmap/internal/websocket"
)

// ShutdownTimeout bounds graceful HTTP shutdown and each service's stop.
const ShutdownTimeout = 10 * time.Second

// Run loads stations and serves until ctx is canceled. The render loop, the
// WebSocket hub, the event forwarder and the HTTP listener run under one
// supervisor and are restarted on failure.
func (s *Server) Run(ctx context.Context) error {
	n, err := s.LoadStations(ctx)
	if err != nil {
		return fmt.Errorf("load stations: %w", err)
	}
	logging.Info().Int("stations", n).Str("source", s.Services.Stations.Source()).Msg("stations ready")

	root := s.Supervisor()
	return root.Serve(ctx)
}

// Supervisor builds the service tree without starting it.
func (s *Server) Supervisor() *suture.Supervisor {
	log := logging.WithComponent("supervisor")
	root := suture.New("fleetmap", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Fields(e.Map()).Msg(e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          ShutdownTimeout,
	})

	root.Add(s.Map)
	root.Add(s.Hub)
	root.Add(&eventForwarder{bus: s.Bus, hub: s.Hub})
	root.Add(&httpService{
		server: &http.Server{
			Addr:              s.cfg.Addr(),
			Handler:           s,
			ReadHeaderTimeout: 10 * time.Second,
		},
	})
	return root
}

// httpService runs an http.Server under suture.
type httpService struct {
	server *http.Server
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", h.server.Addr).Msg("http server listening")
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The original context is canceled; shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }

// eventForwarder relays bus events to WebSocket clients.
type eventForwarder struct {
	bus *service.EventBus
	hub *websocket.Hub
}

func (f *eventForwarder) Serve(ctx context.Context) error {
	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			f.hub.Broadcast(websocket.MessageTypeEvent, ev)
		}
	}
}

func (f *eventForwarder) String() string { return "event-forwarder" }
