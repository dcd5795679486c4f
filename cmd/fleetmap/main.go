package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-fleetmap/internal/config"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/server"
)

// Options defines the CLI flags and env vars for the fleetmap server.
// Flags: --config, --host, --port
// Env vars: SERVICE_CONFIG, SERVICE_HOST, SERVICE_PORT
// Every other setting comes from the config file or FLEETMAP_* variables.
type Options struct {
	Config string `doc:"Path to a YAML config file"`
	Host   string `doc:"Host to bind to (overrides config)"`
	Port   int    `doc:"Port to listen on (overrides config)" short:"p"`
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			cfg, err := loadConfig(opts)
			if err != nil {
				fatal("config", err)
			}
			srv := server.New(cfg)
			defer srv.Close()

			displayHost := cfg.Server.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, cfg.Server.Port)

			fmt.Println()
			fmt.Printf("fleetmap server starting...\n")
			fmt.Printf("  Server:    %s\n", baseURL)
			fmt.Printf("  Docs:      %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI:   %s/openapi.json\n", baseURL)
			fmt.Printf("  Live:      %s/api/v1/live/camera\n", baseURL)
			fmt.Printf("  WebSocket: ws://%s:%d/ws/camera\n", displayHost, cfg.Server.Port)
			fmt.Printf("  Metrics:   %s/metrics\n", baseURL)
			fmt.Println()

			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("server stopped")
			}
		})

		hooks.OnStop(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(server.ShutdownTimeout + time.Second):
			}
		})
	})

	cli.Root().Use = "fleetmap"
	cli.Root().Short = "Camera and overlay orchestration for the vehicle-dispatch map"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg, err := loadConfig(opts)
			if err != nil {
				fatal("config", err)
			}
			srv := server.New(cfg)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Run()
}
