// Command serialdebug opens serial, tty and mock devices, parses the bracketed
// commands they print and serves the live stream on a local debug HTTP
// endpoint (/debug/).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/serialdebug/internal/config"
	"github.com/banshee-data/serialdebug/internal/monitoring"
	"github.com/banshee-data/serialdebug/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a config file (default $SERIALDEBUG_CONFIG or ~/.config/serialdebug/config.*)")
	openSort     = flag.String("open", "", "Device sort to open at startup (mock, serial, tty)")
	deviceConfig = flag.String("device-config", "", "JSON configuration for the -open device, e.g. {\"name\":\"/dev/ttyUSB0\"}")
	capturePath  = flag.String("capture", "", "Record events to this SQLite database (overrides capture.path)")
	listen       = flag.String("listen", "", "Admin listen address (overrides admin.listen)")
	printEvents  = flag.Bool("events", false, "Print every device event to stdout as a JSON line")
	debug        = flag.Bool("debug", false, "Enable debug logging (overrides log.debug)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cfg config.Config) config.Config {
	if *capturePath != "" {
		cfg.Capture.Path = *capturePath
	}
	if *listen != "" {
		cfg.Admin.Listen = *listen
	}
	if *debug {
		cfg.Log.Debug = true
	}
	return cfg
}

// startupDevice returns the raw configuration of the -open device.
func startupDevice() json.RawMessage {
	if *deviceConfig != "" {
		return json.RawMessage(*deviceConfig)
	}
	// mock devices only need a name
	return json.RawMessage(`{"name":"` + *openSort + `"}`)
}

func main() {
	flag.Parse()

	if *showVersion {
		log.SetFlags(0)
		log.Print(version.String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg = applyFlags(cfg)
	if cfg.Admin.Listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(cfg.Log.Debug)
	log.Printf("starting %s", version.String())

	var out io.Writer
	if *printEvents {
		out = os.Stdout
	}
	a, err := newApp(cfg, out)
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}
	if err := a.start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	if *openSort != "" {
		if _, err := a.open(*openSort, startupDevice(), ""); err != nil {
			a.shutdown()
			log.Fatalf("failed to open %s device: %v", *openSort, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	if err := a.attachRoutes(mux); err != nil {
		a.shutdown()
		log.Fatalf("failed to attach admin routes: %v", err)
	}
	server := &http.Server{
		Addr:    cfg.Admin.Listen,
		Handler: mux,
	}

	// Start server in a goroutine so it doesn't block
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("serving debug routes on http://%s/debug/", cfg.Admin.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Printf("failed to start server: %v", err)
	}
	log.Println("shutting down...")

	a.shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("Graceful shutdown complete")
}
