package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meshfield/meshmap/internal/api"
	"github.com/meshfield/meshmap/internal/config"
	"github.com/meshfield/meshmap/internal/db"
	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/radio"
	"github.com/meshfield/meshmap/internal/stream"
	"github.com/meshfield/meshmap/internal/telemetry"
	"github.com/meshfield/meshmap/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a scripted mock radio instead of real hardware")
	debugMode  = flag.Bool("debug", false, "Mount /debug admin routes (tailsql, backup, radio console)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	serialPort = flag.String("port", "", "Serial port of the mesh radio (overrides config)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
	configPath = flag.String("config", "", "Path to JSON config file")
)

//go:embed static/*
var staticFiles embed.FS

// loadConfig merges the optional JSON config file with flag overrides. Flags
// win so a field unit can be repointed without editing the file.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}
	if *dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	monitoring.SetLogger(log.Printf)
	log.Printf("meshmapd %s (%s)", version.Version, version.GitSHA)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var radioMux radio.Muxer
	if *devMode {
		log.Printf("dev mode: using scripted mock radio")
		radioMux = radio.NewMockRadioMux()
	} else {
		opts := radio.PortOptions{BaudRate: cfg.GetBaudRate()}
		radioMux, err = radio.NewSerialMux(cfg.GetSerialPort(), opts)
		if err != nil {
			log.Fatalf("failed to open radio port %s: %v", cfg.GetSerialPort(), err)
		}
		log.Printf("opened radio port %s", cfg.GetSerialPort())
	}
	defer radioMux.Close()

	if err := radioMux.Initialize(); err != nil {
		log.Fatalf("failed to initialize radio: %v", err)
	}

	database, err := db.NewDB(cfg.GetDatabasePath(), nil)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the radio port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := radioMux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor radio port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// telemetry and neighbour adverts from repeaters on the mesh
	if cfg.GetTelemetryEnabled() {
		ingester := telemetry.NewIngester(database, radioMux)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ingester.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("telemetry ingester failed: %v", err)
			}
			log.Print("telemetry routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		tracer := radio.NewInterface(radioMux, nil)

		policy := api.ClientPolicy{
			ReconnectDelay:  cfg.GetReconnectDelay(),
			CollectInterval: cfg.GetCollectInterval(),
		}
		mux := api.NewServer(database, nil, cfg.GetUnits(), policy).ServeMux()
		stream.NewServer(database, tracer, nil, cfg.GetGPSStalenessBound()).RegisterRoutes(mux)

		if *debugMode {
			database.AttachAdminRoutes(mux)
			radio.AttachAdminRoutes(mux, radioMux)
		}

		// read static files from the embedded filesystem in production or
		// from the local ./static in dev for easier iteration without
		// restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			sub, err := fs.Sub(staticFiles, "static")
			if err != nil {
				log.Fatalf("failed to load embedded static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(sub))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", cfg.GetListenAddr())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
