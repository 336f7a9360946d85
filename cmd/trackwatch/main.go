package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/trackwatch/internal/api"
	"github.com/banshee-data/trackwatch/internal/config"
	"github.com/banshee-data/trackwatch/internal/db"
	"github.com/banshee-data/trackwatch/internal/monitoring"
	"github.com/banshee-data/trackwatch/internal/scanner"
	"github.com/banshee-data/trackwatch/internal/tracking"
	"github.com/banshee-data/trackwatch/internal/units"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbPath     = flag.String("db-path", "trackwatch.db", "Path to the SQLite database")
	configPath = flag.String("config", "", "Engine config JSON (defaults apply when empty)")
	port       = flag.String("port", "", "Serial port of the BLE receiver")
	baudRate   = flag.Int("baud", 115200, "Receiver baud rate")
	replay     = flag.String("replay", "", "Replay a captured receiver log instead of reading a port")
	unitsFlag  = flag.String("units", units.Metres, "Distance units for accuracy values ("+units.GetValidUnitsString()+")")
	debug      = flag.Bool("debug", false, "Enable diagnostic and trace logging")
)

// loadConfig reads path, or returns an all-defaults config when path is
// empty.
func loadConfig(path string) (*config.EngineConfig, error) {
	if path == "" {
		return &config.EngineConfig{}, nil
	}
	return config.LoadEngineConfig(path)
}

// openPort picks the receiver source. Replay wins over a serial port; with
// neither the service runs on API ingest alone and returns a nil port.
func openPort(replayPath, portPath string, baud int) (scanner.Port, error) {
	switch {
	case replayPath != "":
		return scanner.OpenReplay(replayPath)
	case portPath != "":
		return scanner.OpenSerial(portPath, scanner.PortOptions{BaudRate: baud})
	}
	return nil, nil
}

func configureLogging(debug bool) {
	ops := monitoring.Writer("")
	if !debug {
		tracking.SetLogWriters(ops, nil, nil)
		scanner.SetLogWriters(ops, nil, nil)
		return
	}
	tracking.SetLogWriters(ops, ops, ops)
	scanner.SetLogWriters(ops, ops, ops)
}

func main() {
	flag.Parse()

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*unitsFlag) {
		log.Fatalf("invalid units %q, want one of %s", *unitsFlag, units.GetValidUnitsString())
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	configureLogging(*debug)
	if err := monitoring.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	if err := database.CheckMigrations(db.MigrationsFS()); err != nil {
		log.Fatalf("database schema check failed: %v", err)
	}

	engine, err := tracking.NewEngine(db.NewStore(database), cfg.Tracking(), nil)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer engine.Close()
	engine.Worker.Interval = cfg.GetWorkerInterval()
	engine.Session.SettleDelay = cfg.GetSettleDelay()

	receiver, err := openPort(*replay, *port, *baudRate)
	if err != nil {
		log.Fatalf("failed to open receiver: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scan *scanner.Scanner
	if receiver != nil {
		scan = scanner.NewScanner(receiver, engine.Log, nil)
		defer scan.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scan.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("receiver monitor failed: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	} else {
		log.Print("no receiver configured; accepting sightings over the API only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session tracker stopped: %v", err)
		}
		log.Print("session routine terminated")
	}()

	engine.Worker.Start()
	defer engine.Worker.Stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		opts := api.Options{Units: *unitsFlag}
		if scan != nil {
			opts.Scanner = scan
		}
		mux := api.NewServer(engine, opts).ServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		if scan != nil {
			scan.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

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
