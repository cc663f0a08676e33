// Process Report is a shop-floor SPC station: it reads dimensional
// measurements from serial-attached gauges, folds them into subgroups,
// evaluates control limits and run rules, and serves the results over a
// JSON API with a small dashboard.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/process.report/internal/api"
	"github.com/banshee-data/process.report/internal/config"
	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/gaugemux"
	"github.com/banshee-data/process.report/internal/ingest"
)

var (
	//go:embed static/*
	staticFiles embed.FS

	devMode       = flag.Bool("dev", false, "Run in dev mode")
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db-path", DefaultDBFile, "Path to the station database")
	configPath    = flag.String("config", "", "Path to a tuning config JSON (built-in defaults when empty)")
	autoMigrate   = flag.Bool("auto-migrate", true, "Apply pending schema migrations on startup")
	disableGauges = flag.Bool("disable-gauges", false, "Run without a gauge connection")
	gaugePort     = flag.String("gauge-port", "", "Serial port to use, bypassing stored serial configurations")
	unitsFlag     = flag.String("units", "mm", "Measurement units label reported by the API")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

const fixturesFile = "fixtures.txt"

// Main
func main() {
	flag.Parse()

	if *showVersion {
		printVersion(os.Stdout)
		return
	}
	if args := flag.Args(); len(args) > 0 {
		runCommand(args)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	database, err := openDatabase(*dbPath, *autoMigrate)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	gauge, manager, err := buildGaugeMux(database, gaugeSetup{
		Disabled:     *disableGauges,
		Dev:          *devMode,
		FixturesPath: fixturesFile,
		PortPath:     *gaugePort,
	})
	if err != nil {
		log.Fatalf("failed to create gauge port: %v", err)
	}
	defer gauge.Close()

	if err := gauge.Initialize(); err != nil {
		// A managed station keeps serving its API with the gauge
		// offline; a fixed transport that cannot initialize is fatal.
		if manager != nil {
			log.Printf("gauge not initialized: %v (create a serial configuration and POST /api/serial/reload)", err)
		} else {
			log.Fatalf("failed to initialize gauge interface: %v", err)
		}
	} else {
		log.Printf("initialized gauge interface")
	}

	builder := ingest.NewBuilder(database, nil, cfg.GetSubgroupSize(), cfg.GetSubgroupGapTimeout())
	router := newReadingRouter(database, manager, builder)

	worker := db.NewSPCWorker(database, cfg.GetHistoryWindow(), cfg.GetMinSubgroupSize())
	worker.Interval = cfg.GetRecalcInterval()
	if cfg.GetAutoRecalc() {
		worker.Start()
		defer worker.Stop()
	}

	subscribers, err := ingest.StartEnabledSubscribers(database)
	if err != nil {
		log.Printf("failed to start MQTT subscribers: %v", err)
	}
	defer func() {
		for _, sub := range subscribers {
			sub.Stop()
		}
	}()

	// Create a wait group for the HTTP server, gauge monitor, and event
	// handler routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the gauge port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gauge.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor gauge port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to the gauge port lines and pass them to the reading
	// router
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := gauge.Subscribe()
		defer gauge.Unsubscribe(id)
		for {
			select {
			case payload := <-c:
				if err := gaugemux.HandleEvent(router.Route, payload); err != nil {
					log.Printf("error handling gauge line: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// flush half-built subgroups after idle gaps, and flush everything
	// on shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := builder.Run(ctx); err != nil {
			log.Printf("subgroup builder flush error: %v", err)
		}
		log.Print("subgroup builder terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		apiServer := api.NewServer(gauge, database, worker, *unitsFlag)
		mux := buildRootMux(apiServer, gauge, database, *devMode)
		runHTTPServer(ctx, *listen, api.LoggingMiddleware(mux))
		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadTuningConfig falls back to the built-in defaults when no config
// path is given.
func loadTuningConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}
