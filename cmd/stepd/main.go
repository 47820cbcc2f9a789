// Command stepd runs the step-counting daemon: it ingests motion samples,
// validates and persists step records, reconciles steps accrued while the
// process was down, and serves the query API.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stride-data/steps.report/internal/api"
	"github.com/stride-data/steps.report/internal/db"
	"github.com/stride-data/steps.report/internal/keepalive"
	"github.com/stride-data/steps.report/internal/pedometer"
	"github.com/stride-data/steps.report/internal/reconcile"
	"github.com/stride-data/steps.report/internal/sensor"
	"github.com/stride-data/steps.report/internal/timeutil"
	"github.com/stride-data/steps.report/internal/version"
)

var (
	dbFile        = flag.String("db", "steps.db", "SQLite database path")
	listen        = flag.String("listen", ":8080", "Listen address")
	serialPort    = flag.String("serial", "/dev/ttyACM0", "Serial port delivering accelerometer samples")
	baudRate      = flag.Int("baud", 115200, "Serial baud rate")
	devMode       = flag.Bool("dev", false, "Run in dev mode with a synthetic walking source")
	configPath    = flag.String("config", "", "Optional pedometer config JSON")
	retentionDays = flag.Int("retention-days", 30, "Days of step records to keep; 0 or negative keeps forever")
	locationName  = flag.String("location", "Local", "Time zone for day boundaries")
)

// devScript builds one stride cycle of synthetic accelerometer data: a sharp
// vertical spike followed by a settle, at a walking cadence when replayed at
// 50ms per sample.
func devScript() []sensor.Sample {
	var script []sensor.Sample
	for i := 0; i < 12; i++ {
		z := 9.8
		if i == 0 {
			z = 14.0
		}
		if i == 1 {
			z = 7.0
		}
		// Mild sway on the horizontal axes.
		script = append(script, sensor.Sample{
			X: 0.3 * math.Sin(float64(i)),
			Y: 0.2 * math.Cos(float64(i)),
			Z: z,
		})
	}
	return script
}

func main() {
	flag.Parse()

	log.Printf("stepd %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if !timeutil.IsTimezoneValid(*locationName) {
		log.Fatalf("Unknown location %q", *locationName)
	}
	loc, err := time.LoadLocation(*locationName)
	if err != nil {
		log.Fatalf("Failed to load location %q: %v", *locationName, err)
	}

	cfg := pedometer.Config{}
	if *configPath != "" {
		loaded, err := pedometer.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load pedometer config: %v", err)
		}
		cfg = *loaded
	}

	var source sensor.MotionSource
	if *devMode {
		source = sensor.NewScriptSource(devScript(), 50*time.Millisecond, true)
	} else {
		serial, err := sensor.NewSerialSource(sensor.SerialOptions{
			Port:     *serialPort,
			BaudRate: *baudRate,
		})
		if err != nil {
			log.Fatalf("Failed to open serial source: %v", err)
		}
		source = serial
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	store := db.NewStepStore(database, db.StoreConfig{
		Location:      loc,
		RetentionDays: retentionDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention runs once per daemon start, not on a timer.
	if deleted, err := store.RunRetentionSweep(ctx, time.Now()); err != nil {
		log.Printf("retention sweep failed: %v", err)
	} else if deleted > 0 {
		log.Printf("retention sweep removed %d records", deleted)
	}

	// The keep-alive bridge doubles as the OS counter port for startup
	// reconciliation. Without a platform adapter its counter reports
	// unavailable and reconciliation skips cleanly.
	bridge := keepalive.NewBridge(keepalive.NoopService{}, nil, time.Second)

	reconciler := reconcile.NewReconciler(bridge, database, nil, reconcile.Options{})
	if recovered, err := reconciler.Reconcile(ctx); err != nil {
		log.Printf("reconciliation failed: %v", err)
	} else if recovered != nil {
		rec := db.StepRecord{
			StepCount: recovered.Steps,
			FromTime:  recovered.From,
			ToTime:    recovered.To,
			Source:    db.SourceTerminated,
		}
		if _, err := store.Insert(ctx, rec); err != nil {
			log.Printf("failed to store recovered steps: %v", err)
		} else {
			log.Printf("recovered %d steps from [%v, %v)", recovered.Steps, recovered.From, recovered.To)
		}
	}

	session, err := pedometer.NewSession(cfg, store, nil)
	if err != nil {
		log.Fatalf("Failed to create detection session: %v", err)
	}

	var wg sync.WaitGroup

	// Pump the motion source.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("motion source stopped: %v", err)
		}
		log.Print("motion source routine terminated")
	}()

	// Route samples into the detection pipeline.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case sample, ok := <-source.Samples():
				if !ok {
					log.Print("sample routine terminated: source closed")
					return
				}
				if sample.At.IsZero() {
					sample.At = time.Now()
				}
				session.HandleSample(sample)
			case <-ctx.Done():
				log.Print("sample routine terminated")
				return
			}
		}
	}()

	// Flush committed records on the configured interval.
	flusher := pedometer.NewFlusher(session, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := flusher.Run(ctx); err != nil {
			log.Printf("flusher stopped: %v", err)
		}
	}()

	// HTTP server.
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		apiServer := api.NewServer(store, session)
		mux.Handle("/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	// Final synchronous flush so a clean shutdown never drops confirmed steps.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		log.Printf("session stop: %v", err)
	}

	log.Printf("Graceful shutdown complete")
}
