package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"capture-library/internal/cleanup"
	"capture-library/internal/handlers"
	"capture-library/internal/library"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"
	"capture-library/internal/middleware"
	"capture-library/internal/ocr"
	"capture-library/internal/reindex"
	"capture-library/internal/startup"

	"github.com/gorilla/mux"
)

const (
	shutdownTimeout   = 30 * time.Second
	collectorInterval = time.Minute
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", os.Getenv("CAPTURE_CONFIG"), "path to a TOML config file")
	flag.Parse()

	startup.LogBanner()

	// Load configuration
	config, err := startup.LoadConfig(*configPath)
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	startup.LogConfig(config, *configPath)

	if err := startup.PrepareLibraryDir(config.LibraryDir); err != nil {
		startup.LogFatal("Library directory error: %v", err)
	}

	metrics.InitializeMetrics()

	// Initialize OCR backend
	rec, backend, err := ocr.Detect()
	startup.LogRecognizerInit(backend, err)

	lib := library.New(config.LibraryConfig(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize reindex coordinator
	coord := newCoordinator(lib, rec, config)
	startup.LogReindexInit(config.ReindexEnabled, config.OCRLanguages, time.Duration(config.ReindexDebounce))
	if config.ReindexEnabled {
		if err := coord.Resume(ctx, config.OCRLanguages); err != nil {
			logging.Error("Failed to resume OCR reindex: %v", err)
		}
	}

	// Initialize cleanup scheduler
	policy := config.CleanupPolicy()
	startup.LogCleanupInit(config.CleanupSchedule, policy.RetentionDays > 0 || policy.MaxItems > 0 || policy.MaxBytes > 0)
	sched := cleanup.NewScheduler(lib)
	if err := sched.Start(config.CleanupSchedule); err != nil {
		startup.LogFatal("Invalid cleanup schedule %q: %v", config.CleanupSchedule, err)
	}

	collector := metrics.NewCollector(lib, collectorInterval)
	collector.Start()

	var srv *http.Server
	if config.ListenAddr != "" {
		router := setupRouter(handlers.New(lib), config.MetricsEnabled)
		startup.LogHTTPRoutes(router)
		srv = newServer(config.ListenAddr, router)
	}

	go handleSignals(ctx, *configPath, lib, coord, config)

	startup.LogServerStarted(startup.ServerConfig{
		ListenAddr:      config.ListenAddr,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if srv != nil {
		go func() {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				startup.LogFatal("Server error: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	startup.LogShutdownInitiated(sig.String())
	shutdown(srv, cancel, coord, sched, collector, lib)
}

func newCoordinator(lib *library.Library, rec ocr.Recognizer, config *startup.Config) *reindex.Coordinator {
	return reindex.New(lib.Indexing(), rec, &reindex.Options{
		Debounce: time.Duration(config.ReindexDebounce),
		Busy:     func(err error) bool { return errors.Is(err, library.ErrQueueFull) },
	})
}

func setupRouter(h *handlers.Handlers, withMetrics bool) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	h.Routes(r, withMetrics)
	return r
}

func newServer(addr string, router *mux.Router) *http.Server {
	handler := middleware.Logger(middleware.DefaultLoggingConfig())(router)
	return &http.Server{
		Addr:         addr,
		Handler:      middleware.LoopbackOnly(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// handleSignals reloads the config file on SIGHUP. Changed limits apply to
// the next cleanup pass; a changed language set schedules a reindex.
func handleSignals(ctx context.Context, path string, lib *library.Library, coord *reindex.Coordinator, current *startup.Config) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := startup.LoadConfig(path)
		if err != nil {
			logging.Error("Config reload failed, keeping current settings: %v", err)
			continue
		}
		current = applyReload(lib, coord, current, next)
	}
}

// applyReload pushes the reloadable settings of next into the running
// components and returns the config now in effect.
func applyReload(lib *library.Library, coord *reindex.Coordinator, current, next *startup.Config) *startup.Config {
	if next.LibraryDir != current.LibraryDir || next.ListenAddr != current.ListenAddr {
		logging.Warn("library_dir and listen_addr changes take effect after a restart")
	}

	if p := next.CleanupPolicy(); p != lib.CleanupPolicy() {
		lib.SetCleanupPolicy(p)
		logging.Info("Cleanup policy updated: retention %d days, %d items, %d bytes", p.RetentionDays, p.MaxItems, p.MaxBytes)
	}

	if !slices.Equal(next.OCRLanguages, current.OCRLanguages) {
		lib.SetOCRLanguages(next.OCRLanguages)
		if next.ReindexEnabled {
			coord.LanguagesChanged(next.OCRLanguages)
		}
		logging.Info("OCR languages updated: %v", next.OCRLanguages)
	}

	reloaded := *current
	reloaded.RetentionDays = next.RetentionDays
	reloaded.MaxItems = next.MaxItems
	reloaded.MaxBytes = next.MaxBytes
	reloaded.OCRLanguages = next.OCRLanguages
	return &reloaded
}

func shutdown(srv *http.Server, cancel context.CancelFunc, coord *reindex.Coordinator, sched *cleanup.Scheduler, collector *metrics.Collector, lib *library.Library) {
	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if srv != nil {
		startup.LogShutdownStep("Shutting down HTTP server")
		if err := srv.Shutdown(ctx); err != nil {
			logging.Warn("Server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("HTTP server stopped")
		}
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	startup.LogShutdownStep("Stopping cleanup scheduler")
	sched.Stop()
	startup.LogShutdownStepComplete("Cleanup scheduler stopped")

	startup.LogShutdownStep("Stopping OCR reindex")
	coord.Stop()
	cancel()
	coord.Wait()
	startup.LogShutdownStepComplete("OCR reindex stopped")

	startup.LogShutdownStep("Closing library")
	lib.Close()
	startup.LogShutdownStepComplete("Library closed")

	startup.LogShutdownComplete()
}
