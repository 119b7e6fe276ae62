package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"capture-library/internal/logging"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// LogBanner prints the banner followed by build and system information.
func LogBanner() {
	printBanner()
	logSystemInfo()
}

// PrepareLibraryDir creates the library directory if needed and checks that
// it is writable. The library cannot run without it.
func PrepareLibraryDir(dir string) error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("LIBRARY DIRECTORY")
	logging.Info("------------------------------------------------------------")

	if err := ensureDirectory(dir); err != nil {
		return fmt.Errorf("library directory error: %w", err)
	}
	logging.Debug("  Testing library directory write access...")
	if err := testWriteAccess(dir); err != nil {
		return fmt.Errorf("library directory is not writable: %w", err)
	}
	logging.Info("  [OK] %s is writable", dir)
	return nil
}

// LogRecognizerInit logs which OCR backend is in use.
func LogRecognizerInit(backend string, err error) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("OCR INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	if err != nil {
		logging.Warn("  %v", err)
		logging.Warn("  Text recognition disabled; reindex passes will only relabel items")
		return
	}
	logging.Info("  [OK] Using %s", backend)
}

// LogReindexInit logs the reindex coordinator setup.
func LogReindexInit(enabled bool, langs []string, debounce time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("REINDEX INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	if !enabled {
		logging.Info("  Reindexing disabled")
		return
	}
	logging.Info("  Target languages: %s", strings.Join(langs, ", "))
	logging.Info("  Debounce:         %v", debounce)
}

// LogCleanupInit logs the cleanup scheduler setup.
func LogCleanupInit(schedule string, enabled bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CLEANUP INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	if !enabled {
		logging.Info("  No limits configured; scheduled cleanup is idle")
	}
	logging.Info("  Schedule: %s", schedule)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes at debug level
func LogHTTPRoutes(router *mux.Router) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if !logging.IsDebugEnabled() {
		return
	}

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}
	logging.Debug("  Registered routes (%d total):", len(routes))

	groups := make(map[string][]RouteInfo)
	for _, route := range routes {
		prefix := getRouteGroup(route.Path)
		groups[prefix] = append(groups[prefix], route)
	}
	groupKeys := make([]string, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)

	for _, group := range groupKeys {
		if group != "" {
			logging.Debug("  [%s]", group)
		} else {
			logging.Debug("  [root]")
		}
		for _, route := range groups[group] {
			logging.Debug("    %-6s %s", route.Method, route.Path)
		}
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")
	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}
	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	ListenAddr      string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	if config.ListenAddr == "" {
		logging.Info("  API:             DISABLED")
	} else {
		logging.Info("  API:             http://%s/api", config.ListenAddr)
		if config.MetricsEnabled {
			logging.Info("  Metrics:         http://%s/metrics", config.ListenAddr)
		} else {
			logging.Info("  Metrics:         DISABLED")
		}
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   ______            __
  / ____/___ _____  / /___  __________
 / /   / __ '/ __ \/ __/ / / / ___/ _ \
/ /___/ /_/ / /_/ / /_/ /_/ / /  /  __/
\____/\__,_/ .___/\__/\__,_/_/   \___/  library
          /_/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
	}
	logging.Info("")
}

func ensureDirectory(path string) error {
	logging.Debug("  Checking directory: %s", path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Info("  [OK] Created %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
