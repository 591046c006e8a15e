package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"Scout/pkg/cache"
)

// App struct
type App struct {
	ctx         context.Context
	adbPath     string
	matcherPath string
	dataDir     string

	// Generic mutex for shared state
	mu sync.Mutex

	version string

	// Workflow engine
	workflowState  *ExecutionStateStore
	workflowRunner *WorkflowRunner
	deviceActions  DeviceActions

	// Execution history
	history *HistoryStore

	// External workflow file changes
	workflowWatcher *WorkflowWatcher

	// Persistent user settings
	settings *cache.Service
}

// NewApp creates a new App instance
func NewApp(version string) *App {
	return &App{
		version: version,
	}
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	a.initDataDir()
	if err := InitLogger(PersistentLogConfig(a.dataDir)); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		_ = InitLogger(DefaultLogConfig())
	}

	a.setupBinaries()
	a.initSettings()
	a.initWorkflowEngine()
	a.initHistoryStore()

	a.workflowWatcher = NewWorkflowWatcher(a)
	if err := a.workflowWatcher.Start(); err != nil {
		LogWarn("app").Err(err).Msg("Failed to start workflow watcher")
	}

	LogInfo("app").Str("version", a.version).Msg("Application started")
}

// Shutdown is called when the application is closing
func (a *App) Shutdown(ctx context.Context) {
	if a.workflowRunner != nil {
		a.workflowRunner.Stop()
	}
	if a.workflowWatcher != nil {
		a.workflowWatcher.Stop()
	}
	if a.workflowState != nil {
		a.workflowState.Cleanup()
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.settings != nil {
		_ = a.settings.Close()
	}
	CloseLogger()
}

// initDataDir resolves the per-user application data directory
func (a *App) initDataDir() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	a.dataDir = filepath.Join(configDir, "Scout")
	_ = os.MkdirAll(a.dataDir, 0755)
	_ = os.MkdirAll(filepath.Join(a.dataDir, "screenshots"), 0755)
}

// setupBinaries locates adb and the optional template matcher helper
func (a *App) setupBinaries() {
	if path, err := exec.LookPath("adb"); err == nil {
		a.adbPath = path
		LogInfo("app").Str("path", a.adbPath).Msg("Using system adb found in PATH")
	} else {
		LogWarn("app").Msg("adb not found in PATH, device features unavailable")
	}

	// The matcher is shipped next to the executable, not required for
	// selector-based workflows.
	matcherName := "scout-matcher"
	if runtime.GOOS == "windows" {
		matcherName += ".exe"
	}
	if exePath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exePath), matcherName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			a.matcherPath = candidate
		}
	}
	if a.matcherPath == "" {
		if path, err := exec.LookPath(matcherName); err == nil {
			a.matcherPath = path
		}
	}
	if a.matcherPath != "" {
		LogInfo("app").Str("path", a.matcherPath).Msg("Template matcher available")
	}
}

// initWorkflowEngine wires the execution state store, device actions and
// runner, and bridges state changes to the frontend.
func (a *App) initWorkflowEngine() {
	a.workflowState = NewExecutionStateStore()
	a.deviceActions = NewADBActions(a)
	a.workflowRunner = NewWorkflowRunner(a.deviceActions, a.workflowState, filepath.Join(a.dataDir, "screenshots"))

	// Node status changes cross the process boundary before local fan-out
	a.workflowState.SetStatusSync(func(nodeID string, status NodeStatus) {
		if a.ctx == nil {
			return
		}
		wailsRuntime.EventsEmit(a.ctx, "workflow-node-status", map[string]interface{}{
			"nodeId": nodeID,
			"status": string(status),
		})
	})

	// Full context snapshots for the editor panel
	a.workflowState.Subscribe(func(snapshot ExecutionContext) {
		if a.ctx == nil {
			return
		}
		wailsRuntime.EventsEmit(a.ctx, "workflow-context-update", snapshot)
	})

	a.workflowRunner.SetOnFinish(func(summary RunSummary) {
		if a.history != nil {
			if err := a.history.SaveRun(summary); err != nil {
				HistoryLog().Err(err).Str("runId", summary.RunID).Msg("Failed to persist run")
			}
		}
		if a.ctx != nil {
			wailsRuntime.EventsEmit(a.ctx, "workflow-finished", map[string]interface{}{
				"runId": summary.RunID,
				"state": string(summary.State),
				"error": summary.Error,
			})
		}
	})
}

// initSettings loads persisted user settings from the data directory
func (a *App) initSettings() {
	svc, err := cache.New(cache.Config{
		ConfigDir: a.dataDir,
		LogFunc: func(format string, args ...interface{}) {
			LogWarn("settings").Msgf(format, args...)
		},
	})
	if err != nil {
		LogWarn("settings").Err(err).Msg("Failed to init settings, preferences disabled")
		return
	}
	a.settings = svc
}

// initHistoryStore opens the sqlite-backed run history
func (a *App) initHistoryStore() {
	store, err := NewHistoryStore(filepath.Join(a.dataDir, "history.db"))
	if err != nil {
		HistoryLog().Err(err).Msg("Failed to open history store, run history disabled")
		return
	}
	a.history = store
}

// GetVersion returns the application version
func (a *App) GetVersion() string {
	return a.version
}

// GetPinnedDevice returns the serial of the device pinned in the UI
func (a *App) GetPinnedDevice() string {
	if a.settings == nil {
		return ""
	}
	return a.settings.GetPinnedSerial()
}

// SetPinnedDevice pins a device serial so it is preselected on startup
func (a *App) SetPinnedDevice(serial string) {
	if a.settings == nil {
		return
	}
	a.settings.SetPinnedSerial(serial)
	if err := a.settings.SaveSettings(); err != nil {
		LogWarn("settings").Err(err).Msg("Failed to save settings")
	}
}

// GetLastWorkflow returns the id of the workflow open when the app last closed
func (a *App) GetLastWorkflow() string {
	if a.settings == nil {
		return ""
	}
	return a.settings.GetLastWorkflow()
}

// SetLastWorkflow records the currently open workflow
func (a *App) SetLastWorkflow(id string) {
	if a.settings == nil {
		return
	}
	a.settings.SetLastWorkflow(id)
}

// GetDeviceLastActive returns per-device timestamps of the most recent run
func (a *App) GetDeviceLastActive() map[string]int64 {
	if a.settings == nil {
		return map[string]int64{}
	}
	return a.settings.GetAllLastActive()
}

// Log appends a runtime log line visible to the frontend
func (a *App) Log(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	if msg == "" {
		return
	}
	LogInfo("app").Msg(msg)
}
