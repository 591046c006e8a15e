package main

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	watcherSettleDelay = 300 * time.Millisecond
	watcherMuteWindow  = 500 * time.Millisecond
)

// WorkflowWatcher notifies the frontend when workflow files change on disk
// outside the app, e.g. edits from another tool or a sync client. Events for
// the same file are coalesced until the directory settles.
type WorkflowWatcher struct {
	app  *App
	fw   *fsnotify.Watcher
	done chan struct{}

	mu         sync.Mutex
	pending    map[string]string // workflow id -> last action
	flush      *time.Timer
	quietUntil time.Time
}

// NewWorkflowWatcher creates a watcher for the app's workflows directory
func NewWorkflowWatcher(app *App) *WorkflowWatcher {
	return &WorkflowWatcher{
		app:     app,
		done:    make(chan struct{}),
		pending: make(map[string]string),
	}
}

// Start begins watching the workflows directory
func (w *WorkflowWatcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := w.app.getWorkflowsPath()
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}
	w.fw = fw

	LogInfo("workflow_watcher").Str("path", dir).Msg("Watching workflows directory")

	go w.loop()
	return nil
}

// Stop shuts the watcher down
func (w *WorkflowWatcher) Stop() {
	if w.fw == nil {
		return
	}
	close(w.done)
	w.fw.Close()

	w.mu.Lock()
	if w.flush != nil {
		w.flush.Stop()
	}
	w.mu.Unlock()
}

// MuteBriefly suppresses change notifications for writes the app itself is
// about to perform. Called before SaveWorkflow/DeleteWorkflow touch disk.
func (w *WorkflowWatcher) MuteBriefly() {
	w.mu.Lock()
	w.quietUntil = time.Now().Add(watcherMuteWindow)
	w.mu.Unlock()
}

func (w *WorkflowWatcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			id := strings.TrimSuffix(filepath.Base(event.Name), ".json")

			var action string
			switch {
			case event.Has(fsnotify.Create):
				action = "create"
			case event.Has(fsnotify.Write):
				action = "save"
			// Rename shows up for atomic replace-by-rename writes too, the
			// reload on the frontend sorts out which it was.
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				action = "delete"
			default:
				continue
			}
			w.record(id, action)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			LogError("workflow_watcher").Err(err).Msg("Watcher error")
		}
	}
}

// record queues a change and (re)arms the settle timer
func (w *WorkflowWatcher) record(id, action string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Now().Before(w.quietUntil) {
		return
	}

	w.pending[id] = action
	if w.flush != nil {
		w.flush.Stop()
	}
	w.flush = time.AfterFunc(watcherSettleDelay, w.flushPending)
}

// flushPending emits one workflow-list-changed event per coalesced change
func (w *WorkflowWatcher) flushPending() {
	w.mu.Lock()
	changes := w.pending
	w.pending = make(map[string]string)
	w.mu.Unlock()

	if w.app.ctx == nil {
		return
	}
	for id, action := range changes {
		wailsRuntime.EventsEmit(w.app.ctx, "workflow-list-changed", map[string]interface{}{
			"action":     action,
			"workflowId": id,
			"external":   true,
		})
		LogDebug("workflow_watcher").
			Str("action", action).
			Str("workflowId", id).
			Msg("External workflow change")
	}
}
