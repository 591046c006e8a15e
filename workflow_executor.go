package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ========================================
// NodeExecutor - per-node dispatch
// ========================================
// Executes exactly one node and reports its outcome. Validates the config
// before touching the device, applies the node's retry policy, and reports
// every status transition through the Execution State Store.

// NodeResult carries a node's outcome back to the runner.
type NodeResult struct {
	// Branch is set for condition nodes only.
	Branch *bool
	// Result is attached to the log entry (screenshot path, match data).
	Result interface{}
}

// NodeExecutor dispatches nodes to the device action adapter.
type NodeExecutor struct {
	actions       DeviceActions
	store         *ExecutionStateStore
	screenshotDir string
	// element poll cadence for wait arise/vanish nodes
	pollInterval time.Duration
}

// NewNodeExecutor wires dispatch to the adapter and state store.
func NewNodeExecutor(actions DeviceActions, store *ExecutionStateStore, screenshotDir string) *NodeExecutor {
	return &NodeExecutor{
		actions:       actions,
		store:         store,
		screenshotDir: screenshotDir,
		pollInterval:  500 * time.Millisecond,
	}
}

// Execute runs one node within a graph walk: status transitions and one log
// entry per attempt go through the store; only the final outcome updates the
// node's status. An abort observed before the node starts or between retries
// returns ErrAborted without marking the node.
func (e *NodeExecutor) Execute(ctx context.Context, node Node, connKey string) (NodeResult, error) {
	if ctx.Err() != nil {
		return NodeResult{}, ErrAborted
	}

	if err := node.ValidateConfig(); err != nil {
		cfgErr := &ConfigError{NodeID: node.ID, Reason: err.Error()}
		e.store.UpdateNodeStatus(node.ID, StatusError)
		e.store.AddExecutionLog(LogEntry{
			NodeID:  node.ID,
			Status:  StatusError,
			Message: "configuration error",
			Error:   cfgErr.Error(),
		})
		return NodeResult{}, cfgErr
	}

	e.store.UpdateNodeStatus(node.ID, StatusRunning)

	retries := node.Config.RetryCount
	waitTime := time.Duration(node.Config.WaitTime) * time.Millisecond
	vars := e.store.Snapshot().Variables

	var res NodeResult
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		started := time.Now()
		res, err = e.executeOnce(ctx, node, connKey, vars)
		duration := time.Since(started).Milliseconds()

		if err == nil {
			e.store.AddExecutionLog(LogEntry{
				NodeID:   node.ID,
				Status:   StatusSuccess,
				Message:  attemptMessage(node, attempt, retries, true),
				Duration: duration,
				Result:   res.Result,
			})
			break
		}

		e.store.AddExecutionLog(LogEntry{
			NodeID:   node.ID,
			Status:   StatusError,
			Message:  attemptMessage(node, attempt, retries, false),
			Duration: duration,
			Error:    err.Error(),
		})

		if !IsRetryable(err) || attempt == retries {
			break
		}
		if waitTime > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(waitTime):
			}
		}
		// Abort check between retries: the node is left as it is and the
		// run stops.
		if ctx.Err() != nil {
			return NodeResult{}, ErrAborted
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return NodeResult{}, ErrAborted
		}
		e.store.UpdateNodeStatus(node.ID, StatusError)
		return NodeResult{}, err
	}
	e.store.UpdateNodeStatus(node.ID, StatusSuccess)
	return res, nil
}

// ExecuteDetached runs one node without touching the state store. The
// single-node debug path wraps it in the store's start/complete/fail
// convenience transitions so an isolated run produces exactly those entries.
func (e *NodeExecutor) ExecuteDetached(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	if err := node.ValidateConfig(); err != nil {
		return NodeResult{}, &ConfigError{NodeID: node.ID, Reason: err.Error()}
	}

	retries := node.Config.RetryCount
	waitTime := time.Duration(node.Config.WaitTime) * time.Millisecond

	var res NodeResult
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		res, err = e.executeOnce(ctx, node, connKey, vars)
		if err == nil || !IsRetryable(err) || attempt == retries {
			break
		}
		if waitTime > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(waitTime):
			}
		}
		if ctx.Err() != nil {
			return NodeResult{}, ErrAborted
		}
	}
	return res, err
}

func attemptMessage(node Node, attempt, retries int, ok bool) string {
	name := node.Name
	if name == "" {
		name = string(node.Type)
	}
	if ok {
		if attempt == 0 {
			return fmt.Sprintf("%s succeeded", name)
		}
		return fmt.Sprintf("%s succeeded on attempt %d/%d", name, attempt+1, retries+1)
	}
	return fmt.Sprintf("%s failed (attempt %d/%d)", name, attempt+1, retries+1)
}

// ========================================
// Per-kind handlers
// ========================================

func (e *NodeExecutor) executeOnce(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	switch node.Type {
	case NodeStart:
		return e.execStart(ctx, node, connKey, vars)
	case NodeClose:
		return e.execClose(ctx, node, connKey, vars)
	case NodeClick:
		return e.execClick(ctx, node, connKey, vars)
	case NodeInput:
		return e.execInput(ctx, node, connKey, vars)
	case NodeSwipe:
		return e.execSwipe(ctx, node, connKey)
	case NodeScroll:
		return e.execScroll(ctx, node, connKey)
	case NodeWait:
		return e.execWait(ctx, node, connKey, vars)
	case NodeScreenshot:
		return e.execScreenshot(ctx, node, connKey)
	case NodeCondition:
		return e.execCondition(ctx, node, connKey, vars)
	case NodeLoop:
		// Loop routing is the walker's job; visiting the node itself has
		// no device side effect.
		return NodeResult{}, nil
	default:
		return NodeResult{}, &ConfigError{NodeID: node.ID, Reason: fmt.Sprintf("unknown node type: %s", node.Type)}
	}
}

func (e *NodeExecutor) execStart(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	cfg := node.Config.Start
	if cfg == nil || cfg.Package == "" {
		return NodeResult{}, nil
	}
	pkg := ExpandVariables(cfg.Package, vars)
	if err := e.actions.LaunchApp(ctx, connKey, pkg, cfg.Activity); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "launch app", Err: err}
	}
	return NodeResult{}, nil
}

func (e *NodeExecutor) execClose(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	pkg := ExpandVariables(node.Config.Close.Package, vars)
	if err := e.actions.StopApp(ctx, connKey, pkg); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "stop app", Err: err}
	}
	return NodeResult{}, nil
}

func (e *NodeExecutor) execClick(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	cfg := node.Config.Click
	x, y, err := e.resolveTarget(ctx, node.ID, connKey, cfg.Selector, cfg.X, cfg.Y, vars)
	if err != nil {
		return NodeResult{}, err
	}

	switch cfg.ClickType {
	case "", "single":
		err = e.actions.Tap(ctx, connKey, x, y)
	case "double":
		err = e.actions.DoubleTap(ctx, connKey, x, y)
	case "long":
		err = e.actions.LongPress(ctx, connKey, x, y, 1000)
	default:
		return NodeResult{}, &ConfigError{NodeID: node.ID, Reason: fmt.Sprintf("invalid click type: %s", cfg.ClickType)}
	}
	if err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "tap", Err: err}
	}
	return NodeResult{}, nil
}

func (e *NodeExecutor) execInput(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	cfg := node.Config.Input
	x, y, err := e.resolveTarget(ctx, node.ID, connKey, cfg.Selector, cfg.X, cfg.Y, vars)
	if err != nil {
		return NodeResult{}, err
	}

	// Tap to focus the field before typing.
	if err := e.actions.Tap(ctx, connKey, x, y); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "focus", Err: err}
	}
	time.Sleep(300 * time.Millisecond)

	if cfg.ClearFirst {
		if err := e.actions.ClearTextField(ctx, connKey); err != nil {
			return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "clear field", Err: err}
		}
	}

	text := ExpandVariables(cfg.Text, vars)
	if err := e.actions.InputText(ctx, connKey, text); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "input text", Err: err}
	}
	return NodeResult{}, nil
}

func (e *NodeExecutor) execSwipe(ctx context.Context, node Node, connKey string) (NodeResult, error) {
	cfg := node.Config.Swipe
	if err := e.actions.Swipe(ctx, connKey, cfg.StartX, cfg.StartY, cfg.EndX, cfg.EndY, cfg.Duration); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "swipe", Err: err}
	}
	return NodeResult{}, nil
}

func (e *NodeExecutor) execScroll(ctx context.Context, node Node, connKey string) (NodeResult, error) {
	cfg := node.Config.Scroll
	w, h, err := e.actions.ScreenSize(ctx, connKey)
	if err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "screen size", Err: err}
	}

	count := cfg.Count
	if count <= 0 {
		count = 1
	}
	dist := cfg.Distance
	if dist <= 0 {
		if cfg.Direction == "left" || cfg.Direction == "right" {
			dist = w / 2
		} else {
			dist = h / 3
		}
	}

	cx, cy := w/2, h/2
	x2, y2 := cx, cy
	switch cfg.Direction {
	case "up": // scroll content up = swipe finger upward
		y2 = cy - dist
	case "down":
		y2 = cy + dist
	case "left":
		x2 = cx - dist
	case "right":
		x2 = cx + dist
	}

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return NodeResult{}, ErrAborted
		}
		if err := e.actions.Swipe(ctx, connKey, cx, cy, x2, y2, 300); err != nil {
			return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "scroll", Err: err}
		}
		if i < count-1 {
			time.Sleep(300 * time.Millisecond)
		}
	}
	return NodeResult{}, nil
}

func (e *NodeExecutor) execWait(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	cfg := node.Config.Wait
	timeout := waitDuration(cfg.Duration, cfg.Unit)

	switch cfg.WaitType {
	case "", "fixed":
		select {
		case <-ctx.Done():
			return NodeResult{}, ErrAborted
		case <-time.After(timeout):
			return NodeResult{}, nil
		}

	case "arise", "vanish":
		wantPresent := cfg.WaitType == "arise"
		selector := resolvedSelector(cfg.Selector, vars)
		deadline := time.Now().Add(timeout)
		for {
			// The poll itself finishes even when an abort arrives; the
			// flag is observed at the next suspension point.
			if ctx.Err() != nil {
				return NodeResult{}, ErrAborted
			}
			found, err := e.actions.QueryElement(ctx, connKey, selector)
			if err != nil && ctx.Err() != nil {
				return NodeResult{}, ErrAborted
			}
			if err == nil && (found != nil) == wantPresent {
				return NodeResult{}, nil
			}
			if time.Now().After(deadline) {
				verb := "appear"
				if !wantPresent {
					verb = "vanish"
				}
				return NodeResult{}, &DeviceError{
					NodeID: node.ID,
					Op:     "wait " + cfg.WaitType,
					Err:    fmt.Errorf("element did not %s within %s", verb, timeout),
				}
			}
			select {
			case <-ctx.Done():
			case <-time.After(e.pollInterval):
			}
		}
	}
	return NodeResult{}, &ConfigError{NodeID: node.ID, Reason: fmt.Sprintf("invalid wait type: %s", cfg.WaitType)}
}

func (e *NodeExecutor) execScreenshot(ctx context.Context, node Node, connKey string) (NodeResult, error) {
	data, err := e.actions.Screenshot(ctx, connKey)
	if err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "screenshot", Err: err}
	}

	savePath := ""
	if node.Config.Screenshot != nil {
		savePath = node.Config.Screenshot.SavePath
	}
	if savePath == "" {
		savePath = filepath.Join(e.screenshotDir, fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405.000")))
	}
	if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "screenshot", Err: err}
	}
	if err := os.WriteFile(savePath, data, 0644); err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "screenshot", Err: err}
	}

	// Capture result stays in the log entry, not in the variables.
	return NodeResult{Result: map[string]interface{}{
		"path": savePath,
		"size": len(data),
	}}, nil
}

func (e *NodeExecutor) execCondition(ctx context.Context, node Node, connKey string, vars map[string]interface{}) (NodeResult, error) {
	cfg := node.Config.Condition

	if cfg.Template != "" {
		match, err := e.actions.MatchTemplate(ctx, connKey, cfg.Template, cfg.Threshold)
		if err != nil {
			return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "template match", Err: err}
		}
		found := match.Found
		return NodeResult{Branch: &found, Result: match}, nil
	}

	selector := resolvedSelector(cfg.Selector, vars)
	elem, err := e.actions.QueryElement(ctx, connKey, selector)
	if err != nil {
		return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "query element", Err: err}
	}

	var result bool
	switch cfg.Operator {
	case "exists":
		result = elem != nil
	case "not_exists":
		result = elem == nil
	case "visible":
		result = elem != nil && visibleBounds(elem)
	case "enabled":
		result = elem != nil && elem.Enabled == "true"
	case "equals", "contains", "greater", "less":
		if elem == nil {
			// Predicate needs the element's attributes; its absence is an
			// evaluation failure, subject to the node's retry policy.
			return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "condition", Err: fmt.Errorf("element not found for operator %q", cfg.Operator)}
		}
		actual := NodeAttribute(elem, cfg.Attribute)
		expected := ExpandVariables(cfg.Value, vars)
		result, err = compareAttribute(cfg.Operator, actual, expected)
		if err != nil {
			return NodeResult{}, &DeviceError{NodeID: node.ID, Op: "condition", Err: err}
		}
	}
	return NodeResult{Branch: &result}, nil
}

// ========================================
// Helpers
// ========================================

// resolveTarget picks the tap point: a non-empty selector takes precedence
// over raw coordinates.
func (e *NodeExecutor) resolveTarget(ctx context.Context, nodeID, connKey string, selector *ElementSelector, x, y *int, vars map[string]interface{}) (int, int, error) {
	if selector != nil && selector.Value != "" {
		sel := resolvedSelector(selector, vars)
		elem, err := e.actions.QueryElement(ctx, connKey, sel)
		if err != nil {
			return 0, 0, &DeviceError{NodeID: nodeID, Op: "query element", Err: err}
		}
		if elem == nil {
			return 0, 0, &DeviceError{NodeID: nodeID, Op: "query element", Err: fmt.Errorf("element not found: %s=%s", sel.Type, sel.Value)}
		}
		bounds, err := ParseBounds(elem.Bounds)
		if err != nil {
			return 0, 0, &DeviceError{NodeID: nodeID, Op: "query element", Err: err}
		}
		cx, cy := bounds.Center()
		return cx, cy, nil
	}
	return *x, *y, nil
}

// resolvedSelector applies variable templating to the selector value.
func resolvedSelector(s *ElementSelector, vars map[string]interface{}) *ElementSelector {
	if s == nil {
		return nil
	}
	out := *s
	out.Value = ExpandVariables(s.Value, vars)
	return &out
}

func visibleBounds(n *UINode) bool {
	b, err := ParseBounds(n.Bounds)
	return err == nil && !b.Empty()
}

func waitDuration(duration int, unit string) time.Duration {
	d := time.Duration(duration) * time.Millisecond
	if strings.EqualFold(unit, "s") || strings.EqualFold(unit, "sec") || strings.EqualFold(unit, "seconds") {
		d = time.Duration(duration) * time.Second
	}
	return d
}

func compareAttribute(op, actual, expected string) (bool, error) {
	switch op {
	case "equals":
		return actual == expected, nil
	case "contains":
		return strings.Contains(actual, expected), nil
	case "greater", "less":
		a, err1 := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, err2 := strconv.ParseFloat(strings.TrimSpace(expected), 64)
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("operator %q requires numeric values, got %q and %q", op, actual, expected)
		}
		if op == "greater" {
			return a > b, nil
		}
		return a < b, nil
	}
	return false, fmt.Errorf("unknown operator: %s", op)
}
