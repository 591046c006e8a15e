package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// ========================================
// DeviceActions - device bridge adapter
// ========================================
// One primitive action per call, keyed by the device connection id.
// Stateless per call; any call can fail with a connectivity error.

// DeviceActions executes primitive actions against a connected device
// session.
type DeviceActions interface {
	Tap(ctx context.Context, connKey string, x, y int) error
	DoubleTap(ctx context.Context, connKey string, x, y int) error
	LongPress(ctx context.Context, connKey string, x, y, durationMs int) error
	Swipe(ctx context.Context, connKey string, x1, y1, x2, y2, durationMs int) error
	InputText(ctx context.Context, connKey string, text string) error
	ClearTextField(ctx context.Context, connKey string) error
	KeyEvent(ctx context.Context, connKey string, keyCode int) error
	GoBack(ctx context.Context, connKey string) error
	GoHome(ctx context.Context, connKey string) error
	LaunchApp(ctx context.Context, connKey, pkg, activity string) error
	StopApp(ctx context.Context, connKey, pkg string) error
	Screenshot(ctx context.Context, connKey string) ([]byte, error)
	MatchTemplate(ctx context.Context, connKey, templatePath string, threshold float64) (TemplateMatchResult, error)
	// QueryElement returns the matched element or (nil, nil) when absent.
	QueryElement(ctx context.Context, connKey string, selector *ElementSelector) (*UINode, error)
	ScreenSize(ctx context.Context, connKey string) (int, int, error)
}

// Android key codes used by the adapter.
const (
	keyCodeHome = 3
	keyCodeBack = 4
)

// adbActions is the production adapter backed by the adb binary.
type adbActions struct {
	app *App
	// UI hierarchy dumps are the most expensive adb round trip by far;
	// throttle them so condition/wait polling cannot saturate the bridge.
	dumpLimiter *rate.Limiter
}

// NewADBActions creates the adb-backed adapter.
func NewADBActions(app *App) DeviceActions {
	return &adbActions{
		app:         app,
		dumpLimiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 1),
	}
}

func (d *adbActions) Tap(ctx context.Context, connKey string, x, y int) error {
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey, fmt.Sprintf("shell input tap %d %d", x, y))
	return err
}

func (d *adbActions) DoubleTap(ctx context.Context, connKey string, x, y int) error {
	if err := d.Tap(ctx, connKey, x, y); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return d.Tap(ctx, connKey, x, y)
}

func (d *adbActions) LongPress(ctx context.Context, connKey string, x, y, durationMs int) error {
	if durationMs <= 0 {
		durationMs = 1000
	}
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey,
		fmt.Sprintf("shell input swipe %d %d %d %d %d", x, y, x, y, durationMs))
	return err
}

func (d *adbActions) Swipe(ctx context.Context, connKey string, x1, y1, x2, y2, durationMs int) error {
	if durationMs <= 0 {
		durationMs = 300
	}
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey,
		fmt.Sprintf("shell input swipe %d %d %d %d %d", x1, y1, x2, y2, durationMs))
	return err
}

func (d *adbActions) InputText(ctx context.Context, connKey string, text string) error {
	// `input text` chokes on spaces and quotes.
	text = strings.ReplaceAll(text, " ", "%s")
	text = strings.ReplaceAll(text, "'", "\\'")
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey, fmt.Sprintf("shell input text '%s'", text))
	return err
}

// ClearTextField empties the focused input: select-all via long-pressed
// KEYCODE_A, then delete.
func (d *adbActions) ClearTextField(ctx context.Context, connKey string) error {
	if _, err := d.app.RunAdbCommandWithContext(ctx, connKey, "shell input keyevent --longpress 29"); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey, "shell input keyevent 67")
	return err
}

func (d *adbActions) KeyEvent(ctx context.Context, connKey string, keyCode int) error {
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey, fmt.Sprintf("shell input keyevent %d", keyCode))
	return err
}

func (d *adbActions) GoBack(ctx context.Context, connKey string) error {
	return d.KeyEvent(ctx, connKey, keyCodeBack)
}

func (d *adbActions) GoHome(ctx context.Context, connKey string) error {
	return d.KeyEvent(ctx, connKey, keyCodeHome)
}

func (d *adbActions) LaunchApp(ctx context.Context, connKey, pkg, activity string) error {
	var cmd string
	if activity != "" {
		cmd = fmt.Sprintf("shell am start -n %s/%s", pkg, activity)
	} else {
		cmd = fmt.Sprintf("shell monkey -p %s -c android.intent.category.LAUNCHER 1", pkg)
	}
	out, err := d.app.RunAdbCommandWithContext(ctx, connKey, cmd)
	if err != nil {
		return err
	}
	if strings.Contains(out, "Error") || strings.Contains(out, "No activities found") {
		return fmt.Errorf("failed to launch %s: %s", pkg, out)
	}
	return nil
}

func (d *adbActions) StopApp(ctx context.Context, connKey, pkg string) error {
	_, err := d.app.RunAdbCommandWithContext(ctx, connKey, fmt.Sprintf("shell am force-stop %s", pkg))
	return err
}

// Screenshot captures the screen as PNG bytes via exec-out, bypassing the
// text-mode command path which would mangle binary output.
func (d *adbActions) Screenshot(ctx context.Context, connKey string) ([]byte, error) {
	if err := ValidateDeviceID(connKey); err != nil {
		return nil, fmt.Errorf("invalid device ID: %w", err)
	}
	cmd := d.app.newAdbCommand(ctx, "-s", connKey, "exec-out", "screencap", "-p")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	if len(out) < 8 || out[1] != 'P' || out[2] != 'N' || out[3] != 'G' {
		return nil, fmt.Errorf("screencap returned %d bytes of non-PNG data", len(out))
	}
	return out, nil
}

// MatchTemplate captures the screen and runs the bundled matcher tool, which
// prints a JSON result on stdout.
func (d *adbActions) MatchTemplate(ctx context.Context, connKey, templatePath string, threshold float64) (TemplateMatchResult, error) {
	if threshold <= 0 {
		threshold = 0.8
	}
	if d.app.matcherPath == "" {
		return TemplateMatchResult{}, fmt.Errorf("template matcher tool not available")
	}

	screenshot, err := d.Screenshot(ctx, connKey)
	if err != nil {
		return TemplateMatchResult{}, err
	}
	tmpFile := filepath.Join(os.TempDir(), fmt.Sprintf("scout_match_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(tmpFile, screenshot, 0644); err != nil {
		return TemplateMatchResult{}, fmt.Errorf("failed to write screenshot: %w", err)
	}
	defer os.Remove(tmpFile)

	cmd := d.app.newToolCommand(ctx, d.app.matcherPath,
		"--screenshot", tmpFile,
		"--template", templatePath,
		"--threshold", strconv.FormatFloat(threshold, 'f', 2, 64))
	out, err := cmd.Output()
	if err != nil {
		return TemplateMatchResult{}, fmt.Errorf("template match failed: %w", err)
	}

	js := gjson.ParseBytes(out)
	if !js.Exists() || !js.Get("found").Exists() {
		return TemplateMatchResult{}, fmt.Errorf("template matcher returned malformed output")
	}
	res := TemplateMatchResult{
		Found:      js.Get("found").Bool(),
		Confidence: js.Get("confidence").Float(),
		X:          int(js.Get("position.x").Int()),
		Y:          int(js.Get("position.y").Int()),
		Width:      int(js.Get("position.width").Int()),
		Height:     int(js.Get("position.height").Int()),
		CenterX:    int(js.Get("center.x").Int()),
		CenterY:    int(js.Get("center.y").Int()),
	}
	return res, nil
}

func (d *adbActions) QueryElement(ctx context.Context, connKey string, selector *ElementSelector) (*UINode, error) {
	if err := d.dumpLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	hierarchy, err := d.app.GetUIHierarchy(ctx, connKey)
	if err != nil {
		return nil, err
	}
	return FindElementBySelector(hierarchy.Root, selector), nil
}

var screenSizePattern = regexp.MustCompile(`(\d+)x(\d+)`)

func (d *adbActions) ScreenSize(ctx context.Context, connKey string) (int, int, error) {
	out, err := d.app.RunAdbCommandWithContext(ctx, connKey, "shell wm size")
	if err != nil {
		return 0, 0, err
	}
	// Prefer the override size when present; it is the last line.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := screenSizePattern.FindStringSubmatch(lines[i]); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("could not parse screen size from: %s", out)
}

// compile-time interface check
var _ DeviceActions = (*adbActions)(nil)
