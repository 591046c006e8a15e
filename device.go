package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"Scout/pkg/types"
)

// Device 设备信息 (see pkg/types)
type Device = types.Device

// deviceIDPattern 匹配 USB 序列号 ("emulator-5554") 和无线地址 ("192.168.1.7:5555")
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID rejects ids that could smuggle shell metacharacters into
// an adb invocation. The id goes into argv, not a shell line, but the shell
// subcommand forwards its argument to the device shell verbatim.
func ValidateDeviceID(deviceId string) error {
	if deviceId == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(deviceId) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(deviceId) {
		return fmt.Errorf("invalid device ID format: contains illegal characters")
	}
	if strings.ContainsAny(deviceId, ";&|`$(){}<>!'\"\\") {
		return fmt.Errorf("invalid device ID format: contains dangerous character")
	}
	return nil
}

// GetDevices returns a list of connected ADB devices
func (a *App) GetDevices() ([]Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.adbPath == "" {
		return nil, fmt.Errorf("ADB path is not initialized")
	}

	cmd := a.newAdbCommand(ctx, "devices", "-l")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to run adb devices (path: %s): %w, output: %s", a.adbPath, err, string(output))
	}

	var devices []Device
	lines := strings.Split(string(output), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		dev := Device{
			ID:     parts[0],
			Serial: parts[0],
			State:  parts[1],
			Type:   "wired",
		}
		if strings.Contains(parts[0], ":") {
			dev.Type = "wireless"
		}
		for _, p := range parts[2:] {
			if kv := strings.SplitN(p, ":", 2); len(kv) == 2 && kv[0] == "model" {
				dev.Model = strings.ReplaceAll(kv[1], "_", " ")
			}
		}
		if dev.Model == "" {
			dev.Model = dev.ID
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// Command helper functions

// newAdbCommand creates an exec.Cmd with a clean environment to avoid proxy issues
func (a *App) newAdbCommand(ctx context.Context, args ...string) *exec.Cmd {
	var cmd *exec.Cmd
	if ctx != nil {
		cmd = exec.CommandContext(ctx, a.adbPath, args...)
	} else {
		cmd = exec.Command(a.adbPath, args...)
	}
	cmd.Env = cleanEnv()
	return cmd
}

// newToolCommand creates an exec.Cmd for a bundled helper binary
func (a *App) newToolCommand(ctx context.Context, toolPath string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, toolPath, args...)
	env := cleanEnv()
	env = append(env, "ADB="+a.adbPath)
	cmd.Env = env
	return cmd
}

// cleanEnv strips proxy variables so adb's own server traffic never goes
// through a local HTTP proxy
func cleanEnv() []string {
	out := make([]string, 0, len(os.Environ()))
	for _, e := range os.Environ() {
		name, _, _ := strings.Cut(e, "=")
		switch strings.ToUpper(name) {
		case "HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY":
			continue
		}
		out = append(out, e)
	}
	return out
}

// RunAdbCommand executes an arbitrary ADB command with default 30s timeout
func (a *App) RunAdbCommand(deviceId string, fullCmd string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.RunAdbCommandWithContext(ctx, deviceId, fullCmd)
}

// RunAdbCommandWithContext executes an arbitrary ADB command with context for
// timeout control. A "shell " prefix keeps the rest of the line as a single
// argument so quoting survives the trip to the device.
func (a *App) RunAdbCommandWithContext(ctx context.Context, deviceId string, fullCmd string) (string, error) {
	if err := ValidateDeviceID(deviceId); err != nil {
		return "", fmt.Errorf("invalid device ID: %w", err)
	}

	fullCmd = strings.TrimSpace(fullCmd)
	if fullCmd == "" {
		return "", nil
	}

	args := []string{"-s", deviceId}
	if rest, ok := strings.CutPrefix(fullCmd, "shell "); ok {
		args = append(args, "shell", rest)
	} else {
		args = append(args, strings.Fields(fullCmd)...)
	}

	output, err := a.newAdbCommand(ctx, args...).CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("command failed: %w, output: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}
