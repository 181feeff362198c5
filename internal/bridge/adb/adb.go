// Package adb drives the device through the adb command line.
package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"autodelta/internal/config"
	"autodelta/internal/logbus"
)

// Runner executes one command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

type Options struct {
	Config config.DeviceConfig
	Bus    *logbus.Bus
	// Run defaults to os/exec.
	Run Runner
	// StopDelay separates force-stop from start. Defaults to one second.
	StopDelay time.Duration
}

type Device struct {
	cfg       config.DeviceConfig
	bus       *logbus.Bus
	run       Runner
	stopDelay time.Duration
}

func New(opts Options) *Device {
	d := &Device{
		cfg:       opts.Config,
		bus:       opts.Bus,
		run:       opts.Run,
		stopDelay: opts.StopDelay,
	}
	if d.run == nil {
		d.run = execRunner
	}
	if d.stopDelay <= 0 {
		d.stopDelay = time.Second
	}
	return d
}

// RestartProcess force-stops the game package and launches its activity again.
func (d *Device) RestartProcess(ctx context.Context) error {
	if _, err := d.shell(ctx, "am", "force-stop", d.cfg.Package); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.stopDelay):
	}
	out, err := d.shell(ctx, "am", "start", "-n", d.cfg.Package+"/"+d.cfg.Activity)
	if err != nil {
		return err
	}
	// am start exits 0 even when the activity is missing.
	if strings.Contains(out, "Error:") {
		return fmt.Errorf("am start: %s", strings.TrimSpace(out))
	}
	d.log("info", "游戏进程已重启", map[string]any{"package": d.cfg.Package})
	return nil
}

func (d *Device) SetConnectivity(ctx context.Context, enabled bool) error {
	state := "disable"
	if enabled {
		state = "enable"
	}
	if _, err := d.shell(ctx, "svc", "wifi", state); err != nil {
		return err
	}
	d.log("info", "网络状态已切换", map[string]any{"wifi": state})
	return nil
}

// Check reports whether the configured device is attached and online.
func (d *Device) Check(ctx context.Context) error {
	out, err := d.adb(ctx, "devices")
	if err != nil {
		return err
	}
	devices := parseDevices(out)
	if len(devices) == 0 {
		return fmt.Errorf("no adb device attached")
	}
	if d.cfg.Serial == "" {
		for _, state := range devices {
			if state == "device" {
				return nil
			}
		}
		return fmt.Errorf("no adb device online")
	}
	state, ok := devices[d.cfg.Serial]
	if !ok {
		return fmt.Errorf("device %s not attached", d.cfg.Serial)
	}
	if state != "device" {
		return fmt.Errorf("device %s is %s", d.cfg.Serial, state)
	}
	return nil
}

func (d *Device) shell(ctx context.Context, args ...string) (string, error) {
	return d.adb(ctx, append([]string{"shell"}, args...)...)
}

func (d *Device) adb(ctx context.Context, args ...string) (string, error) {
	if d.cfg.Serial != "" && args[0] != "devices" {
		args = append([]string{"-s", d.cfg.Serial}, args...)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout())
	defer cancel()

	out, err := d.run(ctx, d.cfg.ADBPath, args...)
	text := string(out)
	if err != nil {
		d.log("warn", "adb 命令失败", map[string]any{"args": strings.Join(args, " "), "output": strings.TrimSpace(text), "error": err.Error()})
		if text = strings.TrimSpace(text); text != "" {
			return text, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, text)
		}
		return text, fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	return text, nil
}

// parseDevices reads "adb devices" output into serial -> state.
func parseDevices(out string) map[string]string {
	devices := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			devices[fields[0]] = fields[1]
		}
	}
	return devices
}

func (d *Device) log(level, msg string, fields map[string]any) {
	if d.bus != nil {
		d.bus.Log(level, msg, fields)
	}
}
