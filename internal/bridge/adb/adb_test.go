package adb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"autodelta/internal/config"
)

type fakeADB struct {
	calls  []string
	output map[string]string
	fail   map[string]bool
}

func (f *fakeADB) run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(args, " ")
	f.calls = append(f.calls, name+" "+line)
	for key := range f.fail {
		if strings.Contains(line, key) {
			return []byte("error: closed"), errors.New("exit status 1")
		}
	}
	for key, out := range f.output {
		if strings.Contains(line, key) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func newTestDevice(f *fakeADB, serial string) *Device {
	return New(Options{
		Config: config.DeviceConfig{
			Serial:   serial,
			ADBPath:  "adb",
			Package:  "com.example.game",
			Activity: "com.example.Main",
		},
		Run:       f.run,
		StopDelay: time.Millisecond,
	})
}

func TestRestartProcess_StopsThenStarts(t *testing.T) {
	f := &fakeADB{}
	d := newTestDevice(f, "emulator-5554")
	if err := d.RestartProcess(context.Background()); err != nil {
		t.Fatalf("RestartProcess: %v", err)
	}
	want := []string{
		"adb -s emulator-5554 shell am force-stop com.example.game",
		"adb -s emulator-5554 shell am start -n com.example.game/com.example.Main",
	}
	if strings.Join(f.calls, "\n") != strings.Join(want, "\n") {
		t.Fatalf("calls = %q", f.calls)
	}
}

func TestRestartProcess_StartError(t *testing.T) {
	f := &fakeADB{output: map[string]string{"am start": "Error: Activity class does not exist."}}
	d := newTestDevice(f, "")
	if err := d.RestartProcess(context.Background()); err == nil {
		t.Fatal("expected error for missing activity")
	}
}

func TestSetConnectivity(t *testing.T) {
	f := &fakeADB{}
	d := newTestDevice(f, "")
	if err := d.SetConnectivity(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := d.SetConnectivity(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if f.calls[0] != "adb shell svc wifi disable" || f.calls[1] != "adb shell svc wifi enable" {
		t.Fatalf("calls = %q", f.calls)
	}

	f.fail = map[string]bool{"svc": true}
	err := d.SetConnectivity(context.Background(), true)
	if err == nil || !strings.Contains(err.Error(), "error: closed") {
		t.Fatalf("expected command output in error, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	listing := "List of devices attached\nemulator-5554\tdevice\nR58M\toffline\n\n"
	cases := []struct {
		serial  string
		wantErr bool
	}{
		{"emulator-5554", false},
		{"R58M", true},
		{"missing", true},
	}
	for _, tc := range cases {
		f := &fakeADB{output: map[string]string{"devices": listing}}
		err := newTestDevice(f, tc.serial).Check(context.Background())
		if (err != nil) != tc.wantErr {
			t.Errorf("serial %q: err = %v", tc.serial, err)
		}
		if f.calls[0] != "adb devices" {
			t.Errorf("devices must not be scoped to a serial: %q", f.calls[0])
		}
	}
}

func TestCheck_NoDevices(t *testing.T) {
	f := &fakeADB{output: map[string]string{"devices": "List of devices attached\n\n"}}
	if err := newTestDevice(f, "").Check(context.Background()); err == nil {
		t.Fatal("expected error with no devices")
	}
}
