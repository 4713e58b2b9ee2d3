package diagnostics

import (
	"bytes"
	"errors"
	"go/token"
	"testing"

	"github.com/lopygo/machinectl/config"
)

func TestCreateConfigErrors(t *testing.T) {
	err := config.Errors{
		{File: "/work/board.yaml", Line: 7, Field: "mac", Msg: "not a MAC address"},
		{File: "/work/board.yaml", Line: 2, Field: "cpu_mhz", Msg: "must be 80, 160 or 240"},
		{Field: "serial.baud", Msg: "must be positive"},
	}
	var buf bytes.Buffer
	Create(err).WriteTo(&buf, "/work")
	want := "# board.yaml\n" +
		"board.yaml:2: cpu_mhz: must be 80, 160 or 240\n" +
		"board.yaml:7: mac: not a MAC address\n" +
		"serial.baud: must be positive\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCreateWrapped(t *testing.T) {
	cfgErr := config.Errors{{File: "b.yaml", Line: 1, Msg: "bad"}}
	err := errors.Join(errors.New("first"), cfgErr)
	report := Create(err)
	if len(report) != 2 {
		t.Fatalf("got %d sources, want 2", len(report))
	}
	if report[0].Source != "" || report[0].Diagnostics[0].Msg != "first" {
		t.Errorf("first source: %+v", report[0])
	}
	if report[1].Source != "b.yaml" {
		t.Errorf("second source: %+v", report[1])
	}
}

func TestCreateNil(t *testing.T) {
	if Create(nil) != nil {
		t.Error("nil error produced diagnostics")
	}
}

func TestRelativePosition(t *testing.T) {
	tests := []struct {
		file, wd, want string
	}{
		{"/work/a/b.yaml", "/work", "a/b.yaml"},
		{"/etc/board.yaml", "/work", "/etc/board.yaml"},
		{"b.yaml", "/work", "b.yaml"},
		{"/work/b.yaml", "", "/work/b.yaml"},
	}
	for _, tc := range tests {
		got := RelativePosition(token.Position{Filename: tc.file, Line: 1}, tc.wd)
		if got.Filename != tc.want {
			t.Errorf("RelativePosition(%q, %q) = %q, want %q", tc.file, tc.wd, got.Filename, tc.want)
		}
	}
}
