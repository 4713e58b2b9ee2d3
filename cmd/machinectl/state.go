package main

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/lopygo/machinectl/config"
	"github.com/lopygo/machinectl/machine"
	"github.com/lopygo/machinectl/rtcstore"
)

// stateView is the YAML form of the retained state.
type stateView struct {
	File       string          `yaml:"file"`
	Record     rtcstore.Record `yaml:"record"`
	ResetCause string          `yaml:"reset_cause"`
}

// cmdState implements "state show" and "state clear".
func cmdState(w io.Writer, cfg config.Board, args []string) error {
	if len(args) != 1 {
		return usageErrorf("state show | state clear")
	}
	if cfg.StateFile == "" {
		return fmt.Errorf("no state file configured (set state_file or %s)", config.EnvStateFile)
	}
	store, err := rtcstore.OpenFile(cfg.StateFile)
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "show":
		rec, err := store.Load()
		if errors.Is(err, rtcstore.ErrNoRecord) {
			fmt.Fprintf(w, "%s: no state, the next boot is a power-on\n", store.Path())
			return nil
		}
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(stateView{
			File:       store.Path(),
			Record:     rec,
			ResetCause: machine.DecodeResetReason(rec.ResetReason).String(),
		})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "clear":
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: cleared\n", store.Path())
		return nil
	default:
		return usageErrorf("unknown state command %q", args[0])
	}
}
