// Package repl parses the interactive commands of machinectl and runs them,
// either against a machine.Machine or, rendered as statements, on a real
// board's REPL.
//
// Command names are the names the scripting binding exposes in its machine
// module.
package repl

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/lopygo/machinectl/interrupt"
	"github.com/lopygo/machinectl/machine"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNotOnBoard     = errors.New("command only exists on the emulator")
)

// UsageError is a command called with the wrong arguments.
type UsageError struct {
	Command string
	Usage   string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s %s", e.Command, e.Usage)
}

// ScriptError is an error the way a script would see it: an exception type
// and a message.
type ScriptError struct {
	Type string // TypeError, ValueError, NotImplementedError, OSError
	Msg  string
	Err  error
}

func (e *ScriptError) Error() string { return e.Type + ": " + e.Msg }
func (e *ScriptError) Unwrap() error { return e.Err }

// Command is one parsed input line.
type Command struct {
	Name string
	Args []string
}

type commandDef struct {
	usage   string
	minArgs int
	maxArgs int
	help    string
}

var commands = map[string]commandDef{
	"reset":       {"", 0, 0, "hard reset through the watchdog"},
	"freq":        {"", 0, 0, "CPU frequency in Hz"},
	"unique_id":   {"", 0, 0, "factory MAC address"},
	"main":        {"[filename]", 0, 1, "show or set the script run after boot.py"},
	"rng":         {"", 0, 0, "hardware random number"},
	"idle":        {"", 0, 0, "yield to the core"},
	"sleep":       {"", 0, 0, "light sleep (not implemented)"},
	"deepsleep":   {"[ms]", 0, 1, "deep sleep, optionally waking after ms"},
	"reset_cause": {"", 0, 0, "reason of the last reset"},
	"wake_reason": {"", 0, 0, "deep sleep wake source (not implemented)"},
	"disable_irq": {"", 0, 0, "mask interrupts, print the state token"},
	"enable_irq":  {"[token]", 0, 1, "restore a state token, or unmask all"},
	"wdt":         {"arm <stage0> <stage1> | feed | off | status", 1, 3, "drive the watchdog (ticks of 0.5 ms)"},
	"wait":        {"<duration>", 1, 1, "let emulated time pass"},
}

// Names returns the command names in sorted order.
func Names() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help writes one line per command.
func Help(w io.Writer) {
	for _, name := range Names() {
		s := commands[name]
		fmt.Fprintf(w, "  %-12s %-28s %s\n", name, s.usage, s.help)
	}
}

// Parse splits a line the way a shell would. A blank line or a comment gives
// a Command with an empty name.
func Parse(line string) (Command, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse: %w", err)
	}
	if len(words) == 0 {
		return Command{}, nil
	}
	cmd := Command{Name: words[0], Args: words[1:]}
	s, ok := commands[cmd.Name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	if len(cmd.Args) < s.minArgs || len(cmd.Args) > s.maxArgs {
		return Command{}, &UsageError{Command: cmd.Name, Usage: s.usage}
	}
	return cmd, nil
}

// Terminal reports whether the command ends the current boot when it
// succeeds.
func (c Command) Terminal() bool {
	return c.Name == "reset" || c.Name == "deepsleep"
}

// maxWakeMillis is the longest wake timeout a time.Duration can hold.
const maxWakeMillis = math.MaxInt64 / int64(time.Millisecond)

// DeepSleepTimeout parses the optional wake timeout of deepsleep, given in
// milliseconds. Timeouts that do not fit a time.Duration are a ValueError.
func (c Command) DeepSleepTimeout() (d time.Duration, timed bool, err error) {
	if len(c.Args) == 0 {
		return 0, false, nil
	}
	ms, err := strconv.ParseInt(c.Args[0], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, false, &ScriptError{Type: "ValueError", Msg: "wake timeout too large", Err: err}
	}
	if err != nil {
		return 0, false, &ScriptError{Type: "TypeError", Msg: "can't convert " + strconv.Quote(c.Args[0]) + " to int", Err: err}
	}
	if ms > maxWakeMillis {
		return 0, false, &ScriptError{Type: "ValueError", Msg: fmt.Sprintf("wake timeout over %d ms", maxWakeMillis)}
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (c Command) token() (interrupt.State, error) {
	v, err := strconv.ParseUint(c.Args[0], 0, 64)
	if err != nil {
		return 0, &ScriptError{Type: "TypeError", Msg: "can't convert " + strconv.Quote(c.Args[0]) + " to int", Err: err}
	}
	return interrupt.State(v), nil
}

func hexID(id [6]byte) string {
	return hex.EncodeToString(id[:])
}

func notImplemented(err error) error {
	return &ScriptError{Type: "NotImplementedError", Msg: strings.TrimPrefix(err.Error(), "machine: "), Err: err}
}

// Clock lets emulated time pass.
type Clock interface {
	Elapse(d time.Duration)
}

// Session runs commands against one Machine.
type Session struct {
	M     *machine.Machine
	Clock Clock // nil on hardware
	Out   io.Writer
}

// Run executes c. Terminal commands do not return on success.
func (s *Session) Run(c Command) error {
	m := s.M
	switch c.Name {
	case "":
	case "reset":
		m.Reset()
	case "freq":
		fmt.Fprintln(s.Out, m.Frequency())
	case "unique_id":
		fmt.Fprintln(s.Out, hexID(m.UniqueID()))
	case "main":
		if len(c.Args) == 0 {
			fmt.Fprintln(s.Out, m.Main())
			return nil
		}
		m.SetMain(c.Args[0])
	case "rng":
		fmt.Fprintln(s.Out, m.Random())
	case "idle":
		m.Idle()
	case "sleep":
		if err := m.Sleep(); err != nil {
			return notImplemented(err)
		}
	case "deepsleep":
		d, timed, err := c.DeepSleepTimeout()
		if err != nil {
			return err
		}
		if !timed {
			m.DeepSleep()
		}
		if err := m.DeepSleepTimeout(d); err != nil {
			return &ScriptError{Type: "ValueError", Msg: "wake timeout must not be negative", Err: err}
		}
	case "reset_cause":
		rc := m.ResetCause()
		fmt.Fprintf(s.Out, "%d (%s)\n", int(rc), rc)
	case "wake_reason":
		if _, err := m.WakeReason(); err != nil {
			return notImplemented(err)
		}
	case "disable_irq":
		fmt.Fprintln(s.Out, uint64(m.DisableIRQ()))
	case "enable_irq":
		if len(c.Args) == 0 {
			m.EnableAllIRQ()
			return nil
		}
		state, err := c.token()
		if err != nil {
			return err
		}
		m.EnableIRQ(state)
	case "wdt":
		return s.watchdog(c)
	case "wait":
		if s.Clock == nil {
			return ErrNotOnBoard
		}
		d, err := time.ParseDuration(c.Args[0])
		if err != nil || d < 0 {
			return &ScriptError{Type: "ValueError", Msg: "bad duration " + strconv.Quote(c.Args[0]), Err: err}
		}
		s.Clock.Elapse(d)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, c.Name)
	}
	return nil
}

func (s *Session) watchdog(c Command) error {
	wdt := s.M.Watchdog()
	switch c.Args[0] {
	case "arm":
		if len(c.Args) != 3 {
			return &UsageError{Command: "wdt", Usage: commands["wdt"].usage}
		}
		cfg := machine.ResetWatchdogConfig
		for i, p := range []*uint32{&cfg.Stage0Timeout, &cfg.Stage1Timeout} {
			v, err := strconv.ParseUint(c.Args[1+i], 10, 32)
			if err != nil {
				return &ScriptError{Type: "TypeError", Msg: "can't convert " + strconv.Quote(c.Args[1+i]) + " to int", Err: err}
			}
			*p = uint32(v)
		}
		if err := wdt.Arm(cfg); err != nil {
			if errors.Is(err, machine.ErrInvalidWatchdogConfig) {
				return &ScriptError{Type: "ValueError", Msg: strings.TrimPrefix(err.Error(), "machine: "), Err: err}
			}
			return &ScriptError{Type: "OSError", Msg: err.Error(), Err: err}
		}
		fmt.Fprintf(s.Out, "interrupt in %s, reset in %s\n", cfg.InterruptAfter(), cfg.ResetAfter())
	case "feed":
		wdt.Feed()
	case "off":
		wdt.Disable()
	case "status":
		fmt.Fprintln(s.Out, wdt.Stage())
	default:
		return &UsageError{Command: "wdt", Usage: commands["wdt"].usage}
	}
	return nil
}

// Statement renders c as a statement for a board's REPL, which must have
// imported the machine module. returns is false for statements after which
// the board does not come back to the prompt.
func (c Command) Statement() (stmt string, returns bool, err error) {
	switch c.Name {
	case "reset":
		return "machine.reset()", false, nil
	case "freq", "rng", "reset_cause", "wake_reason", "disable_irq":
		return "print(machine." + c.Name + "())", true, nil
	case "unique_id":
		return "import ubinascii; print(ubinascii.hexlify(machine.unique_id()).decode())", true, nil
	case "main":
		if len(c.Args) == 0 {
			return "", false, ErrNotOnBoard
		}
		return "machine.main(" + strconv.Quote(c.Args[0]) + ")", true, nil
	case "idle", "sleep":
		return "machine." + c.Name + "()", true, nil
	case "deepsleep":
		d, timed, err := c.DeepSleepTimeout()
		if err != nil {
			return "", false, err
		}
		if !timed {
			return "machine.deepsleep()", false, nil
		}
		return fmt.Sprintf("machine.deepsleep(%d)", d.Milliseconds()), false, nil
	case "enable_irq":
		if len(c.Args) == 0 {
			return "machine.enable_irq()", true, nil
		}
		state, err := c.token()
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("machine.enable_irq(%d)", uint64(state)), true, nil
	case "wdt", "wait":
		return "", false, ErrNotOnBoard
	default:
		return "", false, fmt.Errorf("%w: %s", ErrUnknownCommand, c.Name)
	}
}
