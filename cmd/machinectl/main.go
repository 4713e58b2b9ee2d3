// Command machinectl runs the system control layer of the scripting runtime
// on an emulated ESP32, drives the same calls on a real board over its
// serial port, and inspects firmware images and retained board state.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/lopygo/machinectl/config"
	"github.com/lopygo/machinectl/diagnostics"
	"github.com/lopygo/machinectl/internal/logging"
	"github.com/lopygo/machinectl/rtcstore"
)

var commandHelp = map[string]string{
	"run":     "boot an emulated board and run machine commands on it",
	"monitor": "run machine commands on a real board over its serial port",
	"image":   "show information about a firmware image, or convert a binary to HEX",
	"state":   "show or clear the state retained across emulated resets",
	"boards":  "list the board presets",
	"help":    "print this help",
}

func usage(command string) {
	w := os.Stderr
	switch command {
	case "", "help":
		fmt.Fprintln(w, "machinectl: system control for ESP32 scripting boards.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "usage: machinectl <command> [arguments]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "commands:")
		var names []string
		for name := range commandHelp {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-8s %s\n", name, commandHelp[name])
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Use \"machinectl <command> -h\" for the flags of a command.")
	default:
		fmt.Fprintf(w, "machinectl %s: %s\n", command, commandHelp[command])
	}
}

// handleError prints err with file:line positions where there are any and
// exits.
func handleError(err error) {
	wd, getwdErr := os.Getwd()
	if getwdErr != nil {
		wd = ""
	}
	diagnostics.Create(err).WriteTo(os.Stderr, wd)
	os.Exit(1)
}

// loadConfig reads the board file and sets up logging from it.
func loadConfig(path string) (config.Board, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Board{}, err
	}
	level := logging.Level()
	if cfg.Log.Level != "" {
		if level, err = logging.ParseLevel(cfg.Log.Level); err != nil {
			return config.Board{}, err
		}
	}
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return config.Board{}, err
	}
	logging.SetOutput(colorable.NewColorableStderr(), format)
	logging.SetLevel(level)
	return cfg, nil
}

// openStore opens the retained state named by the configuration, or an
// in-memory store when there is none.
func openStore(cfg config.Board) (rtcstore.Store, func() error, error) {
	if cfg.StateFile == "" {
		return &rtcstore.MemoryStore{}, func() error { return nil }, nil
	}
	s, err := rtcstore.OpenFile(cfg.StateFile)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// palette colours terminal output.
type palette struct {
	enabled bool
}

func newPalette(f *os.File) palette {
	return palette{enabled: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

func (p palette) wrap(code, s string) string {
	if !p.enabled {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func (p palette) prompt(s string) string { return p.wrap("1;32", s) }
func (p palette) info(s string) string   { return p.wrap("36", s) }
func (p palette) err(s string) string    { return p.wrap("1;31", s) }

func (p palette) printError(w io.Writer, err error) {
	fmt.Fprintln(w, p.err(err.Error()))
}

func stdout() (io.Writer, palette) {
	return colorable.NewColorableStdout(), newPalette(os.Stdout)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "No command-line arguments supplied.")
		usage("")
		os.Exit(1)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	flags.Usage = func() {
		usage(command)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", os.Getenv("MACHINECTL_CONFIG"), "board file (YAML)")

	var run func() error
	switch command {
	case "run":
		opts := runOptions{}
		flags.StringVar(&opts.exec, "e", "", "commands to run, separated by ';'")
		flags.StringVar(&opts.script, "script", "", "file with one command per line")
		flags.StringVar(&opts.firmware, "firmware", "", "firmware image (Intel HEX) to load into emulated flash")
		flags.IntVar(&opts.maxBoots, "max-boots", 0, "stop after this many boots (0: no limit)")
		flags.Uint64Var(&opts.seed, "seed", 0, "seed of the emulated RNG")
		run = func() error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return cmdRun(cfg, opts)
		}
	case "monitor":
		opts := monitorOptions{}
		flags.StringVar(&opts.port, "port", "", "serial port (default: from the board file, or the last port found)")
		flags.IntVar(&opts.baud, "baud", 0, "baud rate (default: from the board file)")
		flags.BoolVar(&opts.list, "list", false, "list serial ports and exit")
		run = func() error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			opts.commands = flags.Args()
			return cmdMonitor(cfg, opts)
		}
	case "image":
		addr := flags.Uint("addr", 0x10000, "load address of a binary")
		run = func() error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			w, _ := stdout()
			return cmdImage(w, cfg, uint32(*addr), flags.Args())
		}
	case "state":
		run = func() error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			w, _ := stdout()
			return cmdState(w, cfg, flags.Args())
		}
	case "boards":
		run = func() error {
			w, _ := stdout()
			return cmdBoards(w)
		}
	case "help", "-h", "-help", "--help":
		if len(os.Args) > 2 {
			usage(os.Args[2])
		} else {
			usage("")
		}
		return
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", command)
		usage("")
		os.Exit(1)
	}

	flags.Parse(os.Args[2:])
	if err := run(); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flags.Usage()
			os.Exit(2)
		}
		handleError(err)
	}
}

var errUsage = errors.New("wrong arguments")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func cmdBoards(w io.Writer) error {
	for _, name := range config.PresetNames() {
		b, err := config.FromPreset(name)
		if err != nil {
			return err
		}
		marker := " "
		if name == config.DefaultPreset {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-14s %3d MHz  %-5s flash  heartbeat pin %-2d  mac %s\n",
			marker, name, b.CPUMHz, strings.ToUpper(b.FlashSize), b.HeartbeatPin, b.MAC)
	}
	return nil
}
