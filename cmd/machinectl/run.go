package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-tty"

	"github.com/lopygo/machinectl/config"
	"github.com/lopygo/machinectl/image"
	"github.com/lopygo/machinectl/internal/logging"
	"github.com/lopygo/machinectl/internal/repl"
	"github.com/lopygo/machinectl/machine"
	"github.com/lopygo/machinectl/rtcstore"
	"github.com/lopygo/machinectl/sim"
)

type runOptions struct {
	exec     string
	script   string
	firmware string
	maxBoots int
	seed     uint64
}

// lineReader supplies REPL input across boots.
type lineReader interface {
	ReadLine(prompt string) (string, error)
}

// scriptLines replays a fixed list of commands.
type scriptLines struct {
	lines []string
	echo  io.Writer // if set, each line is echoed after the prompt
}

func (s *scriptLines) ReadLine(prompt string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	if s.echo != nil {
		fmt.Fprintln(s.echo, prompt+line)
	}
	return line, nil
}

// scannerLines reads commands from a pipe.
type scannerLines struct {
	sc *bufio.Scanner
}

func (s scannerLines) ReadLine(string) (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// ttyLines reads commands from the terminal.
type ttyLines struct {
	t   *tty.TTY
	out io.Writer
}

func (l ttyLines) ReadLine(prompt string) (string, error) {
	fmt.Fprint(l.out, prompt)
	return l.t.ReadString()
}

func splitCommands(s string) []string {
	var lines []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			lines = append(lines, part)
		}
	}
	return lines
}

func newBoard(cfg config.Board, store rtcstore.Store, fw *image.Image, seed uint64) (*sim.Board, error) {
	mac, err := cfg.ParsedMAC()
	if err != nil {
		return nil, err
	}
	flash, err := cfg.FlashBytes()
	if err != nil {
		return nil, err
	}
	quantum, err := cfg.Quantum()
	if err != nil {
		return nil, err
	}
	return sim.New(sim.Config{
		CPUMHz:         cfg.CPUMHz,
		MAC:            mac,
		FlashSize:      flash,
		Quantum:        quantum,
		InterruptLines: cfg.InterruptLines,
		HeartbeatPin:   cfg.HeartbeatPin,
		Store:          store,
		Firmware:       fw,
		Seed:           seed,
	})
}

func cmdRun(cfg config.Board, opts runOptions) error {
	out, p := stdout()

	var fw *image.Image
	if opts.firmware != "" {
		f, err := os.Open(opts.firmware)
		if err != nil {
			return err
		}
		fw, err = image.ParseHex(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := newBoard(cfg, store, fw, opts.seed)
	if err != nil {
		return err
	}

	var in lineReader
	switch {
	case opts.exec != "":
		in = &scriptLines{lines: splitCommands(opts.exec), echo: out}
	case opts.script != "":
		data, err := os.ReadFile(opts.script)
		if err != nil {
			return err
		}
		in = &scriptLines{lines: strings.Split(string(data), "\n"), echo: out}
	case isatty.IsTerminal(os.Stdin.Fd()):
		t, err := tty.Open()
		if err != nil {
			return err
		}
		defer t.Close()
		in = ttyLines{t: t, out: out}
		fmt.Fprintln(out, p.info("Type \"help\" for the commands, \"exit\" to power off."))
	default:
		in = scannerLines{sc: bufio.NewScanner(os.Stdin)}
	}
	return runBoard(b, cfg.Board, in, out, p, opts.maxBoots)
}

// runBoard boots b over and over, feeding it commands from in, until the
// input runs out or the user exits.
func runBoard(b *sim.Board, name string, in lineReader, out io.Writer, p palette, maxBoots int) error {
	log := logging.For(logging.ComponentCLI)
	prompt := p.prompt(">>> ")
	for boots := 0; maxBoots == 0 || boots < maxBoots; boots++ {
		outcome, err := b.Boot(func(m *machine.Machine) {
			fmt.Fprintln(out, p.info(fmt.Sprintf("%s at %d MHz, reset cause %s", name, m.Frequency()/machine.MHz, m.ResetCause())))
			s := &repl.Session{M: m, Clock: b, Out: out}
			for {
				line, err := in.ReadLine(prompt)
				if err != nil {
					if err != io.EOF {
						log.Error("reading input", "err", err)
					}
					return
				}
				switch line = strings.TrimSpace(line); line {
				case "exit", "quit":
					return
				case "help":
					repl.Help(out)
					continue
				}
				cmd, err := repl.Parse(line)
				if err != nil {
					p.printError(out, err)
					continue
				}
				if err := s.Run(cmd); err != nil {
					p.printError(out, err)
				}
			}
		})
		if err != nil {
			return err
		}
		if outcome.Kind == sim.Returned {
			return nil
		}
		fmt.Fprintln(out, p.info(outcome.String()))
		for _, e := range b.Events() {
			log.Debug("event", "at", e.At, "name", e.Name, "detail", e.Detail)
		}
	}
	return nil
}
