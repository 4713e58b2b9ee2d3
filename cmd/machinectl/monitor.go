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
	"github.com/lopygo/machinectl/internal/repl"
	"github.com/lopygo/machinectl/monitor"
)

type monitorOptions struct {
	port     string
	baud     int
	list     bool
	commands []string
}

// executor runs statements on a board; *monitor.Conn is one.
type executor interface {
	Exec(stmt string) (string, error)
	Send(stmt string) error
}

func cmdMonitor(cfg config.Board, opts monitorOptions) error {
	out, p := stdout()
	if opts.list {
		ports, err := monitor.Ports()
		if err != nil {
			return err
		}
		for _, port := range ports {
			fmt.Fprintln(out, port)
		}
		return nil
	}

	port := opts.port
	if port == "" {
		port = cfg.Serial.Port
	}
	if port == "" {
		var err error
		if port, err = monitor.DefaultPort(); err != nil {
			return err
		}
	}
	baud := opts.baud
	if baud == 0 {
		baud = cfg.Serial.Baud
	}

	conn, err := monitor.Open(port, baud)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Exec("import machine"); err != nil {
		return err
	}
	fmt.Fprintln(out, p.info(fmt.Sprintf("connected to %s at %d baud", port, baud)))

	var in lineReader
	switch {
	case len(opts.commands) > 0:
		in = &scriptLines{lines: opts.commands, echo: out}
	case isatty.IsTerminal(os.Stdin.Fd()):
		t, err := tty.Open()
		if err != nil {
			return err
		}
		defer t.Close()
		in = ttyLines{t: t, out: out}
	default:
		in = scannerLines{sc: bufio.NewScanner(os.Stdin)}
	}
	return remoteSession(conn, in, out, p)
}

// remoteSession sends each command to the board until the input runs out,
// the user exits or the board goes away.
func remoteSession(conn executor, in lineReader, out io.Writer, p palette) error {
	prompt := p.prompt("board> ")
	for {
		line, err := in.ReadLine(prompt)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch line = strings.TrimSpace(line); line {
		case "exit", "quit":
			return nil
		case "help":
			repl.Help(out)
			continue
		}
		cmd, err := repl.Parse(line)
		if err != nil {
			p.printError(out, err)
			continue
		}
		if cmd.Name == "" {
			continue
		}
		stmt, returns, err := cmd.Statement()
		if err != nil {
			p.printError(out, err)
			continue
		}
		if !returns {
			if err := conn.Send(stmt); err != nil {
				return err
			}
			fmt.Fprintln(out, p.info("board is going down; reconnect after it boots"))
			return nil
		}
		result, err := conn.Exec(stmt)
		if err != nil {
			if _, ok := err.(*monitor.RemoteError); ok {
				p.printError(out, err)
				continue
			}
			return err
		}
		if result != "" {
			fmt.Fprintln(out, result)
		}
	}
}
