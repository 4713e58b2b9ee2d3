// Package diagnostics formats errors for the command line and prints them in
// a consistent way.
package diagnostics

import (
	"errors"
	"fmt"
	"go/token"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lopygo/machinectl/config"
)

// A single diagnostic.
type Diagnostic struct {
	Pos   token.Position
	Field string // configuration key, if any
	Msg   string
}

// Diagnostics that belong to one input, such as a board file. Errors that
// cannot be tied to an input have an empty Source.
type SourceDiagnostic struct {
	Source      string
	Diagnostics []Diagnostic
}

// Report is every diagnostic of one command.
type Report []SourceDiagnostic

// Create reads the underlying errors in err and creates a set of
// diagnostics that's sorted and can be readily printed.
func Create(err error) Report {
	if err == nil {
		return nil
	}
	var (
		report Report
		bySrc  = map[string]int{}
	)
	for _, diag := range createDiagnostics(err) {
		i, ok := bySrc[diag.Pos.Filename]
		if !ok {
			i = len(report)
			bySrc[diag.Pos.Filename] = i
			report = append(report, SourceDiagnostic{Source: diag.Pos.Filename})
		}
		report[i].Diagnostics = append(report[i].Diagnostics, diag)
	}

	// Sort these diagnostics by line, keeping the order of the sources.
	for _, src := range report {
		sort.SliceStable(src.Diagnostics, func(i, j int) bool {
			posI := src.Diagnostics[i].Pos
			posJ := src.Diagnostics[j].Pos
			if posI.Line != posJ.Line {
				return posI.Line < posJ.Line
			}
			return posI.Column < posJ.Column
		})
	}
	return report
}

// Extract diagnostics from the given error and return them as a slice (which
// in many cases will just be a single diagnostic).
func createDiagnostics(err error) []Diagnostic {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var diags []Diagnostic
		for _, err := range multi.Unwrap() {
			diags = append(diags, createDiagnostics(err)...)
		}
		return diags
	}
	var (
		cfgErrs config.Errors
		cfgErr  config.Error
	)
	switch {
	case errors.As(err, &cfgErrs):
		var diags []Diagnostic
		for _, e := range cfgErrs {
			diags = append(diags, fromConfig(e))
		}
		return diags
	case errors.As(err, &cfgErr):
		return []Diagnostic{fromConfig(cfgErr)}
	}
	return []Diagnostic{{Msg: err.Error()}}
}

func fromConfig(e config.Error) Diagnostic {
	return Diagnostic{
		Pos:   token.Position{Filename: e.File, Line: e.Line},
		Field: e.Field,
		Msg:   e.Msg,
	}
}

// Write the report to the given writer with 'wd' as the relative working
// directory.
func (r Report) WriteTo(w io.Writer, wd string) {
	for _, src := range r {
		src.WriteTo(w, wd)
	}
}

// Write the diagnostics of one source to the given writer with 'wd' as the
// relative working directory.
func (src SourceDiagnostic) WriteTo(w io.Writer, wd string) {
	if src.Source != "" {
		fmt.Fprintln(w, "#", RelativePosition(token.Position{Filename: src.Source}, wd).Filename)
	}
	for _, diag := range src.Diagnostics {
		diag.WriteTo(w, wd)
	}
}

// Write this diagnostic to the given writer with 'wd' as the relative working
// directory.
func (diag Diagnostic) WriteTo(w io.Writer, wd string) {
	msg := diag.Msg
	if diag.Field != "" {
		msg = diag.Field + ": " + msg
	}
	if diag.Pos == (token.Position{}) {
		fmt.Fprintln(w, msg)
		return
	}
	pos := RelativePosition(diag.Pos, wd)
	fmt.Fprintf(w, "%s: %s\n", pos, msg)
}

// Convert the position in pos (assumed to have an absolute path) into a
// relative path if possible. Paths outside wd remain absolute.
func RelativePosition(pos token.Position, wd string) token.Position {
	// Check whether we even have a working directory.
	if wd == "" || !filepath.IsAbs(pos.Filename) {
		return pos
	}

	// Make the path relative, for easier reading. Ignore any errors in the
	// process (falling back to the absolute path).
	relpath, err := filepath.Rel(wd, pos.Filename)
	if err == nil && !strings.HasPrefix(relpath, "..") {
		pos.Filename = relpath
	}
	return pos
}
