package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"workflowsweep/internal/discovery"
	"workflowsweep/internal/remediate"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

type ConsoleOption func(*ConsoleSink)

// WithColor forces colored status tags on or off. By default fatih/color
// decides from the terminal.
func WithColor(enabled bool) ConsoleOption {
	return func(s *ConsoleSink) {
		for _, c := range []*color.Color{s.infected, s.fixed, s.failed, s.clean, s.bold} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// WithRepoMask rewrites repository names before they are printed in text mode.
func WithRepoMask(mask func(string) string) ConsoleOption {
	return func(s *ConsoleSink) {
		if mask != nil {
			s.mask = mask
		}
	}
}

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	mu              sync.Mutex
	doc             *Document
	allowedStatuses map[string]bool
	mask            func(string) string

	infected, fixed, failed, clean, bold *color.Color
}

func NewConsoleSink(w io.Writer, format string, filterStatuses []string, opts ...ConsoleOption) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer:   w,
		format:   format,
		doc:      newDocument(),
		mask:     func(s string) string { return s },
		infected: color.New(color.FgYellow, color.Bold),
		fixed:    color.New(color.FgGreen, color.Bold),
		failed:   color.New(color.FgRed, color.Bold),
		clean:    color.New(color.FgCyan),
		bold:     color.New(color.Bold),
	}

	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[string]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[strings.ToLower(strings.TrimSpace(st))] = true
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) writeLocked(v any) error {
	if len(s.allowedStatuses) > 0 {
		if st, ok := outcomeStatus(v); ok && !s.allowedStatuses[st] {
			return nil
		}
	}

	switch s.format {
	case "json":
		s.doc.add(v)
		return nil
	case "ndjson":
		e, ok := toEvent(v)
		if !ok {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		if err := s.writeText(v); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeText(v any) error {
	var err error
	switch t := v.(type) {
	case discovery.Candidate:
		_, err = fmt.Fprintf(s.writer, "%s %s: %s\n", s.infected.Sprint("[INFECTED]"), s.mask(t.Repository), t.Path)
	case remediate.Outcome:
		err = s.writeOutcome(t)
	case Event:
		if t.Type == EventRunFinished {
			err = s.writeSummary(t)
		}
	}
	return err
}

func (s *ConsoleSink) writeOutcome(o remediate.Outcome) error {
	repo := s.mask(o.Repository)
	var err error
	switch o.Status {
	case remediate.StatusSuccess:
		_, err = fmt.Fprintf(s.writer, "%s %s: removed %s (%s %s..%s)\n",
			s.fixed.Sprint("[FIXED]"), repo, strings.Join(o.DeletedFiles, ", "),
			o.Branch, shortSHA(o.BeforeSHA), shortSHA(o.AfterSHA))
	case remediate.StatusFailure:
		_, err = fmt.Fprintf(s.writer, "%s %s: %s", s.failed.Sprint("[FAILED]"), repo, o.Reason)
		if err == nil && o.Cause != "" {
			_, err = fmt.Fprintf(s.writer, " - %s", o.Cause)
		}
		if err == nil {
			_, err = fmt.Fprintln(s.writer)
		}
	case remediate.StatusClean:
		_, err = fmt.Fprintf(s.writer, "%s %s\n", s.clean.Sprint("[CLEAN]"), repo)
	}
	return err
}

func (s *ConsoleSink) writeSummary(e Event) error {
	if _, err := fmt.Fprintln(s.writer); err != nil {
		return err
	}
	if _, err := s.bold.Fprintln(s.writer, "Summary"); err != nil {
		return err
	}
	table := tablewriter.NewTable(s.writer,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
	rows := [][]string{
		{"Mode", e.Mode},
		{"Infected repositories", strconv.Itoa(e.Candidates)},
		{"Remediated", strconv.Itoa(e.Success)},
		{"Failed", strconv.Itoa(e.Failed)},
		{"Clean", strconv.Itoa(e.Clean)},
		{"Workflows disabled", strconv.Itoa(e.Disabled)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		return writeDocument(s.writer, s.doc)
	}
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
