package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

func markdownTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader(header),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderMarkdown(w io.Writer, r *Report) error {
	var b strings.Builder
	m := r.Metadata

	b.WriteString("# Malicious Workflow Cleanup Report\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n", m.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**Keyword**: `%s`\n", m.Signature)
	fmt.Fprintf(&b, "**Executor**: %s\n", m.Executor)
	fmt.Fprintf(&b, "**Mode**: %s\n", m.Mode)
	fmt.Fprintf(&b, "**Duration**: %s\n", m.Duration)
	if m.LogDir != "" {
		fmt.Fprintf(&b, "**Logs**: `%s`\n", m.LogDir)
	}
	if m.RunURL != "" {
		fmt.Fprintf(&b, "**Workflow run**: %s\n", m.RunURL)
	}

	s := r.Statistics
	b.WriteString("\n## Statistics\n\n")
	fmt.Fprintf(&b, "- **Infected repositories**: %d\n", s.Infected)
	fmt.Fprintf(&b, "- **Remediated**: %d\n", s.Success)
	fmt.Fprintf(&b, "- **Failed**: %d\n", s.Failed)
	fmt.Fprintf(&b, "- **Already clean**: %d\n", s.Clean)
	fmt.Fprintf(&b, "- **Workflows disabled**: %d\n", s.DisabledWorkflows)
	if s.ScopeErrors > 0 {
		fmt.Fprintf(&b, "- **Search scopes with errors**: %d\n", s.ScopeErrors)
	}

	b.WriteString("\n## Infected repositories\n\n")
	if len(r.Infected) == 0 {
		b.WriteString("No infected repositories found.\n")
	}
	for i, repo := range r.Infected {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, repo.Name, repo.URL)
	}

	b.WriteString("\n## Cleaned repositories\n\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	b.Reset()
	if len(r.Cleaned) == 0 {
		b.WriteString("No files were removed.\n")
	} else {
		rows := make([][]string, 0, len(r.Cleaned))
		for _, c := range r.Cleaned {
			rows = append(rows, []string{
				c.Repository,
				c.Branch,
				"`" + shortSHA(c.BeforeSHA) + "`",
				"`" + shortSHA(c.AfterSHA) + "`",
				strings.Join(c.DeletedFiles, ", "),
			})
		}
		if err := markdownTable(w, []string{"Repository", "Branch", "Before", "After", "Removed files"}, rows); err != nil {
			return err
		}
	}

	b.WriteString("\n## Failed repositories\n\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	b.Reset()
	if len(r.Failed) == 0 {
		b.WriteString("All repositories were processed successfully.\n")
	} else {
		rows := make([][]string, 0, len(r.Failed))
		for _, f := range r.Failed {
			rows = append(rows, []string{
				fmt.Sprintf("[%s](%s)", f.Repository, f.URL),
				f.Reason,
				f.Suggestion,
			})
		}
		if err := markdownTable(w, []string{"Repository", "Reason", "Suggestion"}, rows); err != nil {
			return err
		}
	}

	b.WriteString("\n## Next steps\n")
	for _, p := range r.NextSteps {
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", p.Level, p.Deadline)
		for _, step := range p.Items {
			if step.Link != "" {
				fmt.Fprintf(&b, "- [ ] [%s](%s)\n", step.Text, step.Link)
			} else {
				fmt.Fprintf(&b, "- [ ] %s\n", step.Text)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
