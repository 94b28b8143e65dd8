// Package cli renders devenv's operator-facing command output.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"devenv/internal/color"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputFormatTable, "":
		return OutputFormatTable, nil
	case OutputFormatYAML:
		return OutputFormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table or yaml)", s)
	}
}

// InfraRow is one line of the persisted infra state report.
type InfraRow struct {
	Name          string     `yaml:"name"`
	Initialized   bool       `yaml:"initialized"`
	InitializedAt *time.Time `yaml:"initialized_at,omitempty"`
	// Declared is false for records left behind by infra that was removed
	// from the configuration.
	Declared bool `yaml:"declared"`
}

// StateReport is everything `devenv state` prints.
type StateReport struct {
	Project   string     `yaml:"project"`
	ProjectID string     `yaml:"project_id"`
	StateFile string     `yaml:"state_file"`
	Infra     []InfraRow `yaml:"infra"`
}

// RenderState writes report to w in the requested format.
func RenderState(w io.Writer, format OutputFormat, report StateReport) error {
	switch format {
	case OutputFormatYAML:
		data, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return renderStateTable(w, report)
	}
}

func renderStateTable(w io.Writer, report StateReport) error {
	fmt.Fprintf(w, "%s %s (%s)\n", color.HeaderStyle.Render("Project"), report.Project, report.ProjectID)
	fmt.Fprintf(w, "%s %s\n", color.HeaderStyle.Render("State  "), report.StateFile)

	if len(report.Infra) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No infra recorded"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"INFRA", "STATUS", "INITIALIZED AT"})
	for _, row := range report.Infra {
		t.AppendRow(table.Row{row.Name, formatStatus(row), formatTime(row.InitializedAt)})
	}
	t.Render()
	return nil
}

func formatStatus(row InfraRow) string {
	status := "pending"
	if row.Initialized {
		status = "initialized"
	}
	if !row.Declared {
		return color.ForState("stale").Render(status + " (stale)")
	}
	return color.ForState(status).Render(status)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
