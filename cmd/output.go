package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/usecase"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render() + "\n"
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printTasks(cmd *cobra.Command, tasks []domain.Task) error {
	if a.output == outputJSON {
		return writeJSON(cmd, tasks)
	}
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks")
		return nil
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			t.Team,
			orDash(t.Machine),
			t.Bridge,
			string(t.Function),
			strconv.Itoa(t.Priority),
			string(t.Status),
			t.CreatedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Task ID", "Team", "Machine", "Bridge", "Function", "Priority", "Status", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}

func (a *app) printTask(cmd *cobra.Command, t *domain.Task) error {
	if a.output == outputJSON {
		return writeJSON(cmd, t)
	}
	rows := [][]string{
		{"Task ID", t.ID},
		{"Team", t.Team},
		{"Machine", orDash(t.Machine)},
		{"Bridge", t.Bridge},
		{"Function", string(t.Function)},
		{"Priority", strconv.Itoa(t.Priority)},
		{"Status", string(t.Status)},
		{"Retries", strconv.Itoa(t.RetryCount)},
		{"Created", t.CreatedAt.Local().Format(time.DateTime)},
		{"Updated", t.UpdatedAt.Local().Format(time.DateTime)},
	}
	if len(t.RequestPayload) > 0 {
		rows = append(rows, []string{"Request", compactJSON(t.RequestPayload)})
	}
	if len(t.ResponsePayload) > 0 {
		rows = append(rows, []string{"Response", compactJSON(t.ResponsePayload)})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
	return nil
}

func (a *app) printReport(cmd *cobra.Command, r usecase.Report) error {
	if a.output == outputJSON {
		return writeJSON(cmd, r)
	}
	out := cmd.OutOrStdout()
	if len(r.Stages) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		elapsed := ""
		if s.Elapsed > 0 {
			elapsed = s.Elapsed.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			s.Name,
			orDash(s.Target),
			strings.ToUpper(string(s.State)),
			orDash(s.TaskID),
			orDash(string(s.Status)),
			elapsed,
			s.Message,
		})
	}
	fmt.Fprintf(out, "%s\n", r.Workflow)
	fmt.Fprint(out, renderTable(
		[]string{"Stage", "Target", "State", "Task ID", "Status", "Elapsed", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	for _, s := range r.Stages {
		if s.Trace != nil {
			writeTrace(out, s.Trace)
		}
	}
	return nil
}

func (a *app) printTrace(cmd *cobra.Command, rec *usecase.TraceRecord) error {
	if a.output == outputJSON {
		return writeJSON(cmd, rec)
	}
	writeTrace(cmd.OutOrStdout(), rec)
	return nil
}

func writeTrace(out io.Writer, rec *usecase.TraceRecord) {
	fmt.Fprintf(out, "\ntrace %s (%s on %s, priority %d, %s)\n",
		rec.Task.ID, rec.Task.Function, rec.Task.Bridge, rec.Task.Priority, rec.Task.Status)
	rows := make([][]string, 0, len(rec.Timeline))
	for _, ev := range rec.Timeline {
		rows = append(rows, []string{ev.At.Local().Format(time.DateTime), ev.Event, orDash(string(ev.Status))})
	}
	fmt.Fprint(out, renderTable([]string{"Time", "Event", "Status"}, rows, nil))
	fmt.Fprintf(out, "request:  %s\n", compactJSON(rec.Request))
	fmt.Fprintf(out, "response: %s\n", compactJSON(rec.Response))
}

func (a *app) printFunctions(cmd *cobra.Command, specs []domain.FunctionSpec) error {
	if a.output == outputJSON {
		return writeJSON(cmd, specs)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, []string{
			string(s.Name),
			orDash(strings.Join(s.Required, ", ")),
			orDash(strings.Join(s.Optional, ", ")),
			s.Description,
		})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Function", "Required", "Optional", "Description"}, rows, nil))
	return nil
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
