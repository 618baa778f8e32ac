package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"

	"queuectl/jobqueue"
	"queuectl/registry"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func defaultTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func printTable(w io.Writer, columns []string, data [][]string) {
	table := defaultTable(w)
	table.SetHeader(columns)
	table.AppendBulk(data)
	table.Render()
}

func printKeyValueTable(w io.Writer, rows [][]string) {
	table := defaultTable(w)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML goes through JSON so field names and time formats match the JSON output.
func printYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	out, err := yaml.JSONToYAML(data)
	if err != nil {
		return fmt.Errorf("convert to yaml: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func printAs(w io.Writer, format string, v any, table func()) error {
	switch format {
	case outputJSON:
		return printJSON(w, v)
	case outputYAML:
		return printYAML(w, v)
	case outputTable, "":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

var stateColors = map[jobqueue.State]*color.Color{
	jobqueue.StatePending:    color.New(color.FgBlue),
	jobqueue.StateProcessing: color.New(color.FgYellow),
	jobqueue.StateCompleted:  color.New(color.FgGreen),
	jobqueue.StateFailed:     color.New(color.FgMagenta),
	jobqueue.StateDead:       color.New(color.FgRed),
}

func coloredState(s jobqueue.State) string {
	if c, ok := stateColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJobs(w io.Writer, jobs []jobqueue.Job) {
	data := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		data = append(data, []string{
			shortID(j.ID),
			j.Command,
			coloredState(j.State),
			string(j.Priority),
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxRetries),
			j.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	printTable(w, []string{"ID", "Command", "State", "Priority", "Attempts", "Updated"}, data)
}

func printWorkers(w io.Writer, ws []registry.WorkerStatus) {
	data := make([][]string, 0, len(ws))
	for _, wk := range ws {
		job := "N/A"
		if wk.JobID != nil {
			job = *wk.JobID
		}
		data = append(data, []string{strconv.Itoa(wk.PID), string(wk.Status), job})
	}
	printTable(w, []string{"PID", "Status", "Current Job"}, data)
}

func itoa(n int) string { return strconv.Itoa(n) }

func fmtCount(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
