package rejectreport

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WriteTable renders the report for a terminal. A per-operation summary
// follows when more than one operation was limited.
func WriteTable(w io.Writer, r Report) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Rate limit rejections " + r.Date + " (UTC)")
	t.AppendHeader(table.Row{"Operation", "Client", "Rejections"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})

	for _, e := range r.Entries {
		t.AppendRow(table.Row{e.Operation, e.Client, e.Count})
	}
	if len(r.Entries) == 0 {
		t.AppendRow(table.Row{"-", "-", 0})
	}

	summary := fmt.Sprintf("%d clients", len(r.Entries))
	if r.Skipped > 0 {
		summary += fmt.Sprintf(", %d unparsed keys", r.Skipped)
	}
	t.AppendFooter(table.Row{"", summary, r.Total})
	t.Render()

	ops := r.TopOperations()
	if len(ops) < 2 {
		return nil
	}
	byOp := table.NewWriter()
	byOp.SetOutputMirror(w)
	byOp.SetStyle(table.StyleRounded)
	byOp.SetTitle("By operation")
	byOp.AppendHeader(table.Row{"Operation", "Rejections"})
	byOp.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, e := range ops {
		byOp.AppendRow(table.Row{e.Operation, e.Count})
	}
	byOp.Render()
	return nil
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
