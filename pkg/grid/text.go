package grid

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/nais/armordash/pkg/model"
)

const (
	selectedMark   = "[x]"
	unselectedMark = "[ ]"
)

// RenderText writes the snapshot as a text table: a selection column
// followed by the grid columns. Headers are written in every state.
func RenderText(w io.Writer, snap Snapshot, by Sort) {
	cols := model.Columns()
	header := make([]string, 0, len(cols)+1)
	header = append(header, "")
	for _, c := range cols {
		header = append(header, c.Header)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	if snap.State == StateError && snap.Err != nil {
		row := make([]string, len(header))
		row[0] = "error"
		row[1] = strings.Trim(snap.Err.Error(), "\n")
		table.Append(row)
	}

	for _, r := range snap.Sorted(by) {
		mark := unselectedMark
		if snap.IsSelected(r.Key) {
			mark = selectedMark
		}
		table.Append(append([]string{mark}, r.Record.Cells()...))
	}

	table.Render()
}
