package dashboard

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"

	"github.com/nais/armordash/pkg/grid"
	"github.com/nais/armordash/pkg/model"
	"github.com/nais/armordash/pkg/source"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type headerCell struct {
	model.Column
	SortURL string
	Arrow   string
}

type rowData struct {
	Key      string
	Cells    []string
	Selected bool
}

type errorData struct {
	Kind    string
	Title   string
	Message string
	Detail  string
}

type pageData struct {
	State    string
	InFlight bool
	Columns  []headerCell
	ColSpan  int
	Rows     []rowData
	Error    *errorData
	Sort     grid.Sort
	Footer   Footer
}

func sortURL(by grid.Sort) string {
	if by.Field == "" {
		return "/"
	}
	q := url.Values{}
	q.Set("sort", by.Field)
	if by.Desc {
		q.Set("desc", strconv.FormatBool(true))
	}
	return "/?" + q.Encode()
}

func newPageData(snap grid.Snapshot, by grid.Sort, footer Footer) pageData {
	cols := snap.Columns()
	data := pageData{
		State:    snap.State.String(),
		InFlight: snap.InFlight,
		Columns:  make([]headerCell, 0, len(cols)),
		ColSpan:  len(cols) + 1,
		Rows:     []rowData{},
		Sort:     by,
		Footer:   footer,
	}

	for _, c := range cols {
		h := headerCell{Column: c, SortURL: sortURL(by.Toggled(c.Field))}
		if by.Field == c.Field {
			h.Arrow = "▲"
			if by.Desc {
				h.Arrow = "▼"
			}
		}
		data.Columns = append(data.Columns, h)
	}

	for _, r := range snap.Sorted(by) {
		data.Rows = append(data.Rows, rowData{
			Key:      r.Key,
			Cells:    r.Record.Cells(),
			Selected: snap.IsSelected(r.Key),
		})
	}

	if snap.State == grid.StateError && snap.Err != nil {
		data.Error = describeError(snap.Err)
	}
	return data
}

func describeError(err error) *errorData {
	e := &errorData{
		Kind:   source.KindOf(err).String(),
		Title:  "Could not load policies",
		Detail: err.Error(),
	}
	var fe *source.FetchError
	switch source.KindOf(err) {
	case source.KindNetwork:
		e.Message = "The policy service could not be reached."
	case source.KindHTTPStatus:
		code := 0
		if errors.As(err, &fe) {
			code = fe.StatusCode
		}
		e.Message = fmt.Sprintf("The policy service answered with status %d.", code)
	case source.KindDecode:
		e.Message = "The policy service returned a response that could not be read."
	default:
		e.Message = "Loading policies failed."
	}
	return e
}

func renderHTML(w io.Writer, name string, data pageData) error {
	return templates.ExecuteTemplate(w, name, data)
}
