package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nais/armordash/pkg/grid"
	"github.com/nais/armordash/pkg/model"
	"github.com/nais/armordash/pkg/source"
)

const (
	EndpointIsAlive = "/internal/isalive"
	EndpointIsReady = "/internal/isready"
)

// Handler returns the dashboard's routes.
func (d *Dashboard) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", d.page)
	r.Get("/grid", d.gridFragment)
	r.Get("/api/grid", d.gridJSON)
	r.Post("/selection", d.updateSelection)
	r.Post("/retry", d.retry)
	r.Post("/refresh", d.refresh)

	r.Get(EndpointIsAlive, d.isAlive)
	r.Get(EndpointIsReady, d.isReady)
	return r
}

func (d *Dashboard) currentView(w http.ResponseWriter) *grid.View {
	v := d.View()
	if v == nil {
		http.Error(w, "Policy grid is not mounted", http.StatusServiceUnavailable)
	}
	return v
}

func sortFrom(w http.ResponseWriter, values url.Values) (grid.Sort, bool) {
	s, err := grid.ParseSort(values.Get("sort"), values.Get("desc"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return grid.Sort{}, false
	}
	return s, true
}

func (d *Dashboard) page(w http.ResponseWriter, r *http.Request) {
	d.render(w, r, "page")
}

func (d *Dashboard) gridFragment(w http.ResponseWriter, r *http.Request) {
	d.render(w, r, "grid")
}

func (d *Dashboard) render(w http.ResponseWriter, r *http.Request, tmpl string) {
	v := d.currentView(w)
	if v == nil {
		return
	}
	by, ok := sortFrom(w, r.URL.Query())
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, tmpl, newPageData(v.Snapshot(), by, d.opts.Footer)); err != nil {
		d.logger.Error(err, "Rendering page", "template", tmpl)
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request, by grid.Sort) {
	http.Redirect(w, r, sortURL(by), http.StatusSeeOther)
}

func (d *Dashboard) updateSelection(w http.ResponseWriter, r *http.Request) {
	v := d.currentView(w)
	if v == nil {
		return
	}
	by, ok := formSort(w, r)
	if !ok {
		return
	}

	err := v.SetSelection(r.PostForm["row"])
	switch {
	case errors.Is(err, grid.ErrUnknownRow):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	redirectHome(w, r, by)
}

func formSort(w http.ResponseWriter, r *http.Request) (grid.Sort, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, fmt.Sprintf("Parsing form: %s", err), http.StatusBadRequest)
		return grid.Sort{}, false
	}
	return sortFrom(w, r.PostForm)
}

func (d *Dashboard) retry(w http.ResponseWriter, r *http.Request) {
	v := d.currentView(w)
	if v == nil {
		return
	}
	by, ok := formSort(w, r)
	if !ok {
		return
	}
	if err := v.Retry(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	d.logger.Info("Retrying policy fetch")
	redirectHome(w, r, by)
}

func (d *Dashboard) refresh(w http.ResponseWriter, r *http.Request) {
	by, ok := formSort(w, r)
	if !ok {
		return
	}
	if err := d.Remount(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	redirectHome(w, r, by)
}

type gridError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type gridResponse struct {
	State    grid.State     `json:"state"`
	InFlight bool           `json:"inFlight"`
	Columns  []model.Column `json:"columns"`
	Rows     []grid.Row     `json:"rows"`
	Selected []string       `json:"selected"`
	Error    *gridError     `json:"error,omitempty"`
}

func (d *Dashboard) gridJSON(w http.ResponseWriter, r *http.Request) {
	v := d.currentView(w)
	if v == nil {
		return
	}
	by, ok := sortFrom(w, r.URL.Query())
	if !ok {
		return
	}

	snap := v.Snapshot()
	resp := gridResponse{
		State:    snap.State,
		InFlight: snap.InFlight,
		Columns:  snap.Columns(),
		Rows:     snap.Sorted(by),
		Selected: []string{},
	}
	for _, row := range snap.Rows {
		if snap.IsSelected(row.Key) {
			resp.Selected = append(resp.Selected, row.Key)
		}
	}
	if snap.Err != nil {
		resp.Error = &gridError{Kind: source.KindOf(snap.Err).String(), Message: snap.Err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.logger.Error(err, "Encoding grid")
	}
}

func (d *Dashboard) isAlive(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("alive"))
}

func (d *Dashboard) isReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := map[string]bool{"ready": d.Ready()}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		d.logger.Error(err, "Encoding ready status")
	}
}
