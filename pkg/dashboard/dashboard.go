package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/nais/armordash/pkg/grid"
)

var ErrNotStarted = errors.New("dashboard has not been mounted")

// Footer is the static link shown at the bottom of every page.
type Footer struct {
	Label string
	URL   string
}

type Options struct {
	// Listen is host:port, or unix:/path for a unix socket.
	Listen    string
	SocketUID int
	SocketGID int
	Footer    Footer
}

// Dashboard hosts one policy grid view at a time and serves it over HTTP.
type Dashboard struct {
	opts   Options
	logger logr.Logger

	mu      sync.RWMutex
	ctx     context.Context
	fetcher grid.Fetcher
	view    *grid.View

	ready atomic.Bool
}

func New(fetcher grid.Fetcher, opts Options, logger logr.Logger) *Dashboard {
	return &Dashboard{
		opts:    opts,
		logger:  logger.WithName("dashboard"),
		fetcher: fetcher,
	}
}

// Mount creates and mounts the first view. Views live until ctx is done
// or the dashboard is unmounted.
func (d *Dashboard) Mount(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = ctx
	return d.remountLocked()
}

// Remount replaces the current view with a freshly mounted one, which
// issues a new fetch.
func (d *Dashboard) Remount() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return ErrNotStarted
	}
	return d.remountLocked()
}

// SetFetcher points the dashboard at another data source and remounts.
func (d *Dashboard) SetFetcher(fetcher grid.Fetcher) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetcher = fetcher
	if d.ctx == nil {
		return nil
	}
	return d.remountLocked()
}

func (d *Dashboard) remountLocked() error {
	if d.view != nil {
		d.view.Unmount()
	}
	view := grid.New(d.fetcher,
		grid.WithLogger(d.logger),
		grid.WithSelectionHandler(d.selectionChanged))
	if err := view.Mount(d.ctx); err != nil {
		return err
	}
	d.view = view
	d.logger.Info("Mounted policy grid")
	return nil
}

// View returns the current view, or nil before Mount.
func (d *Dashboard) View() *grid.View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.view
}

// Unmount tears down the current view.
func (d *Dashboard) Unmount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.view != nil {
		d.view.Unmount()
	}
}

// Ready reports whether the dashboard is serving requests.
func (d *Dashboard) Ready() bool {
	return d.ready.Load()
}

func (d *Dashboard) selectionChanged(sel grid.Selection) {
	d.logger.Info("Selection changed", "count", sel.Len(), "keys", sel.Keys)
}
