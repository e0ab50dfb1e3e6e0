package grid

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/nais/armordash/pkg/model"
	"github.com/nais/armordash/pkg/source"
)

// errors
var (
	ErrAlreadyMounted = errors.New("view is already mounted")
	ErrNotMounted     = errors.New("view is not mounted")
	ErrUnmounted      = errors.New("view has been unmounted")
	ErrNotRetryable   = errors.New("view is not in the error state")
	ErrFetchInFlight  = errors.New("a fetch is already in flight")
	ErrUnknownRow     = errors.New("unknown row")
)

// Fetcher produces the policies shown by a View. *source.Client
// implements it.
type Fetcher interface {
	FetchPolicies(ctx context.Context) ([]model.PolicyRecord, error)
}

var _ Fetcher = &source.Client{}

// State is the lifecycle state of a View.
type State uint8

const (
	// StateEmpty is the initial state; no fetch has succeeded or failed yet.
	StateEmpty State = iota
	// StatePopulated holds the rows of the last successful fetch.
	StatePopulated
	// StateError means the last fetch failed. Rows keep their prior value.
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulated:
		return "populated"
	case StateError:
		return "error"
	}
	return "unknown"
}

// MarshalText makes states readable in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Row is one policy together with the key used to select it.
type Row struct {
	Key    string             `json:"key"`
	Record model.PolicyRecord `json:"record"`
}

// View owns the rows fetched for one mount. The zero value is not usable;
// create views with New.
type View struct {
	fetcher  Fetcher
	logger   logr.Logger
	onSelect func(Selection)

	mu        sync.Mutex
	state     State
	rows      []Row
	index     map[string]int
	selected  map[string]struct{}
	err       error
	ctx       context.Context
	cancel    context.CancelFunc
	mounted   bool
	unmounted bool
	// token of the fetch whose completion may still be applied
	token  string
	settle chan struct{}
}

type Option func(*View)

func WithLogger(logger logr.Logger) Option {
	return func(v *View) {
		v.logger = logger
	}
}

// WithSelectionHandler registers fn to be called after every change of the
// selection. fn is called without the view's lock held.
func WithSelectionHandler(fn func(Selection)) Option {
	return func(v *View) {
		v.onSelect = fn
	}
}

func New(fetcher Fetcher, opts ...Option) *View {
	v := &View{
		fetcher:  fetcher,
		logger:   logr.Discard(),
		rows:     []Row{},
		index:    map[string]int{},
		selected: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.WithName("policy-grid")
	return v
}

// Columns returns the fixed column schema of the grid.
func (v *View) Columns() []model.Column {
	return model.Columns()
}

// Mount starts the one fetch of this view. The fetch is canceled when ctx
// is done or the view is unmounted.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return ErrUnmounted
	}
	if v.mounted {
		return ErrAlreadyMounted
	}
	v.mounted = true
	v.ctx, v.cancel = context.WithCancel(ctx)
	v.startLocked()
	return nil
}

// Unmount cancels any fetch in flight and drops the rows. A completion
// arriving afterwards changes nothing. Unmount may be called more than once.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	v.token = ""
	if v.cancel != nil {
		v.cancel()
	}
	v.rows = []Row{}
	v.index = map[string]int{}
	v.selected = map[string]struct{}{}
	v.mu.Unlock()
	v.logger.V(1).Info("Unmounted")
}

// Retry issues a new fetch after a failed one.
func (v *View) Retry() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.unmounted:
		return ErrUnmounted
	case !v.mounted:
		return ErrNotMounted
	case v.token != "":
		return ErrFetchInFlight
	case v.state != StateError:
		return ErrNotRetryable
	}
	v.startLocked()
	return nil
}

// Wait blocks until the current fetch has settled or ctx is done.
func (v *View) Wait(ctx context.Context) error {
	v.mu.Lock()
	settle := v.settle
	v.mu.Unlock()
	if settle == nil {
		return ErrNotMounted
	}
	select {
	case <-settle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) startLocked() {
	token := uuid.NewString()
	settle := make(chan struct{})
	v.token = token
	v.settle = settle
	ctx := v.ctx

	v.logger.V(1).Info("Fetching policies", "fetch", token)
	go func() {
		defer close(settle)
		rows, err := v.fetcher.FetchPolicies(ctx)
		v.complete(token, rows, err)
	}()
}

func (v *View) complete(token string, records []model.PolicyRecord, err error) {
	v.mu.Lock()
	if v.unmounted || token != v.token {
		v.mu.Unlock()
		v.logger.V(1).Info("Discarding stale fetch result", "fetch", token)
		return
	}
	v.token = ""

	if err != nil {
		v.state = StateError
		v.err = err
		v.mu.Unlock()
		v.logger.Error(err, "Fetching policies failed", "fetch", token, "kind", source.KindOf(err).String())
		return
	}

	rows := keyRows(records)
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		index[r.Key] = i
	}
	v.rows = rows
	v.index = index
	v.state = StatePopulated
	v.err = nil
	v.mu.Unlock()

	v.logger.Info("Policies loaded", "fetch", token, "count", len(rows))
}

// keyRows keys rows by fingerprint when every record carries a unique
// one, and by position otherwise. Keys are never mixed between the two.
func keyRows(records []model.PolicyRecord) []Row {
	rows := make([]Row, len(records))
	seen := make(map[string]struct{}, len(records))
	byFingerprint := true
	for i, rec := range records {
		rows[i].Record = rec
		if _, dup := seen[rec.Fingerprint]; rec.Fingerprint == "" || dup {
			byFingerprint = false
		}
		seen[rec.Fingerprint] = struct{}{}
	}
	for i := range rows {
		if byFingerprint {
			rows[i].Key = rows[i].Record.Fingerprint
		} else {
			rows[i].Key = strconv.Itoa(i)
		}
	}
	return rows
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err is the error of the last failed fetch while in StateError.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// InFlight reports whether a fetch is outstanding.
func (v *View) InFlight() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.token != ""
}

// Rows returns a copy of the current rows in backend order.
func (v *View) Rows() []Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Row{}, v.rows...)
}

// Snapshot captures everything needed to render the view.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	selected := make(map[string]bool, len(v.selected))
	for key := range v.selected {
		selected[key] = true
	}
	return Snapshot{
		State:    v.state,
		Rows:     append([]Row{}, v.rows...),
		Selected: selected,
		Err:      v.err,
		InFlight: v.token != "",
	}
}
