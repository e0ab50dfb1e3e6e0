package grid

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/nais/armordash/pkg/model"
)

var ErrUnknownColumn = errors.New("unknown column")

// Snapshot is a point-in-time copy of a View. It is safe to keep and
// render after the view changes.
type Snapshot struct {
	State    State
	Rows     []Row
	Selected map[string]bool
	Err      error
	InFlight bool
}

// Sort orders rows by the text of one column. The zero Sort keeps the
// order returned by the backend.
type Sort struct {
	Field string
	Desc  bool
}

// ParseSort validates field against the column schema. An empty field
// yields the zero Sort.
func ParseSort(field, desc string) (Sort, error) {
	if field == "" {
		return Sort{}, nil
	}
	if _, ok := model.LookupColumn(field); !ok {
		return Sort{}, fmt.Errorf("%w: %s", ErrUnknownColumn, field)
	}
	s := Sort{Field: field}
	if desc != "" {
		d, err := strconv.ParseBool(desc)
		if err != nil {
			return Sort{}, fmt.Errorf("parsing sort direction: %w", err)
		}
		s.Desc = d
	}
	return s, nil
}

// Toggled returns the sort a click on field's header leads to.
func (s Sort) Toggled(field string) Sort {
	if s.Field == field {
		return Sort{Field: field, Desc: !s.Desc}
	}
	return Sort{Field: field}
}

// Sorted returns the snapshot's rows ordered by s. Rows with equal values
// keep their relative order.
func (s Snapshot) Sorted(by Sort) []Row {
	rows := append([]Row{}, s.Rows...)
	if by.Field == "" {
		return rows
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Record.Field(by.Field), rows[j].Record.Field(by.Field)
		if by.Desc {
			return a > b
		}
		return a < b
	})
	return rows
}

// IsSelected reports whether the row with key was selected.
func (s Snapshot) IsSelected(key string) bool {
	return s.Selected[key]
}

// Columns returns the fixed column schema.
func (s Snapshot) Columns() []model.Column {
	return model.Columns()
}
