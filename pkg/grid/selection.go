package grid

import "fmt"

// Selection is the set of selected rows at the time of a change, in grid
// order.
type Selection struct {
	Keys []string
	Rows []Row
}

func (s Selection) Len() int {
	return len(s.Keys)
}

// Select adds keys to the selection.
func (v *View) Select(keys ...string) error {
	return v.updateSelection(keys, func(selected map[string]struct{}) {
		for _, k := range keys {
			selected[k] = struct{}{}
		}
	})
}

// Deselect removes keys from the selection.
func (v *View) Deselect(keys ...string) error {
	return v.updateSelection(keys, func(selected map[string]struct{}) {
		for _, k := range keys {
			delete(selected, k)
		}
	})
}

// Toggle flips the selection of one row, like clicking its checkbox.
func (v *View) Toggle(key string) error {
	return v.updateSelection([]string{key}, func(selected map[string]struct{}) {
		if _, ok := selected[key]; ok {
			delete(selected, key)
		} else {
			selected[key] = struct{}{}
		}
	})
}

// SetSelection replaces the selection with exactly keys.
func (v *View) SetSelection(keys []string) error {
	return v.updateSelection(keys, func(selected map[string]struct{}) {
		for k := range selected {
			delete(selected, k)
		}
		for _, k := range keys {
			selected[k] = struct{}{}
		}
	})
}

func (v *View) ClearSelection() {
	//nolint:errcheck // no keys to validate
	v.SetSelection(nil)
}

// IsSelected reports whether the row with key is selected.
func (v *View) IsSelected(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.selected[key]
	return ok
}

// Selected returns the selected rows in grid order.
func (v *View) Selected() []Row {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selectionLocked().Rows
}

// updateSelection validates keys against the current rows, applies fn
// and notifies the selection handler when the set changed.
func (v *View) updateSelection(keys []string, fn func(map[string]struct{})) error {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return ErrUnmounted
	}
	for _, k := range keys {
		if _, ok := v.index[k]; !ok {
			v.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownRow, k)
		}
	}

	before := make(map[string]struct{}, len(v.selected))
	for k := range v.selected {
		before[k] = struct{}{}
	}
	fn(v.selected)

	if sameKeys(before, v.selected) {
		v.mu.Unlock()
		return nil
	}
	sel := v.selectionLocked()
	v.mu.Unlock()

	v.logger.V(1).Info("Selection changed", "selected", sel.Len())
	v.notify(sel)
	return nil
}

func (v *View) selectionLocked() Selection {
	sel := Selection{Keys: []string{}, Rows: []Row{}}
	for _, r := range v.rows {
		if _, ok := v.selected[r.Key]; ok {
			sel.Keys = append(sel.Keys, r.Key)
			sel.Rows = append(sel.Rows, r)
		}
	}
	return sel
}

func (v *View) notify(sel Selection) {
	if v.onSelect != nil {
		v.onSelect(sel)
	}
}

func sameKeys(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
