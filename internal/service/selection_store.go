package service

import (
	"fmt"

	"pdf-region-tagger/internal/domain"
)

// SelectionStore is the ordered, document-wide collection of selections plus
// the active-selection pointer. Insertion order drives default labeling and
// first-match hit testing.
//
// The active selection is kept as an id into the same slice, so the active
// view always reflects the stored entity. SelectionStore is not safe for
// concurrent use; Session serializes access.
type SelectionStore struct {
	items    []*domain.Selection
	activeID string
	seen     map[string]struct{}
}

// NewSelectionStore creates an empty store.
func NewSelectionStore() *SelectionStore {
	return &SelectionStore{seen: make(map[string]struct{})}
}

// Add appends sel and makes it active. Overlap is not checked here; callers
// validate geometry first. Ids may never be reused within a store's lifetime.
func (s *SelectionStore) Add(sel *domain.Selection) error {
	if sel == nil || sel.ID == "" {
		return &domain.ValidationError{Field: "id", Message: "selection id is required"}
	}
	if _, dup := s.seen[sel.ID]; dup {
		return &domain.ValidationError{Field: "id", Message: fmt.Sprintf("selection id %s already used", sel.ID)}
	}
	s.seen[sel.ID] = struct{}{}
	s.items = append(s.items, sel.Clone())
	s.activeID = sel.ID
	return nil
}

// Update merges patch into the stored selection and returns a copy of the result.
func (s *SelectionStore) Update(id string, patch domain.SelectionPatch) (*domain.Selection, error) {
	sel := s.find(id)
	if sel == nil {
		return nil, domain.ErrSelectionNotFound
	}
	patch.Apply(sel)
	return sel.Clone(), nil
}

// Remove deletes a selection; removing the active one clears the pointer.
func (s *SelectionStore) Remove(id string) error {
	for i, sel := range s.items {
		if sel.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			if s.activeID == id {
				s.activeID = ""
			}
			return nil
		}
	}
	return domain.ErrSelectionNotFound
}

// Clear empties the store and clears the active pointer.
func (s *SelectionStore) Clear() {
	s.items = nil
	s.activeID = ""
}

// Toggle activates id, or deactivates it when it is already active. It
// reports whether id is active afterwards.
func (s *SelectionStore) Toggle(id string) (bool, error) {
	if s.find(id) == nil {
		return false, domain.ErrSelectionNotFound
	}
	if s.activeID == id {
		s.activeID = ""
		return false, nil
	}
	s.activeID = id
	return true, nil
}

// SetActive makes id the active selection.
func (s *SelectionStore) SetActive(id string) error {
	if s.find(id) == nil {
		return domain.ErrSelectionNotFound
	}
	s.activeID = id
	return nil
}

// ClearActive drops the active pointer.
func (s *SelectionStore) ClearActive() {
	s.activeID = ""
}

// ActiveID returns the active selection id, or "".
func (s *SelectionStore) ActiveID() string {
	return s.activeID
}

// Active returns a copy of the active selection, or nil.
func (s *SelectionStore) Active() *domain.Selection {
	return s.find(s.activeID).Clone()
}

// Get returns a copy of one selection.
func (s *SelectionStore) Get(id string) (*domain.Selection, bool) {
	sel := s.find(id)
	if sel == nil {
		return nil, false
	}
	return sel.Clone(), true
}

// All returns copies of every selection in store order.
func (s *SelectionStore) All() []*domain.Selection {
	out := make([]*domain.Selection, 0, len(s.items))
	for _, sel := range s.items {
		out = append(out, sel.Clone())
	}
	return out
}

// ByPage returns copies of the selections on one page, in store order.
func (s *SelectionStore) ByPage(pageNo int) []*domain.Selection {
	var out []*domain.Selection
	for _, sel := range s.items {
		if sel.PageNo == pageNo {
			out = append(out, sel.Clone())
		}
	}
	return out
}

// Len returns the number of selections.
func (s *SelectionStore) Len() int {
	return len(s.items)
}

func (s *SelectionStore) find(id string) *domain.Selection {
	if id == "" {
		return nil
	}
	for _, sel := range s.items {
		if sel.ID == id {
			return sel
		}
	}
	return nil
}
