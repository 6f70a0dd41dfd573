package records

import (
	"context"
	"errors"
	"sort"
	"sync"

	"practice-records-client/internal/models"
)

// Selection drives the multi-visit PDF composition workflow: closed until
// opened for a target visit, then holding the candidate set, the per-visit
// checkboxes, and the "only current visit" toggle until confirmed or closed.
//
// The toggle and the specific checkboxes are mutually exclusive in effect:
// enabling "only current" clears any specific selection, and if both end up
// set at confirm time, "only current" wins.
type Selection struct {
	cache *Cache

	mu          sync.Mutex
	open        bool
	patientUUID string
	targetUUID  string
	candidates  []models.Anamnesis
	picked      map[string]bool
	onlyCurrent bool
}

var (
	// ErrSelectionClosed is returned when the workflow has not been opened.
	ErrSelectionClosed = errors.New("selection dialog is not open")
	// ErrNotACandidate is returned for visits outside the target's patient.
	ErrNotACandidate = errors.New("visit is not a selection candidate")
)

// NewSelection creates a closed workflow backed by the given cache.
func NewSelection(cache *Cache) *Selection {
	return &Selection{cache: cache}
}

// Open loads the full visit list of the target's patient as selection
// candidates and moves the workflow to the open state. Any previously stored
// selection on the target visit is pre-checked.
func (s *Selection) Open(ctx context.Context, patientUUID, targetUUID string) error {
	candidates, err := s.cache.fetchAllVisits(ctx, patientUUID)
	if err != nil {
		return err
	}

	var target *models.Anamnesis
	for i := range candidates {
		if candidates[i].UUID == targetUUID {
			target = &candidates[i]
			break
		}
	}
	if target == nil {
		return ErrNotACandidate
	}

	picked := make(map[string]bool)
	for _, uuid := range target.IncludeVisitUUIDs {
		picked[uuid] = true
	}

	s.mu.Lock()
	s.open = true
	s.patientUUID = patientUUID
	s.targetUUID = targetUUID
	s.candidates = candidates
	s.picked = picked
	s.onlyCurrent = false
	s.mu.Unlock()
	return nil
}

// Close abandons the workflow without touching the stored selection.
func (s *Selection) Close() {
	s.mu.Lock()
	s.open = false
	s.candidates = nil
	s.picked = nil
	s.onlyCurrent = false
	s.mu.Unlock()
}

// IsOpen reports whether the workflow is in the open state.
func (s *Selection) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Candidates returns the loaded candidate visits.
func (s *Selection) Candidates() []models.Anamnesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Anamnesis, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Picked returns the currently checked visit identifiers in stable order.
func (s *Selection) Picked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickedLocked()
}

func (s *Selection) pickedLocked() []string {
	out := make([]string, 0, len(s.picked))
	for uuid, on := range s.picked {
		if on {
			out = append(out, uuid)
		}
	}
	sort.Strings(out)
	return out
}

// OnlyCurrent reports the state of the "only current visit" toggle.
func (s *Selection) OnlyCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlyCurrent
}

// Toggle flips the checkbox for one candidate visit. Checking a visit does not
// clear the "only current" toggle; the priority is resolved at confirm time.
func (s *Selection) Toggle(visitUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrSelectionClosed
	}
	known := false
	for _, a := range s.candidates {
		if a.UUID == visitUUID {
			known = true
			break
		}
	}
	if !known {
		return ErrNotACandidate
	}
	s.picked[visitUUID] = !s.picked[visitUUID]
	return nil
}

// SetOnlyCurrent sets the "only current visit" toggle. Enabling it clears any
// specific selection made so far.
func (s *Selection) SetOnlyCurrent(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrSelectionClosed
	}
	s.onlyCurrent = on
	if on {
		s.picked = make(map[string]bool)
	}
	return nil
}

// Confirm resolves the selection and requests the PDF, then closes the
// workflow. With "only current" set, the document covers the target visit
// alone and no selection is persisted. With specific visits checked, that
// selection is first persisted onto the target record so it is durable for
// next time. With neither, the request carries no selection change and the
// server falls back to whatever was stored on the record.
func (s *Selection) Confirm(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrSelectionClosed
	}
	patientUUID := s.patientUUID
	targetUUID := s.targetUUID
	onlyCurrent := s.onlyCurrent
	picked := s.pickedLocked()
	s.mu.Unlock()

	if onlyCurrent {
		data, err := s.cache.GeneratePDF(ctx, patientUUID, targetUUID, nil, true)
		if err != nil {
			return nil, err
		}
		s.Close()
		return data, nil
	}

	if len(picked) > 0 {
		req := models.UpdateAnamnesisRequest{IncludeVisitUUIDs: picked}
		if _, err := s.cache.UpdateVisit(ctx, patientUUID, targetUUID, req); err != nil {
			return nil, err
		}
	}

	data, err := s.cache.GeneratePDF(ctx, patientUUID, targetUUID, picked, false)
	if err != nil {
		return nil, err
	}
	s.Close()
	return data, nil
}
