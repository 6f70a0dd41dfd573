// Package records mediates between callers, the remote API, and an in-memory
// cache of patient and visit records, with optimistic-but-verified mutation
// semantics: a mutation lands in the cache only after the server confirms it.
package records

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"practice-records-client/internal/api"
	"practice-records-client/internal/models"
	"practice-records-client/internal/session"
)

// candidatePageSize bounds the unpaginated candidate fetch used by the PDF
// selection workflow.
const candidatePageSize = 500

// VisitPage is one fetched page of a patient's visits. HasNext is a heuristic:
// true when the returned page was exactly full, which can be a false positive
// when the total count is an exact multiple of the page size.
type VisitPage struct {
	Items   []models.Anamnesis
	HasNext bool
}

// FetchOptions narrows a visit page fetch.
type FetchOptions struct {
	Query    string
	Page     int
	PageSize int
}

// Cache is the client-side cache of patient and visit records. Every operation
// requires an active session; without one, operations are no-ops returning
// empty results rather than errors.
//
// List fetches replace the cached entries for their slot wholesale (a fresh
// search fully supersedes prior results). Each slot carries a monotonically
// increasing sequence number; a response is applied only while it is still the
// newest issued fetch for that slot, so a slow stale response cannot overwrite
// a newer one.
type Cache struct {
	client   *api.Client
	sessions *session.Store
	validate *validator.Validate

	patientPageSize int
	visitPageSize   int

	mu             sync.Mutex
	patients       []models.Patient
	visits         map[string][]models.Anamnesis
	searchTerm     string
	lastError      string
	patientSeq     uint64
	visitSeq       map[string]uint64
}

// NewCache creates an empty cache bound to the given API client and session store.
func NewCache(client *api.Client, sessions *session.Store, patientPageSize, visitPageSize int) *Cache {
	if patientPageSize <= 0 {
		patientPageSize = 10
	}
	if visitPageSize <= 0 {
		visitPageSize = 5
	}
	return &Cache{
		client:          client,
		sessions:        sessions,
		validate:        validator.New(),
		patientPageSize: patientPageSize,
		visitPageSize:   visitPageSize,
		visits:          make(map[string][]models.Anamnesis),
		visitSeq:        make(map[string]uint64),
	}
}

// activeSession returns the current session when one is active, nil otherwise.
func (c *Cache) activeSession() *models.Session {
	if !c.sessions.Active() {
		return nil
	}
	return c.sessions.Current()
}

func (c *Cache) fail(msg string, err error) error {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
	return fmt.Errorf("%s: %w", msg, err)
}

// LastError returns the most recent human-readable failure message, or "" when
// the last operation succeeded.
func (c *Cache) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Patients returns a copy of the cached patient list, newest first.
func (c *Cache) Patients() []models.Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Patient, len(c.patients))
	copy(out, c.patients)
	return out
}

// Visits returns a copy of the cached visit page for a patient. The second
// return reports whether a cached slot exists for that patient at all.
func (c *Cache) Visits(patientUUID string) ([]models.Anamnesis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.visits[patientUUID]
	if !ok {
		return nil, false
	}
	out := make([]models.Anamnesis, len(items))
	copy(out, items)
	return out, true
}

// SearchTerm returns the active patient search term.
func (c *Cache) SearchTerm() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchTerm
}

// SetSearchTerm updates the search term and refreshes the patient list, the
// same way a term change re-triggers the list fetch in the UI.
func (c *Cache) SetSearchTerm(ctx context.Context, term string) error {
	c.mu.Lock()
	c.searchTerm = term
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh fetches the first page of patients filtered by the current search
// term and replaces the entire cached patient list with the result.
func (c *Cache) Refresh(ctx context.Context) error {
	sess := c.activeSession()
	if sess == nil {
		c.mu.Lock()
		c.patients = nil
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.patientSeq++
	seq := c.patientSeq
	term := c.searchTerm
	c.mu.Unlock()

	params := url.Values{}
	params.Set("page_size", strconv.Itoa(c.patientPageSize))
	params.Set("current_page", "1")
	if term != "" {
		params.Set("query", term)
	}

	var res models.ListPatientsResponse
	if err := c.client.Do(ctx, "GET", "/patients?"+params.Encode(), sess.Token, nil, &res); err != nil {
		return c.fail("could not fetch patients", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.patientSeq {
		// A newer fetch was issued while this one was in flight.
		return nil
	}
	c.patients = res.Patients
	c.lastError = ""
	return nil
}

// CreatePatient posts a new patient and, on success, prepends the
// server-assigned record to the cached list. On failure the cache is unchanged
// and nil is returned alongside the error.
func (c *Cache) CreatePatient(ctx context.Context, input models.PatientInput) (*models.Patient, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, nil
	}
	if err := c.validate.Struct(input); err != nil {
		return nil, c.fail("patient requires a first and last name", err)
	}

	req := models.CreatePatientRequest{
		DoctorUUID:  sess.DoctorUUID,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Phone:       input.Phone,
		Address:     input.Address,
		DateOfBirth: input.DateOfBirth,
		Sex:         input.Sex,
	}
	var created models.Patient
	if err := c.client.Do(ctx, "POST", "/patients/create", sess.Token, req, &created); err != nil {
		return nil, c.fail("could not save patient", err)
	}

	c.mu.Lock()
	c.patients = append([]models.Patient{created}, c.patients...)
	c.lastError = ""
	c.mu.Unlock()
	return &created, nil
}

// UpdatePatient resends the full mutable field set and replaces the matching
// cached record in place, preserving its position in the list.
func (c *Cache) UpdatePatient(ctx context.Context, patientUUID string, input models.PatientInput) (*models.Patient, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, nil
	}
	if err := c.validate.Struct(input); err != nil {
		return nil, c.fail("patient requires a first and last name", err)
	}

	req := models.UpdatePatientRequest{
		UUID:        patientUUID,
		DoctorUUID:  sess.DoctorUUID,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Phone:       input.Phone,
		Address:     input.Address,
		DateOfBirth: input.DateOfBirth,
		Sex:         input.Sex,
	}
	var updated models.Patient
	if err := c.client.Do(ctx, "PATCH", "/patients/"+patientUUID, sess.Token, req, &updated); err != nil {
		return nil, c.fail("could not update patient", err)
	}

	c.mu.Lock()
	for i := range c.patients {
		if c.patients[i].UUID == patientUUID {
			c.patients[i] = updated
			break
		}
	}
	c.lastError = ""
	c.mu.Unlock()
	return &updated, nil
}

// DeletePatient deletes a patient and, on confirmed success, removes the
// record from the cache and purges the cached visit slot for that patient.
// On failure both caches are left untouched; the cascade is all or nothing.
func (c *Cache) DeletePatient(ctx context.Context, patientUUID string) error {
	sess := c.activeSession()
	if sess == nil {
		return nil
	}
	if err := c.client.Do(ctx, "DELETE", "/patients/"+patientUUID, sess.Token, nil, nil); err != nil {
		return c.fail("could not delete patient", err)
	}

	c.mu.Lock()
	kept := c.patients[:0]
	for _, p := range c.patients {
		if p.UUID != patientUUID {
			kept = append(kept, p)
		}
	}
	c.patients = kept
	delete(c.visits, patientUUID)
	delete(c.visitSeq, patientUUID)
	c.lastError = ""
	c.mu.Unlock()
	return nil
}

// FetchVisits requests one page of a patient's visits and replaces the cached
// slot for that patient with the page just fetched. The cache holds at most
// one current page per patient; paging through history swaps the slot's
// contents rather than accumulating them.
func (c *Cache) FetchVisits(ctx context.Context, patientUUID string, opts FetchOptions) (VisitPage, error) {
	sess := c.activeSession()
	if sess == nil {
		return VisitPage{}, nil
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.visitPageSize
	}

	c.mu.Lock()
	c.visitSeq[patientUUID]++
	seq := c.visitSeq[patientUUID]
	c.mu.Unlock()

	params := url.Values{}
	params.Set("current_page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))
	if opts.Query != "" {
		params.Set("query", opts.Query)
	}

	var res models.ListAnamnesesResponse
	path := "/patients/" + patientUUID + "/anamneses?" + params.Encode()
	if err := c.client.Do(ctx, "GET", path, sess.Token, nil, &res); err != nil {
		return VisitPage{}, c.fail("could not fetch visits", err)
	}

	items := res.Anamneses
	result := VisitPage{Items: items, HasNext: len(items) == pageSize}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.visitSeq[patientUUID] {
		return result, nil
	}
	c.visits[patientUUID] = items
	c.lastError = ""
	return result, nil
}

// fetchAllVisits loads the full visit list for a patient, used as selection
// candidates for PDF composition. The result bypasses the page cache.
func (c *Cache) fetchAllVisits(ctx context.Context, patientUUID string) ([]models.Anamnesis, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, nil
	}

	params := url.Values{}
	params.Set("current_page", "1")
	params.Set("page_size", strconv.Itoa(candidatePageSize))

	var res models.ListAnamnesesResponse
	path := "/patients/" + patientUUID + "/anamneses?" + params.Encode()
	if err := c.client.Do(ctx, "GET", path, sess.Token, nil, &res); err != nil {
		return nil, c.fail("could not fetch visits", err)
	}
	return res.Anamneses, nil
}

// CreateVisit posts a new visit and prepends it to the cached slot for the
// patient. Other cached slots are not re-fetched.
func (c *Cache) CreateVisit(ctx context.Context, patientUUID string, input models.AnamnesisInput) (*models.Anamnesis, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, nil
	}
	if err := c.validate.Struct(input); err != nil {
		return nil, c.fail("visit requires a clinical note", err)
	}
	if input.IncludeVisitUUIDs == nil {
		input.IncludeVisitUUIDs = []string{}
	}

	var created models.Anamnesis
	path := "/patients/" + patientUUID + "/anamneses"
	if err := c.client.Do(ctx, "POST", path, sess.Token, input, &created); err != nil {
		return nil, c.fail("could not save visit", err)
	}

	c.mu.Lock()
	c.visits[patientUUID] = append([]models.Anamnesis{created}, c.visits[patientUUID]...)
	c.lastError = ""
	c.mu.Unlock()
	return &created, nil
}

// DeleteVisit removes a visit from the cache only on confirmed server success.
func (c *Cache) DeleteVisit(ctx context.Context, patientUUID, visitUUID string) error {
	sess := c.activeSession()
	if sess == nil {
		return nil
	}
	path := "/patients/" + patientUUID + "/anamneses/" + visitUUID
	if err := c.client.Do(ctx, "DELETE", path, sess.Token, nil, nil); err != nil {
		return c.fail("could not delete visit", err)
	}

	c.mu.Lock()
	kept := c.visits[patientUUID][:0]
	for _, a := range c.visits[patientUUID] {
		if a.UUID != visitUUID {
			kept = append(kept, a)
		}
	}
	c.visits[patientUUID] = kept
	c.lastError = ""
	c.mu.Unlock()
	return nil
}

// UpdateVisit patches a single visit, in practice to set its included-visits
// selection independently of the clinical fields, and replaces the single
// cached record on success.
func (c *Cache) UpdateVisit(ctx context.Context, patientUUID, visitUUID string, req models.UpdateAnamnesisRequest) (*models.Anamnesis, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, nil
	}

	var updated models.Anamnesis
	path := "/patients/" + patientUUID + "/anamneses/" + visitUUID
	if err := c.client.Do(ctx, "PATCH", path, sess.Token, req, &updated); err != nil {
		return nil, c.fail("could not update visit", err)
	}

	c.mu.Lock()
	for i, a := range c.visits[patientUUID] {
		if a.UUID == visitUUID {
			c.visits[patientUUID][i] = updated
			break
		}
	}
	c.lastError = ""
	c.mu.Unlock()
	return &updated, nil
}

// GeneratePDF requests the generated summary document for a visit. Which
// visits' text gets merged is decided server-side from the passed selection;
// the raw document is returned, or nil with an error on failure.
func (c *Cache) GeneratePDF(ctx context.Context, patientUUID, visitUUID string, includeUUIDs []string, onlyCurrent bool) ([]byte, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, nil
	}

	path := "/patients/" + patientUUID + "/anamneses/" + visitUUID + "/pdf"
	if onlyCurrent {
		path += "?only_current=true"
	}
	req := models.GeneratePDFRequest{IncludeVisitUUIDs: includeUUIDs}
	data, err := c.client.DoRaw(ctx, "POST", path, sess.Token, req)
	if err != nil {
		return nil, c.fail("could not generate PDF", err)
	}

	c.mu.Lock()
	c.lastError = ""
	c.mu.Unlock()
	return data, nil
}
