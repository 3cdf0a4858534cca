package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/incapacidades/backend/internal/backend"
	"github.com/incapacidades/backend/internal/ledger"
	"github.com/incapacidades/backend/internal/models"
	"github.com/incapacidades/backend/internal/quality"
	"github.com/incapacidades/backend/internal/requirements"
	"github.com/incapacidades/backend/internal/validate"
	"github.com/incapacidades/backend/internal/wizard"
)

// MaxSessions limits concurrent wizard sessions to bound memory held by uploads.
const MaxSessions = 200

// SessionMaxAge is how long an idle session is kept before cleanup.
const SessionMaxAge = 30 * time.Minute

// DefaultMaxDocumentBytes caps a single uploaded document.
const DefaultMaxDocumentBytes = 10 << 20

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTooManySessions  = errors.New("too many active sessions")
	ErrNotReady         = errors.New("faltan documentos requeridos o legibles")
	ErrSubmitting       = errors.New("submission already in progress")
)

// ValidationError reports a rejected user-supplied field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Backend is the slice of the HR backend the wizard needs.
type Backend interface {
	LookupEmployee(ctx context.Context, cedula string) (*backend.Employee, error)
	SubmitClaim(ctx context.Context, s backend.Submission) (*backend.Receipt, error)
}

// Scorer rates uploaded documents.
type Scorer interface {
	Score(ctx context.Context, f quality.File) quality.Verdict
}

// Recorder keeps the submission ledger.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Options configures a Manager.
type Options struct {
	Resolver         *requirements.Resolver
	Scorer           Scorer
	Backend          Backend
	Ledger           Recorder
	MaxSessions      int
	MaxDocumentBytes int64
}

// Manager holds the active wizard sessions.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex

	resolver    *requirements.Resolver
	scorer      Scorer
	backend     Backend
	ledger      Recorder
	maxSessions int
	maxDocBytes int64
}

// SessionState is the mutable state of one wizard session.
type SessionState struct {
	ID           string
	State        wizard.State
	Cedula       string
	Employee     *backend.Employee
	Claim        requirements.Context
	Contact      models.Contact
	Receipt      *backend.Receipt
	SubmissionID string
	CreatedAt    time.Time
	LastAccessed time.Time

	slots      map[string]*documentSlot
	submitting bool
}

// documentSlot is one upload. A re-upload replaces the whole slot, so a
// scoring goroutine can tell it was superseded by pointer comparison.
type documentSlot struct {
	label      string
	filename   string
	mimeType   string
	data       []byte
	size       int64
	uploadedAt time.Time
	verdict    *quality.Verdict
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewManager creates a session manager. Scorer and Backend are required.
func NewManager(opts Options) *Manager {
	if opts.Resolver == nil {
		opts.Resolver = requirements.NewResolver(nil)
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = MaxSessions
	}
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	return &Manager{
		sessions:    make(map[string]*SessionState),
		resolver:    opts.Resolver,
		scorer:      opts.Scorer,
		backend:     opts.Backend,
		ledger:      opts.Ledger,
		maxSessions: opts.MaxSessions,
		maxDocBytes: opts.MaxDocumentBytes,
	}
}

// Resolver returns the requirement resolver sessions use.
func (m *Manager) Resolver() *requirements.Resolver {
	return m.resolver
}

// Start opens a new session at IdentityEntry.
func (m *Manager) Start() (*models.WizardSession, error) {
	m.cleanupOldSessionsIfNeeded()

	now := time.Now()
	state := &SessionState{
		ID:           uuid.New().String(),
		State:        wizard.StateIdentityEntry,
		CreatedAt:    now,
		LastAccessed: now,
		slots:        make(map[string]*documentSlot),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}
	m.sessions[state.ID] = state

	fmt.Printf("[Session %s] Started (%d active)\n", state.ID[:8], len(m.sessions))
	return m.snapshot(state), nil
}

// Get returns a snapshot of a session.
func (m *Manager) Get(id string) (*models.WizardSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return m.snapshot(state), true
}

// Touch marks a session as recently used so cleanup keeps it.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Delete drops a session and abandons its in-flight scoring. A session
// whose claim is being sent cannot be deleted until the send settles.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if state.submitting {
		return ErrSubmitting
	}
	m.dropLocked(state)
	return nil
}

// SubmitIdentity validates cedula, looks the employee up and moves to
// IdentityConfirm. Backend errors are returned unchanged.
func (m *Manager) SubmitIdentity(ctx context.Context, id, cedula string) (*models.WizardSession, error) {
	normalized, err := validate.Cedula(cedula)
	if err != nil {
		return nil, &ValidationError{Field: "cedula", Message: err.Error()}
	}

	if _, err := m.expectState(id, wizard.StateIdentityEntry); err != nil {
		return nil, err
	}

	emp, err := m.backend.LookupEmployee(ctx, normalized)
	if err != nil {
		fmt.Printf("[Session %s] Identity lookup failed: %v\n", id[:8], err)
		return nil, err
	}

	return m.update(id, func(state *SessionState) error {
		next, err := wizard.Transition(state.State, wizard.StateIdentityConfirm, state.Claim)
		if err != nil {
			return err
		}
		state.Cedula = normalized
		state.Employee = emp
		state.State = next
		return nil
	})
}

// ConfirmIdentity accepts or rejects the looked-up employee.
func (m *Manager) ConfirmIdentity(id string, confirmed bool) (*models.WizardSession, error) {
	return m.update(id, func(state *SessionState) error {
		to := wizard.StateCategorySelect
		if !confirmed {
			to = wizard.StateIdentityEntry
		}
		next, err := wizard.Transition(state.State, to, state.Claim)
		if err != nil {
			return err
		}
		if !confirmed {
			state.Cedula = ""
			state.Employee = nil
		}
		state.State = next
		return nil
	})
}

// SelectCategory records the claim category. Maternity and paternity go
// straight to DocumentUpload; other goes to SubtypeDetail.
func (m *Manager) SelectCategory(id string, category requirements.Category, motherWorks bool) (*models.WizardSession, error) {
	if _, err := requirements.ParseCategory(string(category)); err != nil {
		return nil, &ValidationError{Field: "category", Message: err.Error()}
	}

	return m.update(id, func(state *SessionState) error {
		claim := requirements.Context{Category: category}
		if category == requirements.CategoryPaternity {
			claim.MotherWorks = motherWorks
		}
		next, err := wizard.Transition(state.State, wizard.AfterCategory(category), claim)
		if err != nil {
			return err
		}
		state.Claim = claim
		state.State = next
		return nil
	})
}

// Detail carries the SubtypeDetail answers.
type Detail struct {
	Subtype        requirements.Subtype
	DaysOfLeave    *int
	PhantomVehicle bool
}

// SetDetail records the subtype answers of an "other" claim.
func (m *Manager) SetDetail(id string, d Detail) (*models.WizardSession, error) {
	if _, err := requirements.ParseSubtype(string(d.Subtype)); err != nil {
		return nil, &ValidationError{Field: "subtype", Message: err.Error()}
	}
	if d.DaysOfLeave != nil {
		if err := validate.DaysOfLeave(*d.DaysOfLeave); err != nil {
			return nil, &ValidationError{Field: "daysOfLeave", Message: err.Error()}
		}
	} else if d.Subtype != requirements.SubtypeTraffic {
		return nil, &ValidationError{Field: "daysOfLeave", Message: "requerido"}
	}

	return m.update(id, func(state *SessionState) error {
		claim := requirements.Context{
			Category:    state.Claim.Category,
			Subtype:     d.Subtype,
			DaysOfLeave: d.DaysOfLeave,
		}
		if d.Subtype == requirements.SubtypeTraffic {
			claim.PhantomVehicle = d.PhantomVehicle
		}
		next, err := wizard.Transition(state.State, wizard.StateDocumentUpload, claim)
		if err != nil {
			return err
		}
		state.Claim = claim
		state.State = next
		return nil
	})
}

// Upload is a file attached to a document label.
type Upload struct {
	Label    string
	Filename string
	MIMEType string
	Data     []byte
}

// AttachDocument stores an upload under its label and starts scoring it in
// the background. A previous upload for the same label is replaced and its
// pending verdict discarded.
func (m *Manager) AttachDocument(id string, up Upload) (*models.DocumentSlot, error) {
	if up.Label == "" {
		return nil, &ValidationError{Field: "label", Message: "requerido"}
	}
	if len(up.Data) == 0 {
		return nil, &ValidationError{Field: "file", Message: "archivo vacío"}
	}
	if int64(len(up.Data)) > m.maxDocBytes {
		return nil, &ValidationError{Field: "file", Message: fmt.Sprintf("el archivo supera %d bytes", m.maxDocBytes)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.State != wizard.StateDocumentUpload {
		return nil, &wizard.TransitionError{From: state.State, To: wizard.StateDocumentUpload}
	}

	if prev, ok := state.slots[up.Label]; ok {
		prev.cancel()
	}

	scoreCtx, cancel := context.WithCancel(context.Background())
	slot := &documentSlot{
		label:      up.Label,
		filename:   up.Filename,
		mimeType:   up.MIMEType,
		data:       up.Data,
		size:       int64(len(up.Data)),
		uploadedAt: time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	state.slots[up.Label] = slot
	state.LastAccessed = slot.uploadedAt

	file := quality.File{Name: up.Filename, MIMEType: up.MIMEType, Data: up.Data}
	go m.scoreDocument(scoreCtx, state.ID, slot, file)

	return m.slotView(state, slot), nil
}

func (m *Manager) scoreDocument(ctx context.Context, sessionID string, slot *documentSlot, file quality.File) {
	defer close(slot.done)
	defer slot.cancel()

	start := time.Now()
	v := m.scorer.Score(ctx, file)

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok || state.slots[slot.label] != slot {
		fmt.Printf("[Session %s] Discarded stale verdict for %q\n", sessionID[:8], slot.label)
		return
	}
	slot.verdict = &v
	fmt.Printf("[Session %s] Scored %q: score=%d legible=%v (%s) in %v\n",
		sessionID[:8], slot.label, v.QualityScore, v.IsLegible, v.Message, time.Since(start).Round(time.Millisecond))
}

// WaitDocument blocks until the document under label has a verdict or ctx
// ends. A superseding upload is waited on in turn.
func (m *Manager) WaitDocument(ctx context.Context, id, label string) (*models.DocumentSlot, error) {
	for {
		m.mu.RLock()
		state, ok := m.sessions[id]
		if !ok {
			m.mu.RUnlock()
			return nil, ErrSessionNotFound
		}
		slot, ok := state.slots[label]
		if !ok {
			m.mu.RUnlock()
			return nil, ErrDocumentNotFound
		}
		if slot.verdict != nil {
			view := m.slotView(state, slot)
			m.mu.RUnlock()
			return view, nil
		}
		done := slot.done
		m.mu.RUnlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RemoveDocument deletes the upload under label.
func (m *Manager) RemoveDocument(id, label string) (*models.WizardSession, error) {
	return m.update(id, func(state *SessionState) error {
		if state.State != wizard.StateDocumentUpload {
			return &wizard.TransitionError{From: state.State, To: wizard.StateDocumentUpload}
		}
		slot, ok := state.slots[label]
		if !ok {
			return ErrDocumentNotFound
		}
		slot.cancel()
		delete(state.slots, label)
		return nil
	})
}

// ProceedToContact leaves DocumentUpload once every required document is
// uploaded and legible.
func (m *Manager) ProceedToContact(id string) (*models.WizardSession, error) {
	return m.update(id, func(state *SessionState) error {
		next, err := wizard.Transition(state.State, wizard.StateContactInfo, state.Claim)
		if err != nil {
			return err
		}
		if !m.readyLocked(state) {
			return ErrNotReady
		}
		state.State = next
		return nil
	})
}

// Back moves one step back. Answers and uploads are kept.
func (m *Manager) Back(id string) (*models.WizardSession, error) {
	return m.update(id, func(state *SessionState) error {
		if state.submitting {
			return ErrSubmitting
		}
		prev, err := wizard.Back(state.State, state.Claim.Category)
		if err != nil {
			return err
		}
		state.State = prev
		return nil
	})
}

// Submit validates the contact data and posts the claim with every required
// document to the backend. Uploads for labels that are no longer required
// stay in the session but are not sent.
func (m *Manager) Submit(ctx context.Context, id string, contact models.Contact) (*models.WizardSession, error) {
	email, err := validate.Email(contact.Email)
	if err != nil {
		return nil, &ValidationError{Field: "email", Message: err.Error()}
	}
	phone, err := validate.Phone(contact.Telefono)
	if err != nil {
		return nil, &ValidationError{Field: "telefono", Message: err.Error()}
	}

	var sub backend.Submission
	_, err = m.update(id, func(state *SessionState) error {
		if _, err := wizard.Transition(state.State, wizard.StateComplete, state.Claim); err != nil {
			return err
		}
		if state.submitting {
			return ErrSubmitting
		}
		if !m.readyLocked(state) {
			return ErrNotReady
		}
		state.Contact = models.Contact{Email: email, Telefono: phone}
		state.submitting = true
		sub = m.buildSubmissionLocked(state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fmt.Printf("[Session %s] Submitting %s claim with %d documents\n", id[:8], sub.Tipo, len(sub.Archivos))
	receipt, submitErr := m.backend.SubmitClaim(ctx, sub)

	entry := ledger.Entry{
		SessionID: id,
		Cedula:    sub.Cedula,
		Empresa:   sub.Empresa,
		Tipo:      sub.Tipo,
		Documents: len(sub.Archivos),
		Outcome:   ledger.OutcomeSubmitted,
	}
	if submitErr != nil {
		entry.Outcome = ledger.OutcomeFailed
		entry.Error = submitErr.Error()
	}
	if m.ledger != nil {
		recorded, err := m.ledger.Record(context.WithoutCancel(ctx), entry)
		if err != nil {
			fmt.Printf("[Session %s] WARNING: ledger write failed: %v\n", id[:8], err)
		}
		entry.ID = recorded.ID
	}

	return m.update(id, func(state *SessionState) error {
		state.submitting = false
		if submitErr != nil {
			return submitErr
		}
		state.Receipt = receipt
		state.SubmissionID = entry.ID
		state.State = wizard.StateComplete
		for _, slot := range state.slots {
			slot.data = nil
		}
		return nil
	})
}

// CleanupOldSessions removes sessions idle for longer than maxAge.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, state := range m.sessions {
		if state.LastAccessed.Before(cutoff) && !state.submitting {
			m.dropLocked(state)
			removed++
		}
	}
	if removed > 0 {
		fmt.Printf("[Session] Cleaned up %d idle sessions (%d active)\n", removed, len(m.sessions))
	}
	return removed
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.RLock()
	full := len(m.sessions) >= m.maxSessions
	m.mu.RUnlock()
	if full {
		m.CleanupOldSessions(SessionMaxAge)
	}
}

func (m *Manager) dropLocked(state *SessionState) {
	for _, slot := range state.slots {
		slot.cancel()
	}
	delete(m.sessions, state.ID)
	fmt.Printf("[Session %s] Removed\n", state.ID[:8])
}

func (m *Manager) expectState(id string, want wizard.State) (*models.WizardSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.State != want {
		return nil, &wizard.TransitionError{From: state.State, To: want}
	}
	return m.snapshot(state), nil
}

// update runs fn on the session under the write lock and returns the
// resulting snapshot.
func (m *Manager) update(id string, fn func(state *SessionState) error) (*models.WizardSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	state.LastAccessed = time.Now()
	if err := fn(state); err != nil {
		return nil, err
	}
	return m.snapshot(state), nil
}

// readyLocked reports whether every required label has a legible upload.
func (m *Manager) readyLocked(state *SessionState) bool {
	required := m.resolver.Resolve(state.Claim)
	if len(required) == 0 {
		return false
	}
	for _, label := range required {
		slot, ok := state.slots[label]
		if !ok || slot.verdict == nil || !slot.verdict.IsLegible {
			return false
		}
	}
	return true
}

func (m *Manager) buildSubmissionLocked(state *SessionState) backend.Submission {
	sub := backend.Submission{
		Cedula:   state.Cedula,
		Tipo:     state.Claim.Tipo(),
		Email:    state.Contact.Email,
		Telefono: state.Contact.Telefono,
	}
	if state.Employee != nil {
		sub.Empresa = state.Employee.Empresa
	}
	for _, label := range m.resolver.Resolve(state.Claim) {
		slot := state.slots[label]
		sub.Archivos = append(sub.Archivos, backend.Attachment{
			Filename:    slot.filename,
			ContentType: slot.mimeType,
			Data:        slot.data,
		})
	}
	return sub
}

func (m *Manager) snapshot(state *SessionState) *models.WizardSession {
	required := m.resolver.Resolve(state.Claim)
	ws := &models.WizardSession{
		ID:           state.ID,
		State:        state.State,
		Step:         wizard.Step(state.State),
		Cedula:       state.Cedula,
		Claim:        state.Claim,
		Required:     required,
		Documents:    make([]models.DocumentSlot, 0, len(state.slots)),
		Ready:        m.readyLocked(state),
		Contact:      state.Contact,
		Receipt:      state.Receipt,
		SubmissionID: state.SubmissionID,
		CreatedAt:    state.CreatedAt,
		UpdatedAt:    state.LastAccessed,
	}
	if state.Employee != nil {
		emp := *state.Employee
		ws.Employee = &emp
	}
	if state.Claim.DaysOfLeave != nil {
		d := *state.Claim.DaysOfLeave
		ws.Claim.DaysOfLeave = &d
	}

	for _, slot := range state.slots {
		ws.Documents = append(ws.Documents, *m.slotViewRequired(slot, required))
	}
	// required labels first, in presentation order, then extras by upload time
	rank := make(map[string]int, len(required))
	for i, l := range required {
		rank[l] = i
	}
	sort.SliceStable(ws.Documents, func(i, j int) bool {
		ri, iReq := rank[ws.Documents[i].Label]
		rj, jReq := rank[ws.Documents[j].Label]
		switch {
		case iReq && jReq:
			return ri < rj
		case iReq != jReq:
			return iReq
		}
		return ws.Documents[i].UploadedAt.Before(ws.Documents[j].UploadedAt)
	})
	return ws
}

func (m *Manager) slotView(state *SessionState, slot *documentSlot) *models.DocumentSlot {
	return m.slotViewRequired(slot, m.resolver.Resolve(state.Claim))
}

func (m *Manager) slotViewRequired(slot *documentSlot, required []string) *models.DocumentSlot {
	view := &models.DocumentSlot{
		Label:      slot.label,
		Filename:   slot.filename,
		MIMEType:   slot.mimeType,
		Size:       slot.size,
		Status:     models.DocumentStatusValidating,
		UploadedAt: slot.uploadedAt,
	}
	if slot.verdict != nil {
		v := *slot.verdict
		view.Verdict = &v
		view.Status = models.DocumentStatusReady
	}
	for _, l := range required {
		if l == slot.label {
			view.Required = true
			break
		}
	}
	return view
}
