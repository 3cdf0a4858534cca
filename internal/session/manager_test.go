package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incapacidades/backend/internal/backend"
	"github.com/incapacidades/backend/internal/ledger"
	"github.com/incapacidades/backend/internal/models"
	"github.com/incapacidades/backend/internal/quality"
	"github.com/incapacidades/backend/internal/requirements"
	"github.com/incapacidades/backend/internal/wizard"
)

var (
	legible   = quality.Verdict{IsLegible: true, QualityScore: 100, Message: quality.MsgAcceptable}
	illegible = quality.Verdict{IsLegible: false, QualityScore: 20, Message: quality.MsgBrightness}
)

// fakeScorer answers by file name. Files named "slow*" block until their
// context ends.
type fakeScorer struct {
	verdicts     map[string]quality.Verdict
	slowReturned chan struct{}
}

func (s *fakeScorer) Score(ctx context.Context, f quality.File) quality.Verdict {
	if len(f.Name) >= 4 && f.Name[:4] == "slow" {
		<-ctx.Done()
		if s.slowReturned != nil {
			s.slowReturned <- struct{}{}
		}
		return quality.Verdict{Message: "stale"}
	}
	if v, ok := s.verdicts[f.Name]; ok {
		return v
	}
	return legible
}

type fakeBackend struct {
	mu        sync.Mutex
	employees map[string]*backend.Employee
	lookupErr error
	submitErr error
	submitted []backend.Submission

	// entered and release, when set, hold SubmitClaim mid-call.
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBackend) LookupEmployee(ctx context.Context, cedula string) (*backend.Employee, error) {
	if b.lookupErr != nil {
		return nil, b.lookupErr
	}
	emp, ok := b.employees[cedula]
	if !ok {
		return nil, &backend.Error{Status: 404, Message: "Empleado no encontrado"}
	}
	return emp, nil
}

func (b *fakeBackend) SubmitClaim(ctx context.Context, s backend.Submission) (*backend.Receipt, error) {
	if b.entered != nil {
		close(b.entered)
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, s)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return &backend.Receipt{Status: 200, Data: map[string]any{"radicado": "INC-7"}}, nil
}

type fakeLedger struct {
	entries []ledger.Entry
}

func (l *fakeLedger) Record(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	e.ID = "01TESTULID"
	l.entries = append(l.entries, e)
	return e, nil
}

type fixture struct {
	m      *Manager
	scorer *fakeScorer
	be     *fakeBackend
	ledger *fakeLedger
}

func newFixture() *fixture {
	f := &fixture{
		scorer: &fakeScorer{verdicts: map[string]quality.Verdict{"dark.jpg": illegible}},
		be: &fakeBackend{employees: map[string]*backend.Employee{
			"1020304050": {Nombre: "Ana Pérez", Empresa: "Acme SAS"},
		}},
		ledger: &fakeLedger{},
	}
	f.m = NewManager(Options{Scorer: f.scorer, Backend: f.be, Ledger: f.ledger})
	return f
}

// toUpload starts a session and walks it to DocumentUpload with claim answers.
func (f *fixture) toUpload(t *testing.T, category requirements.Category, motherWorks bool) string {
	t.Helper()
	s, err := f.m.Start()
	require.NoError(t, err)
	_, err = f.m.SubmitIdentity(context.Background(), s.ID, "1.020.304.050")
	require.NoError(t, err)
	_, err = f.m.ConfirmIdentity(s.ID, true)
	require.NoError(t, err)
	ws, err := f.m.SelectCategory(s.ID, category, motherWorks)
	require.NoError(t, err)
	if category != requirements.CategoryOther {
		require.Equal(t, wizard.StateDocumentUpload, ws.State)
	}
	return s.ID
}

func (f *fixture) attach(t *testing.T, id, label, filename string) *models.DocumentSlot {
	t.Helper()
	_, err := f.m.AttachDocument(id, Upload{Label: label, Filename: filename, MIMEType: "image/jpeg", Data: []byte("img")})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	slot, err := f.m.WaitDocument(ctx, id, label)
	require.NoError(t, err)
	return slot
}

func TestManager_MaternityFlow(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryMaternity, false)

	ws, ok := f.m.Get(id)
	require.True(t, ok)
	assert.Equal(t, "1020304050", ws.Cedula)
	assert.Equal(t, "Acme SAS", ws.Employee.Empresa)
	assert.Len(t, ws.Required, 5)
	assert.False(t, ws.Ready)

	for _, label := range ws.Required {
		slot := f.attach(t, id, label, label+".jpg")
		assert.Equal(t, models.DocumentStatusReady, slot.Status)
		assert.True(t, slot.Required)
	}

	ws, _ = f.m.Get(id)
	assert.True(t, ws.Ready)

	ws, err := f.m.ProceedToContact(id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StateContactInfo, ws.State)

	ws, err = f.m.Submit(context.Background(), id, models.Contact{Email: "Ana@Acme.co", Telefono: "300 123 4567"})
	require.NoError(t, err)
	assert.Equal(t, wizard.StateComplete, ws.State)
	assert.Equal(t, "01TESTULID", ws.SubmissionID)
	assert.Equal(t, "INC-7", ws.Receipt.Data["radicado"])

	require.Len(t, f.be.submitted, 1)
	sub := f.be.submitted[0]
	assert.Equal(t, "1020304050", sub.Cedula)
	assert.Equal(t, "Acme SAS", sub.Empresa)
	assert.Equal(t, "maternity", sub.Tipo)
	assert.Equal(t, "ana@acme.co", sub.Email)
	assert.Equal(t, "3001234567", sub.Telefono)
	require.Len(t, sub.Archivos, 5)
	assert.Equal(t, "Licencia o incapacidad de maternidad.jpg", sub.Archivos[0].Filename)

	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, ledger.OutcomeSubmitted, f.ledger.entries[0].Outcome)
	assert.Equal(t, 5, f.ledger.entries[0].Documents)
}

func TestManager_OtherFlowNeedsDetail(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryOther, false)

	ws, _ := f.m.Get(id)
	assert.Equal(t, wizard.StateSubtypeDetail, ws.State)
	assert.Empty(t, ws.Required)

	_, err := f.m.SetDetail(id, Detail{Subtype: requirements.SubtypeGeneral})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "daysOfLeave", ve.Field)

	zero := 0
	_, err = f.m.SetDetail(id, Detail{Subtype: requirements.SubtypeGeneral, DaysOfLeave: &zero})
	require.True(t, errors.As(err, &ve))

	ws, err = f.m.SetDetail(id, Detail{Subtype: requirements.SubtypeTraffic, PhantomVehicle: true})
	require.NoError(t, err)
	assert.Equal(t, wizard.StateDocumentUpload, ws.State)
	assert.Equal(t, []string{"Incapacidad médica", "Epicrisis o resumen clínico", "FURIPS"}, ws.Required)
	assert.Equal(t, "traffic", ws.Claim.Tipo())
}

func TestManager_Readiness(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryPaternity, false)
	ws, _ := f.m.Get(id)
	require.Len(t, ws.Required, 4)

	for _, label := range ws.Required {
		f.attach(t, id, label, "ok.jpg")
	}
	ws, _ = f.m.Get(id)
	require.True(t, ws.Ready)

	// an unrelated document never changes readiness
	f.attach(t, id, "Foto adicional", "dark.jpg")
	ws, _ = f.m.Get(id)
	assert.True(t, ws.Ready)
	assert.Len(t, ws.Documents, 5)
	assert.False(t, ws.Documents[4].Required, "extras sort after required documents")

	// an illegible re-upload of a required document flips readiness
	slot := f.attach(t, id, ws.Required[0], "dark.jpg")
	assert.False(t, slot.Verdict.IsLegible)
	ws, _ = f.m.Get(id)
	assert.False(t, ws.Ready)

	f.attach(t, id, ws.Required[0], "ok.jpg")
	ws, _ = f.m.Get(id)
	assert.True(t, ws.Ready)

	// removing a required document flips readiness immediately
	ws, err := f.m.RemoveDocument(id, ws.Required[1])
	require.NoError(t, err)
	assert.False(t, ws.Ready)

	_, err = f.m.ProceedToContact(id)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = f.m.RemoveDocument(id, "nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestManager_RequirementChangeAfterBack(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryPaternity, false)
	ws, _ := f.m.Get(id)
	for _, label := range ws.Required {
		f.attach(t, id, label, "ok.jpg")
	}

	ws, err := f.m.Back(id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StateCategorySelect, ws.State)

	ws, err = f.m.SelectCategory(id, requirements.CategoryPaternity, true)
	require.NoError(t, err)
	assert.Len(t, ws.Required, 5)
	assert.False(t, ws.Ready, "new maternity-license requirement is missing")

	f.attach(t, id, "Licencia o incapacidad de maternidad", "ok.jpg")
	ws, _ = f.m.Get(id)
	assert.True(t, ws.Ready)
}

func TestManager_SupersededUploadIsDiscarded(t *testing.T) {
	f := newFixture()
	f.scorer.slowReturned = make(chan struct{}, 1)
	id := f.toUpload(t, requirements.CategoryMaternity, false)
	label := "Registro civil"

	first, err := f.m.AttachDocument(id, Upload{Label: label, Filename: "slow.jpg", MIMEType: "image/jpeg", Data: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusValidating, first.Status)
	assert.Nil(t, first.Verdict)

	slot := f.attach(t, id, label, "fast.jpg")
	assert.Equal(t, "fast.jpg", slot.Filename)
	assert.Equal(t, legible, *slot.Verdict)

	select {
	case <-f.scorer.slowReturned:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded scoring was not cancelled")
	}

	ws, _ := f.m.Get(id)
	require.Len(t, ws.Documents, 1)
	assert.Equal(t, "fast.jpg", ws.Documents[0].Filename)
	assert.Equal(t, quality.MsgAcceptable, ws.Documents[0].Verdict.Message)
}

func TestManager_WaitDocumentHonoursContext(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryMaternity, false)

	_, err := f.m.AttachDocument(id, Upload{Label: "Registro civil", Filename: "slow.jpg", Data: []byte("a")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.m.WaitDocument(ctx, id, "Registro civil")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoError(t, f.m.Delete(id))
	_, err = f.m.WaitDocument(context.Background(), id, "Registro civil")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_IdentityErrors(t *testing.T) {
	f := newFixture()
	s, err := f.m.Start()
	require.NoError(t, err)

	_, err = f.m.SubmitIdentity(context.Background(), s.ID, "12")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	_, err = f.m.SubmitIdentity(context.Background(), s.ID, "5555555")
	var be *backend.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "Empleado no encontrado", be.Message)

	f.be.lookupErr = backend.ErrConnection
	_, err = f.m.SubmitIdentity(context.Background(), s.ID, "1020304050")
	assert.ErrorIs(t, err, backend.ErrConnection)

	ws, _ := f.m.Get(s.ID)
	assert.Equal(t, wizard.StateIdentityEntry, ws.State, "failed lookups leave the step unchanged")

	f.be.lookupErr = nil
	_, err = f.m.SubmitIdentity(context.Background(), s.ID, "1020304050")
	require.NoError(t, err)

	ws, err = f.m.ConfirmIdentity(s.ID, false)
	require.NoError(t, err)
	assert.Equal(t, wizard.StateIdentityEntry, ws.State)
	assert.Nil(t, ws.Employee)

	_, err = f.m.SubmitIdentity(context.Background(), "missing", "1020304050")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_WrongStep(t *testing.T) {
	f := newFixture()
	s, _ := f.m.Start()

	_, err := f.m.SelectCategory(s.ID, requirements.CategoryMaternity, false)
	var te *wizard.TransitionError
	assert.True(t, errors.As(err, &te))

	_, err = f.m.AttachDocument(s.ID, Upload{Label: "x", Data: []byte("a")})
	assert.True(t, errors.As(err, &te))

	_, err = f.m.SelectCategory(s.ID, requirements.Category("adoption"), false)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestManager_SubmitFailureIsRetryable(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryOther, false)
	five := 5
	_, err := f.m.SetDetail(id, Detail{Subtype: requirements.SubtypeLabor, DaysOfLeave: &five})
	require.NoError(t, err)
	for _, label := range []string{"Incapacidad médica", "Epicrisis o resumen clínico"} {
		f.attach(t, id, label, "ok.jpg")
	}
	_, err = f.m.ProceedToContact(id)
	require.NoError(t, err)

	_, err = f.m.Submit(context.Background(), id, models.Contact{Email: "bad", Telefono: "3001234567"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "email", ve.Field)

	f.be.submitErr = backend.ErrConnection
	_, err = f.m.Submit(context.Background(), id, models.Contact{Email: "a@b.co", Telefono: "3001234567"})
	assert.ErrorIs(t, err, backend.ErrConnection)
	ws, _ := f.m.Get(id)
	assert.Equal(t, wizard.StateContactInfo, ws.State)
	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, ledger.OutcomeFailed, f.ledger.entries[0].Outcome)

	f.be.submitErr = nil
	ws, err = f.m.Submit(context.Background(), id, models.Contact{Email: "a@b.co", Telefono: "3001234567"})
	require.NoError(t, err)
	assert.Equal(t, wizard.StateComplete, ws.State)
	assert.Equal(t, "labor", f.be.submitted[1].Tipo)

	_, err = f.m.Back(id)
	assert.Error(t, err, "complete is terminal")
}

func TestManager_DeleteRefusedWhileSubmitting(t *testing.T) {
	f := newFixture()
	id := f.toUpload(t, requirements.CategoryOther, false)
	five := 5
	_, err := f.m.SetDetail(id, Detail{Subtype: requirements.SubtypeLabor, DaysOfLeave: &five})
	require.NoError(t, err)
	for _, label := range []string{"Incapacidad médica", "Epicrisis o resumen clínico"} {
		f.attach(t, id, label, "ok.jpg")
	}
	_, err = f.m.ProceedToContact(id)
	require.NoError(t, err)

	f.be.entered = make(chan struct{})
	f.be.release = make(chan struct{})

	type result struct {
		ws  *models.WizardSession
		err error
	}
	done := make(chan result, 1)
	go func() {
		ws, err := f.m.Submit(context.Background(), id, models.Contact{Email: "a@b.co", Telefono: "3001234567"})
		done <- result{ws, err}
	}()

	select {
	case <-f.be.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("submission never reached the backend")
	}

	assert.ErrorIs(t, f.m.Delete(id), ErrSubmitting)
	close(f.be.release)

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return")
	}
	require.NoError(t, res.err)
	assert.Equal(t, wizard.StateComplete, res.ws.State)
	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, ledger.OutcomeSubmitted, f.ledger.entries[0].Outcome)

	assert.NoError(t, f.m.Delete(id), "a settled session can be deleted")
	assert.ErrorIs(t, f.m.Delete(id), ErrSessionNotFound)
}

func TestManager_CleanupOldSessions(t *testing.T) {
	f := newFixture()
	s1, _ := f.m.Start()
	s2, _ := f.m.Start()

	f.m.mu.Lock()
	f.m.sessions[s1.ID].LastAccessed = time.Now().Add(-time.Hour)
	f.m.mu.Unlock()

	assert.Equal(t, 1, f.m.CleanupOldSessions(30*time.Minute))
	_, ok := f.m.Get(s1.ID)
	assert.False(t, ok)
	assert.True(t, f.m.Touch(s2.ID))
	assert.Equal(t, 1, f.m.Count())
}

func TestManager_MaxSessions(t *testing.T) {
	m := NewManager(Options{Scorer: &fakeScorer{}, Backend: &fakeBackend{}, MaxSessions: 2})
	_, err := m.Start()
	require.NoError(t, err)
	_, err = m.Start()
	require.NoError(t, err)
	_, err = m.Start()
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManager_AttachValidation(t *testing.T) {
	m := NewManager(Options{Scorer: &fakeScorer{}, Backend: &fakeBackend{}, MaxDocumentBytes: 4})
	var ve *ValidationError

	_, err := m.AttachDocument("x", Upload{Data: []byte("a")})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "label", ve.Field)

	_, err = m.AttachDocument("x", Upload{Label: "l"})
	require.True(t, errors.As(err, &ve))

	_, err = m.AttachDocument("x", Upload{Label: "l", Data: []byte("too big")})
	require.True(t, errors.As(err, &ve))

	_, err = m.AttachDocument("x", Upload{Label: "l", Data: []byte("ok")})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
