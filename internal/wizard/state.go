// Package wizard models the intake steps as a finite state machine.
package wizard

import (
	"fmt"

	"github.com/incapacidades/backend/internal/requirements"
)

// State is one wizard step.
type State string

const (
	StateIdentityEntry   State = "identity_entry"
	StateIdentityConfirm State = "identity_confirm"
	StateCategorySelect  State = "category_select"
	StateSubtypeDetail   State = "subtype_detail"
	StateDocumentUpload  State = "document_upload"
	StateContactInfo     State = "contact_info"
	StateComplete        State = "complete"
)

// transitions lists every forward move plus the moves the back button makes.
var transitions = map[State][]State{
	StateIdentityEntry:   {StateIdentityConfirm},
	StateIdentityConfirm: {StateCategorySelect, StateIdentityEntry},
	StateCategorySelect:  {StateSubtypeDetail, StateDocumentUpload, StateIdentityConfirm},
	StateSubtypeDetail:   {StateDocumentUpload, StateCategorySelect},
	StateDocumentUpload:  {StateContactInfo, StateSubtypeDetail, StateCategorySelect},
	StateContactInfo:     {StateComplete, StateDocumentUpload},
	StateComplete:        nil,
}

// TransitionError is returned for a move the table does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a move against the table and the claim context.
// DocumentUpload is only reachable with a context that resolves to at least
// one document, and SubtypeDetail only for CategoryOther.
func Transition(from, to State, ctx requirements.Context) (State, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	switch to {
	case StateSubtypeDetail:
		if ctx.Category != requirements.CategoryOther {
			return from, &TransitionError{From: from, To: to}
		}
	case StateDocumentUpload:
		if from == StateCategorySelect && ctx.Category == requirements.CategoryOther {
			return from, &TransitionError{From: from, To: to}
		}
		if !ctx.Complete() {
			return from, fmt.Errorf("%w: claim details incomplete", &TransitionError{From: from, To: to})
		}
	}
	return to, nil
}

// AfterCategory is the step that follows CategorySelect for c.
func AfterCategory(c requirements.Category) State {
	if c == requirements.CategoryOther {
		return StateSubtypeDetail
	}
	return StateDocumentUpload
}

// Back returns the step before from. Maternity and paternity skip
// SubtypeDetail on the way back just as they do on the way in.
func Back(from State, c requirements.Category) (State, error) {
	var to State
	switch from {
	case StateIdentityConfirm:
		to = StateIdentityEntry
	case StateCategorySelect:
		to = StateIdentityConfirm
	case StateSubtypeDetail:
		to = StateCategorySelect
	case StateDocumentUpload:
		if c == requirements.CategoryOther {
			to = StateSubtypeDetail
		} else {
			to = StateCategorySelect
		}
	case StateContactInfo:
		to = StateDocumentUpload
	default:
		return from, &TransitionError{From: from, To: from}
	}
	return to, nil
}

// Step returns the 1-based position of s for progress indicators.
func Step(s State) int {
	switch s {
	case StateIdentityEntry:
		return 1
	case StateIdentityConfirm:
		return 2
	case StateCategorySelect:
		return 3
	case StateSubtypeDetail:
		return 4
	case StateDocumentUpload:
		return 5
	case StateContactInfo:
		return 6
	case StateComplete:
		return 7
	}
	return 0
}
