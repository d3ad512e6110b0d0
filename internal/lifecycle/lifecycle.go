// Package lifecycle holds the single transition table for ticket statuses.
// Every status mutation is checked here inside the transaction that performs it.
package lifecycle

import (
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
)

var transitions = map[model.TicketStatus][]model.TicketStatus{
	model.TicketStatusNew:        {model.TicketStatusClassified},
	model.TicketStatusClassified: {model.TicketStatusAssigned},
	model.TicketStatusAssigned:   {model.TicketStatusInProgress},
	model.TicketStatusInProgress: {model.TicketStatusResolved},
	model.TicketStatusResolved:   {model.TicketStatusClosed, model.TicketStatusReopened},
	model.TicketStatusClosed:     {model.TicketStatusReopened},
	model.TicketStatusReopened:   {model.TicketStatusAssigned},
}

// Allowed reports whether from -> to is in the table.
func Allowed(from, to model.TicketStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns *errs.TransitionError when from -> to is not allowed.
func Check(from, to model.TicketStatus) error {
	if !Allowed(from, to) {
		return &errs.TransitionError{From: string(from), To: string(to)}
	}
	return nil
}

// Next lists the statuses reachable from s.
func Next(s model.TicketStatus) []model.TicketStatus {
	out := make([]model.TicketStatus, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// Terminal reports whether no transition leaves s except a reopen.
func Terminal(s model.TicketStatus) bool {
	next := transitions[s]
	return len(next) == 1 && next[0] == model.TicketStatusReopened
}

// Awaiting reports whether a ticket in s is queued for a pipeline stage.
func Awaiting(s model.TicketStatus) bool {
	switch s {
	case model.TicketStatusNew, model.TicketStatusClassified, model.TicketStatusReopened:
		return true
	}
	return false
}
