// Package assign picks technicians for classified tickets and keeps workload counters
// in step with assignment events.
package assign

import (
	"sort"

	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
)

// Selection is the chosen technician and how it was chosen.
type Selection struct {
	Technician    model.Technician
	BestEffort    bool
	MatchedSkills []string
}

// Candidates returns available technicians, other than exclude, that have at least one
// required skill.
func Candidates(techs []model.Technician, required []string, exclude string) []model.Technician {
	var out []model.Technician
	for _, t := range techs {
		if t.Availability != model.AvailabilityAvailable || t.ID == exclude {
			continue
		}
		if len(t.MatchSkills(required)) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Fallback returns available technicians, other than exclude, whose role tier may take
// best-effort assignments.
func Fallback(techs []model.Technician, tax *taxonomy.Taxonomy, exclude string) []model.Technician {
	var out []model.Technician
	for _, t := range techs {
		if t.Availability != model.AvailabilityAvailable || t.ID == exclude {
			continue
		}
		if tax.FallbackTier(t.RoleTier) {
			out = append(out, t)
		}
	}
	return out
}

// Rank orders technicians by workload ascending, solved tickets descending, id ascending.
func Rank(techs []model.Technician) {
	sort.Slice(techs, func(i, j int) bool {
		a, b := techs[i], techs[j]
		if a.Workload != b.Workload {
			return a.Workload < b.Workload
		}
		if a.SolvedTickets != b.SolvedTickets {
			return a.SolvedTickets > b.SolvedTickets
		}
		return a.ID < b.ID
	})
}

// Select applies candidates, then fallback, then ranking. It fails with
// errs.ErrNoTechnicianAvailable when both sets are empty.
func Select(techs []model.Technician, required []string, exclude string, tax *taxonomy.Taxonomy) (Selection, error) {
	set := Candidates(techs, required, exclude)
	bestEffort := false
	if len(set) == 0 {
		set = Fallback(techs, tax, exclude)
		bestEffort = true
	}
	if len(set) == 0 {
		return Selection{}, errs.ErrNoTechnicianAvailable
	}
	Rank(set)
	chosen := set[0]
	return Selection{
		Technician:    chosen,
		BestEffort:    bestEffort,
		MatchedSkills: chosen.MatchSkills(required),
	}, nil
}
