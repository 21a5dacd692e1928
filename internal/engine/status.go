package engine

import (
	"github.com/cityhive/directory/internal/model"
)

// DeriveStatus computes the extraction status implied by progress. Overall
// status is a pure function of step states — it is never stored
// independently, which is what keeps records from reading "completed" with
// steps still unrun.
func DeriveStatus(def Definition, p model.Progress) model.ExtractionStatus {
	allPending := true
	allTerminal := true
	fatalUnmet := false

	for _, step := range def.Steps {
		st := p.Get(step.Name)

		if st.Status != model.StepPending {
			allPending = false
		}

		switch st.Status {
		case model.StepRunning:
			return model.ExtractionProcessing
		case model.StepFailed:
			if step.Fatal {
				return model.ExtractionFailed
			}
			allTerminal = false
		case model.StepPending:
			allTerminal = false
		case model.StepSkipped:
			if step.Fatal {
				fatalUnmet = true
			}
		case model.StepCompleted:
		}
	}

	switch {
	case allPending:
		return model.ExtractionPending
	case !allTerminal:
		// Partially run with nothing live: an interrupted or mid-flight run.
		return model.ExtractionProcessing
	case fatalUnmet:
		return model.ExtractionFailed
	default:
		return model.ExtractionCompleted
	}
}

// StepReport is the per-step slice of a status report.
type StepReport struct {
	Name   string           `json:"name"`
	Status model.StepStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Report is the operator-facing projection of extraction progress. It is
// read-only and safe to build at arbitrary polling frequency.
type Report struct {
	EntityID        string                 `json:"entity_id"`
	EntityType      model.EntityType       `json:"entity_type"`
	Status          model.ExtractionStatus `json:"status"`
	PercentComplete float64                `json:"percent_complete"`
	CurrentStep     string                 `json:"current_step,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Steps           []StepReport           `json:"steps"`
}

// BuildReport projects an entity's progress against its pipeline definition.
// Percent complete counts completed steps over total; the current step is the
// first running step, else the last failed one.
func BuildReport(def Definition, entity *model.Entity) Report {
	rep := Report{
		EntityID:   entity.ID,
		EntityType: entity.Type,
		Status:     DeriveStatus(def, entity.Progress),
		Steps:      make([]StepReport, 0, len(def.Steps)),
	}

	completed := 0
	var lastFailed *StepReport
	for _, step := range def.Steps {
		st := entity.Progress.Get(step.Name)
		sr := StepReport{Name: step.Name, Status: st.Status, Error: st.Error}
		rep.Steps = append(rep.Steps, sr)

		switch st.Status {
		case model.StepCompleted:
			completed++
		case model.StepRunning:
			if rep.CurrentStep == "" {
				rep.CurrentStep = step.Name
			}
		case model.StepFailed:
			failed := sr
			lastFailed = &failed
		}
	}

	if total := len(def.Steps); total > 0 {
		rep.PercentComplete = float64(completed) / float64(total)
	}
	if rep.CurrentStep == "" && lastFailed != nil {
		rep.CurrentStep = lastFailed.Name
		rep.ErrorMessage = lastFailed.Error
	}
	return rep
}
