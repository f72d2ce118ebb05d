package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glossworks/shopcore/internal/pipeline"
	"github.com/glossworks/shopcore/internal/sop"
	"github.com/glossworks/shopcore/model"
)

func handleJobCardRegister(machine *pipeline.Machine, sopCtrl *sop.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID          string                     `json:"id"`
			ServiceType string                     `json:"serviceType"`
			PriorSteps  []model.PersistedStepState `json:"priorSteps"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		card, err := machine.Register(r.Context(), body.ID, body.ServiceType)
		if err != nil {
			WriteError(w, err)
			return
		}

		// Bind the SOP checklist eagerly so the gate state is queryable
		// from the moment the vehicle enters the shop.
		if _, err := sopCtrl.LoadFor(r.Context(), card.ID, card.ServiceType, body.PriorSteps); err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, card)
	}
}

func handleJobCardList(machine *pipeline.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := machine.List(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"jobCards": cards})
	}
}

func handleJobCardGet(machine *pipeline.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := machine.Get(r.Context(), chi.URLParam(r, "jobCardId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, card)
	}
}

func handleJobCardStage(machine *pipeline.Machine, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobCardID := chi.URLParam(r, "jobCardId")

		var body struct {
			From model.PipelineStage `json:"from"`
			To   model.PipelineStage `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		before, err := machine.Get(r.Context(), jobCardID)
		if err != nil {
			WriteError(w, err)
			return
		}

		card, err := machine.Advance(r.Context(), jobCardID, body.From, body.To)
		if err != nil {
			switch model.ErrorCode(err) {
			case model.ErrIllegalTransition:
				mx.illegalTransition()
			case model.ErrGuardFailed:
				mx.gateDenial("sop")
			}
			WriteError(w, err)
			return
		}
		mx.stageAdvance(before.Stage, card.Stage)
		WriteJSON(w, http.StatusOK, card)
	}
}

func handleJobCardPriority(machine *pipeline.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobCardID := chi.URLParam(r, "jobCardId")

		var body struct {
			Priority bool `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		card, err := machine.SetPriority(r.Context(), jobCardID, body.Priority)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, card)
	}
}
