package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glossworks/shopcore/internal/pipeline"
	"github.com/glossworks/shopcore/internal/sop"
	"github.com/glossworks/shopcore/model"
)

// sopResponse is the JSON shape for SOP checklist reads and mutations.
type sopResponse struct {
	Checklist model.ChecklistInstance `json:"checklist"`
	Progress  model.Progress          `json:"progress"`
}

func handleSOPGet(ctrl *sop.Controller, machine *pipeline.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobCardID := chi.URLParam(r, "jobCardId")

		card, err := machine.Get(r.Context(), jobCardID)
		if err != nil {
			WriteError(w, err)
			return
		}

		inst, err := ctrl.LoadFor(r.Context(), jobCardID, card.ServiceType, nil)
		if err != nil {
			WriteError(w, err)
			return
		}
		if inst == nil {
			// No template for this service type: the job card has no SOP
			// checklist and its quality-check gate is open.
			w.WriteHeader(http.StatusNoContent)
			return
		}

		progress, err := ctrl.Progress(r.Context(), jobCardID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sopResponse{Checklist: *inst, Progress: progress})
	}
}

func handleSOPComplete(ctrl *sop.Controller, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		jobCardID := chi.URLParam(r, "jobCardId")
		stepID := chi.URLParam(r, "stepId")

		result, err := ctrl.CompleteStep(r.Context(), rctx, jobCardID, stepID)
		if err != nil {
			WriteError(w, err)
			return
		}
		mx.stepCompletion("sop", "complete")
		WriteJSON(w, http.StatusOK, sopResponse{Checklist: result.Instance, Progress: result.Progress})
	}
}

func handleSOPUncheck(ctrl *sop.Controller, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		jobCardID := chi.URLParam(r, "jobCardId")
		stepID := chi.URLParam(r, "stepId")

		result, err := ctrl.UncheckStep(r.Context(), rctx, jobCardID, stepID)
		if err != nil {
			WriteError(w, err)
			return
		}
		mx.stepCompletion("sop", "uncheck")
		WriteJSON(w, http.StatusOK, sopResponse{Checklist: result.Instance, Progress: result.Progress})
	}
}

func handleSOPPhoto(ctrl *sop.Controller, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		jobCardID := chi.URLParam(r, "jobCardId")
		stepID := chi.URLParam(r, "stepId")

		var body struct {
			PhotoURL string `json:"photoUrl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		result, err := ctrl.AttachPhoto(r.Context(), rctx, jobCardID, stepID, body.PhotoURL)
		if err != nil {
			WriteError(w, err)
			return
		}
		mx.photoAttachment()
		WriteJSON(w, http.StatusOK, sopResponse{Checklist: result.Instance, Progress: result.Progress})
	}
}
