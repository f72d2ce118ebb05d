package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glossworks/shopcore/internal/eod"
	"github.com/glossworks/shopcore/model"
)

func handleEODGet(ctrl *eod.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessDate := chi.URLParam(r, "businessDate")

		inst, err := ctrl.Get(r.Context(), businessDate)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleEODStep(ctrl *eod.Controller, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		businessDate := chi.URLParam(r, "businessDate")
		stepID := chi.URLParam(r, "stepId")

		var body struct {
			StepData  map[string]any `json:"stepData"`
			Completed bool           `json:"completed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		result, err := ctrl.UpdateStep(r.Context(), rctx, businessDate, stepID, body.StepData, body.Completed)
		if err != nil {
			WriteError(w, err)
			return
		}
		action := "uncheck"
		if body.Completed {
			action = "complete"
		}
		mx.stepCompletion("eod", action)
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleEODFinalize(ctrl *eod.Controller, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		businessDate := chi.URLParam(r, "businessDate")

		inst, err := ctrl.Finalize(r.Context(), rctx, businessDate)
		if err != nil {
			WriteError(w, err)
			return
		}
		mx.eodFinalization()
		WriteJSON(w, http.StatusOK, inst)
	}
}
