package transport

import (
	"encoding/json"
	"net/http"

	"github.com/glossworks/shopcore/internal/timeclock"
	"github.com/glossworks/shopcore/model"
)

func handleClockOut(gate *timeclock.Gate, mx domainMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())

		var body struct {
			ManagerID    string `json:"managerId"`
			BusinessDate string `json:"businessDate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		managerID := body.ManagerID
		if managerID == "" && rctx != nil {
			managerID = rctx.StaffID
		}

		if err := gate.RequestClockOut(r.Context(), rctx, managerID, body.BusinessDate); err != nil {
			switch model.ErrorCode(err) {
			case model.ErrEODIncomplete:
				mx.clockOut("gated")
				mx.gateDenial("clock_out")
			case model.ErrBackendUnavailable, model.ErrBackendTimeout:
				mx.clockOut("backend_error")
			}
			WriteError(w, err)
			return
		}
		mx.clockOut("ok")
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":       "clocked_out",
			"managerId":    managerID,
			"businessDate": body.BusinessDate,
		})
	}
}
