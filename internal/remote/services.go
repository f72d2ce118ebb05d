package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/glossworks/shopcore/model"
)

// JobCardAPI wraps the shop backend's job-card endpoints.
type JobCardAPI struct {
	client *Client
}

// NewJobCardAPI creates a JobCardAPI over the given client.
func NewJobCardAPI(client *Client) *JobCardAPI {
	return &JobCardAPI{client: client}
}

// UpdateSOPStep persists a step completion flag for a job card.
func (a *JobCardAPI) UpdateSOPStep(ctx context.Context, rctx *model.RequestContext, jobCardID, stepID string, completed bool) error {
	path := fmt.Sprintf("/job-cards/%s/sop", PathEscape(jobCardID))
	result, err := a.client.Do(ctx, rctx, http.MethodPut, path, map[string]any{
		"stepId":    stepID,
		"completed": completed,
	})
	if err != nil {
		return err
	}
	return checkStatus(result)
}

// AddSOPPhoto persists an evidence photo URL for a job card step.
func (a *JobCardAPI) AddSOPPhoto(ctx context.Context, rctx *model.RequestContext, jobCardID, stepID, photoURL string) error {
	path := fmt.Sprintf("/job-cards/%s/sop/add-photo", PathEscape(jobCardID))
	result, err := a.client.Do(ctx, rctx, http.MethodPost, path, map[string]any{
		"stepId":   stepID,
		"photoUrl": photoURL,
	})
	if err != nil {
		return err
	}
	return checkStatus(result)
}

// EODAPI wraps the shop backend's end-of-day endpoints.
type EODAPI struct {
	client *Client
}

// NewEODAPI creates an EODAPI over the given client.
func NewEODAPI(client *Client) *EODAPI {
	return &EODAPI{client: client}
}

// UpdateStep persists an end-of-day step's payload and completion flag.
func (a *EODAPI) UpdateStep(ctx context.Context, rctx *model.RequestContext, businessDate, stepID string, stepData map[string]any, completed bool) error {
	result, err := a.client.Do(ctx, rctx, http.MethodPost, "/manager/eod/update-step", map[string]any{
		"businessDate": businessDate,
		"stepId":       stepID,
		"stepData":     stepData,
		"completed":    completed,
	})
	if err != nil {
		return err
	}
	return checkStatus(result)
}

// Complete records a finalized end-of-day checklist.
func (a *EODAPI) Complete(ctx context.Context, rctx *model.RequestContext, businessDate, completedBy string, checklistData any) error {
	result, err := a.client.Do(ctx, rctx, http.MethodPost, "/manager/eod/complete", map[string]any{
		"businessDate":  businessDate,
		"completedBy":   completedBy,
		"checklistData": checklistData,
	})
	if err != nil {
		return err
	}
	return checkStatus(result)
}

// TimeClockAPI wraps the time-tracking backend's clock endpoints.
type TimeClockAPI struct {
	client *Client
}

// NewTimeClockAPI creates a TimeClockAPI over the given client.
func NewTimeClockAPI(client *Client) *TimeClockAPI {
	return &TimeClockAPI{client: client}
}

// ClockOut records a clock-out event. Unlike the sync endpoints above this
// call is awaited by its caller: the gate must not report success unless
// the time-tracking service accepted the event.
func (a *TimeClockAPI) ClockOut(ctx context.Context, rctx *model.RequestContext, managerID, businessDate string) error {
	result, err := a.client.Do(ctx, rctx, http.MethodPost, "/time-clock/clock-out", map[string]any{
		"managerId":    managerID,
		"businessDate": businessDate,
	})
	if err != nil {
		return err
	}
	return checkStatus(result)
}

// checkStatus converts a non-2xx result into a typed error.
func checkStatus(result Result) error {
	switch {
	case result.StatusCode >= 200 && result.StatusCode < 300:
		return nil
	case result.StatusCode >= 500:
		return model.NewBackendUnavailableError()
	case result.StatusCode == http.StatusRequestTimeout || result.StatusCode == http.StatusGatewayTimeout:
		return model.NewBackendTimeoutError()
	default:
		return model.NewBadRequestError(
			fmt.Sprintf("backend rejected request with status %d", result.StatusCode),
		)
	}
}
