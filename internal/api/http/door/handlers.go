package door

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	domain "github.com/oshokin/door-monitor/internal/domain/door"
	wf "github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/logger"
	"github.com/oshokin/door-monitor/internal/service/ingest"
	"github.com/oshokin/door-monitor/internal/workflow"
)

// defaultTerminateReason is recorded when a terminate request carries no reason.
const defaultTerminateReason = "terminated by operator"

// Reporter headers identify who sent a state report.
const (
	headerReporterHost = "X-Reporter-Host"
	headerReporterUser = "X-Reporter-User"
)

// CheckStatus is the 202 payload of a report that started monitoring.
type CheckStatus struct {
	// ID is the started instance.
	ID string `json:"id"`
	// StatusQueryGetURI polls the instance.
	StatusQueryGetURI string `json:"statusQueryGetUri"`
	// TerminatePostURI terminates the instance; {text} is replaced by the reason.
	TerminatePostURI string `json:"terminatePostUri"`
}

// InstanceView is the JSON form of an orchestration instance.
type InstanceView struct {
	ID              string          `json:"instanceId"`
	Name            string          `json:"name"`
	RuntimeStatus   wf.Status       `json:"runtimeStatus"`
	Input           json.RawMessage `json:"input,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedTime     time.Time       `json:"createdTime"`
	LastUpdatedTime time.Time       `json:"lastUpdatedTime"`
	HistoryLength   int             `json:"historyLength"`
}

// handlers serves the API routes.
type handlers struct {
	service Service
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reportState handles POST /api/door/state.
func (h *handlers) reportState(c *gin.Context) {
	ctx := c.Request.Context()

	state := c.Query("state")
	if state == "" {
		state = c.PostForm("state")
	}

	response, err := h.service.ReportState(ctx, state, reporter(c))
	if err != nil {
		h.fail(c, err)

		return
	}

	switch response.Outcome {
	case ingest.OutcomeAlreadySet:
		c.String(http.StatusOK, "Door status is already %s.", response.State)
	case ingest.OutcomeClosed:
		c.Status(http.StatusNoContent)
	case ingest.OutcomeStarted:
		payload := newCheckStatus(c.Request, response.InstanceID)

		c.Header("Location", payload.StatusQueryGetURI)
		c.JSON(http.StatusAccepted, payload)
	default:
		logger.ErrorKV(ctx, "Unexpected report outcome", "outcome", response.Outcome)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// instanceStatus handles GET /api/instances/:id.
func (h *handlers) instanceStatus(c *gin.Context) {
	instance, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, InstanceView{
		ID:              instance.ID,
		Name:            instance.Name,
		RuntimeStatus:   instance.Status,
		Input:           instance.Input,
		Output:          instance.Output,
		Error:           instance.Error,
		CreatedTime:     instance.CreatedAt.UTC(),
		LastUpdatedTime: instance.UpdatedAt.UTC(),
		HistoryLength:   instance.HistoryLength,
	})
}

// terminateInstance handles POST /api/instances/:id/terminate.
func (h *handlers) terminateInstance(c *gin.Context) {
	reason := strings.TrimSpace(c.Query("reason"))
	if reason == "" {
		reason = defaultTerminateReason
	}

	if err := h.service.Terminate(c.Request.Context(), c.Param("id"), reason); err != nil {
		h.fail(c, err)

		return
	}

	c.Status(http.StatusAccepted)
}

// fail maps domain errors to HTTP statuses.
func (h *handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrInstanceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrInstanceNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.ErrorKV(c.Request.Context(), "Request failed", "path", routePath(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// reporter reads the optional reporter identity from the request headers.
func reporter(c *gin.Context) *domain.Actor {
	host := strings.TrimSpace(c.GetHeader(headerReporterHost))
	user := strings.TrimSpace(c.GetHeader(headerReporterUser))

	if host == "" && user == "" {
		return nil
	}

	return &domain.Actor{Hostname: host, Username: user}
}

// newCheckStatus builds the management links of an instance from the request address.
func newCheckStatus(r *http.Request, id string) CheckStatus {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	base := fmt.Sprintf("%s://%s/api/instances/%s", scheme, r.Host, url.PathEscape(id))

	return CheckStatus{
		ID:                id,
		StatusQueryGetURI: base,
		TerminatePostURI:  base + "/terminate?reason={text}",
	}
}
