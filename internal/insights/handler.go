package insights

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/aevon-lab/insight/internal/core/errors"
	"github.com/aevon-lab/insight/internal/core/model"
)

// RegisterRoutes registers all insights API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1/sources/:source_id")
	v1.POST("/discover", s.HandleDiscover)
	v1.GET("/snapshot", s.HandleSnapshot)
	v1.POST("/sql", s.HandleSQL)
	v1.POST("/run", s.HandleRun)
}

// HandleDiscover handles POST /v1/sources/:source_id/discover
// An empty body discovers every table over the default window.
func (s *Service) HandleDiscover(c *gin.Context) {
	var req DiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid discovery request",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.Discover(c.Request.Context(), c.Param("source_id"), req)
	if err != nil {
		writeError(c, "Discovery failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSnapshot handles GET /v1/sources/:source_id/snapshot
func (s *Service) HandleSnapshot(c *gin.Context) {
	snap, err := s.Snapshot(c.Request.Context(), c.Param("source_id"))
	if err != nil {
		writeError(c, "No schema snapshot available", err)
		return
	}
	c.JSON(http.StatusOK, newSnapshotResponse(snap))
}

// HandleSQL handles POST /v1/sources/:source_id/sql
// Body: {"metric": {...}} or {"m": "<compressed>"}
func (s *Service) HandleSQL(c *gin.Context) {
	req, ok := bindMetric(c)
	if !ok {
		return
	}
	resp, err := s.CompileSQL(c.Request.Context(), c.Param("source_id"), req)
	if err != nil {
		writeError(c, "Failed to compile metric", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRun handles POST /v1/sources/:source_id/run
func (s *Service) HandleRun(c *gin.Context) {
	req, ok := bindMetric(c)
	if !ok {
		return
	}
	resp, err := s.Run(c.Request.Context(), c.Param("source_id"), req)
	if err != nil {
		writeError(c, "Failed to run metric", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func bindMetric(c *gin.Context) (MetricRequest, bool) {
	var req MetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid metric request",
			Details:   err.Error(),
		})
		return req, false
	}
	return req, true
}

// writeError maps the error taxonomy to HTTP statuses.
func writeError(c *gin.Context, message string, err error) {
	status, errType := http.StatusInternalServerError, httperr.HttpInternalError

	var partial *model.DiscoveryPartialFailure
	var execErr *model.QueryExecutionError
	switch {
	case errors.As(err, &partial):
		errType = httperr.HttpDiscoveryError
	case errors.Is(err, model.ErrNotFound):
		// includes metric fields that no longer resolve against the snapshot
		status, errType = http.StatusNotFound, httperr.HttpNotFoundError
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrSerialize):
		status, errType = http.StatusBadRequest, httperr.HttpInvalidMetricError
	case errors.Is(err, model.ErrUnsupported):
		status, errType = http.StatusUnprocessableEntity, httperr.HttpUnsupportedError
	case errors.As(err, &execErr):
		status, errType = http.StatusBadGateway, httperr.HttpQueryExecutionError
	case errors.Is(err, model.ErrSchema):
		errType = httperr.HttpSchemaError
	}

	resp := httperr.ErrorResponse{ErrorType: errType, Message: message + ": " + err.Error()}
	var detailer model.Detailer
	if errors.As(err, &detailer) {
		if details := detailer.Details(); len(details) > 0 {
			resp.Details = details
		}
	}
	c.JSON(status, resp)
}
