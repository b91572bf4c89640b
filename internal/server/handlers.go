package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/bunquery/internal/engine"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/table"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
)

// DB carries connection options. Every member is passed to the dialer as a
// string option, e.g. {"url": "redis://localhost:6379", "password": "..."}.
type DB map[string]any

// Options converts the connection object into dialer options.
func (db DB) Options() query.Options {
	opts := make(query.Options, len(db))
	for k, v := range db {
		if v == nil {
			continue
		}
		opts[k] = fmt.Sprint(v)
	}
	return opts
}

// Range is the dashboard's time range.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Range   Range          `json:"range"`
	Targets []query.Target `json:"targets"`
	DB      DB             `json:"db"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Target string `json:"target"`
	DB     DB     `json:"db"`
}

// TestRequest is the body of POST /.
type TestRequest struct {
	DB DB `json:"db"`
}

// TestResponse reports the outcome of a connection test.
type TestResponse struct {
	Status        string `json:"status"`
	DisplayStatus string `json:"display_status"`
	Message       string `json:"message"`
}

type errorBody struct {
	Message string `json:"message"`
}

func writeError(c *gin.Context, err error) {
	c.JSON(errors.HTTPStatus(err), errorBody{Message: err.Error()})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"pending": s.q.Pending(),
	})
}

// testConnection opens and closes a store connection. Failures are reported in
// the body with status 200 so the dashboard can show them.
func (s *Server) testConnection(c *gin.Context) {
	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Parse(0, "invalid request body"))
		return
	}

	if err := s.q.Ping(c.Request.Context(), req.DB.Options()); err != nil {
		s.log.Warn("connection test failed", "error", err)
		c.JSON(http.StatusOK, TestResponse{
			Status:        "error",
			DisplayStatus: "Error",
			Message:       "Redis Connection Error: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, TestResponse{
		Status:        "success",
		DisplayStatus: "Success",
		Message:       "Redis Connection test OK",
	})
}

func (s *Server) search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Parse(0, "invalid request body"))
		return
	}
	if err := s.q.Search(c.Request.Context(), req.Target, req.DB.Options()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, []any{})
}

func (s *Server) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.Parse(0, "invalid request body"))
		return
	}

	start := time.Now()
	tables, err := s.q.Query(c.Request.Context(), engine.Batch{
		Targets: req.Targets,
		Substitutions: map[string]string{
			"$from": req.Range.From,
			"$to":   req.Range.To,
		},
		Options: req.DB.Options(),
	})
	if err != nil {
		s.log.Debug("query failed", "targets", len(req.Targets), "error", err)
		writeError(c, err)
		return
	}
	if tables == nil {
		tables = []table.Table{}
	}
	if s.logTimings {
		s.log.Info("query finished", "targets", len(req.Targets),
			"elapsed_ms", float64(time.Since(start).Microseconds())/1000)
	}
	c.JSON(http.StatusOK, tables)
}
