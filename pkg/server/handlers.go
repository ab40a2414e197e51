package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/policyguard/pkg/engine"
)

// AnalyzeRequest is the body of POST /api/v1/analyze. IncludeCIA defaults
// to true when omitted.
type AnalyzeRequest struct {
	DocumentID string          `json:"document_id"`
	Clauses    []engine.Clause `json:"clauses"`
	Frameworks []string        `json:"frameworks"`
	IncludeCIA *bool           `json:"include_cia"`
}

func (r AnalyzeRequest) engineRequest() engine.AnalyzeRequest {
	includeCIA := true
	if r.IncludeCIA != nil {
		includeCIA = *r.IncludeCIA
	}
	return engine.AnalyzeRequest{
		Clauses:    r.Clauses,
		Frameworks: r.Frameworks,
		IncludeCIA: includeCIA,
	}
}

// AnalyzeResponse wraps the deterministic engine result with request metadata.
type AnalyzeResponse struct {
	AnalysisID string    `json:"analysis_id"`
	DocumentID string    `json:"document_id,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	*engine.AnalyzeResult
}

// FrameworkInfo describes one loaded catalog.
type FrameworkInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	Description  string `json:"description,omitempty"`
	ControlCount int    `json:"control_count"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"timestamp":  s.now().UTC().Format(time.RFC3339),
		"frameworks": len(s.analyzer.Catalogs().IDs()),
	})
}

func (s *Server) handleFrameworks(c *gin.Context) {
	list := s.analyzer.Catalogs().List()
	out := make([]FrameworkInfo, 0, len(list))
	for _, fw := range list {
		out = append(out, FrameworkInfo{
			ID:           fw.ID,
			Name:         fw.Name,
			Version:      fw.Version,
			Description:  fw.Description,
			ControlCount: len(fw.Controls),
		})
	}
	c.JSON(http.StatusOK, gin.H{"frameworks": out})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	res, err := s.analyzer.AnalyzeDocument(c.Request.Context(), req.DocumentID, req.engineRequest())
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("analysis failed",
				zap.String("document_id", req.DocumentID),
				zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, AnalyzeResponse{
		AnalysisID:    s.newID(),
		DocumentID:    req.DocumentID,
		AnalyzedAt:    s.now().UTC(),
		AnalyzeResult: res,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
