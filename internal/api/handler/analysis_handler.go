package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
	"github.com/murdok1982/hispanshield/internal/api/dto"
	"github.com/murdok1982/hispanshield/internal/api/model"
	"github.com/murdok1982/hispanshield/internal/api/storage"
)

// SubmitAnalysis handles POST /api/v1/analyses
// Accepts a multipart artifact upload plus a requested mode, stores the
// bytes by content hash, records a PENDING job, and publishes it to the
// analysis queue. Returns the job id immediately.
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadMB<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.logger.Error("Missing or oversized artifact upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "artifact file is required",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read artifact upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read artifact",
		})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "artifact is empty",
		})
		return
	}

	mode := domain.AnalysisMode(c.PostForm("mode"))
	if mode == "" {
		mode = h.defaultMode
	}
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "mode must be one of TRIAGE_ONLY, STATIC_ONLY, DYNAMIC_ONLY, FULL",
		})
		return
	}

	dynamicTimeoutSecs, err := parseDynamicTimeout(c.PostForm("dynamic_timeout_seconds"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "dynamic_timeout_seconds must be a positive integer",
		})
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if err := h.artifacts.Put(c.Request.Context(), hash, data); err != nil {
		h.logger.Error("Failed to store artifact",
			slog.String("sha256", hash),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to store artifact",
		})
		return
	}

	now := time.Now().UTC()
	analysis := model.Analysis{
		JobID:         uuid.New().String(),
		SHA256:        hash,
		FileSize:      int64(len(data)),
		RequestedMode: string(mode),
		Status:        string(domain.StatusPending),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	analysis.FileType.String = header.Header.Get("Content-Type")
	analysis.FileType.Valid = analysis.FileType.String != ""

	if err := h.storage.CreateAnalysis(c.Request.Context(), &analysis); err != nil {
		h.logger.Error("Failed to create analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create analysis",
		})
		return
	}

	msg, _ := json.Marshal(domain.JobMessage{
		JobID:                 analysis.JobID,
		DynamicTimeoutSeconds: dynamicTimeoutSecs,
	})
	if err := h.rabbitClient.Publish(c.Request.Context(), msg, "application/json"); err != nil {
		h.logger.Error("Failed to publish analysis job",
			slog.String("job_id", analysis.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to enqueue analysis",
		})
		return
	}

	h.logger.Info("Analysis submitted",
		slog.String("job_id", analysis.JobID),
		slog.String("sha256", hash),
		slog.String("mode", string(mode)),
		slog.Int("file_size", len(data)),
	)

	c.JSON(http.StatusAccepted, dto.SubmitAnalysisResponse{
		JobID:         analysis.JobID,
		SHA256:        analysis.SHA256,
		FileSize:      analysis.FileSize,
		RequestedMode: analysis.RequestedMode,
		Status:        analysis.Status,
		CreatedAt:     analysis.CreatedAt.Format(time.RFC3339),
	})
}

// GetAnalysis handles GET /api/v1/analyses/:job_id
// Returns the current job snapshot including whatever stage results
// exist so far.
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	analysis, err := h.storage.GetAnalysisByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "analysis not found",
			})
			return
		}
		h.logger.Error("Failed to get analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get analysis",
		})
		return
	}

	c.JSON(http.StatusOK, toDTO(analysis))
}

// ListAnalyses handles GET /api/v1/analyses
// Lists jobs with optional filtering and cursor pagination.
func (h *AnalysisHandler) ListAnalyses(c *gin.Context) {
	var req dto.ListAnalysesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeAnalysisCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid cursor",
		})
		return
	}

	filter := storage.AnalysisFilter{
		Status:    req.Status,
		Mode:      req.Mode,
		RiskLevel: req.RiskLevel,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	}

	analyses, err := h.storage.ListAnalyses(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list analyses", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list analyses",
		})
		return
	}

	hasMore := len(analyses) > req.PageSize
	if hasMore {
		analyses = analyses[:req.PageSize]
	}

	out := make([]dto.AnalysisDTO, len(analyses))
	for i := range analyses {
		out[i] = toDTO(&analyses[i])
	}

	var nextCursor string
	if hasMore {
		last := analyses[len(analyses)-1]
		nextCursor, err = EncodeAnalysisCursor(&storage.AnalysisCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListAnalysesResponse{
		Analyses:   out,
		NextCursor: nextCursor,
	})
}

// CancelAnalysis handles POST /api/v1/analyses/:job_id/cancel
// Flags the job for cancellation; the worker applies it at the next
// stage boundary, so an in-flight external call always completes first.
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	flagged, err := h.storage.RequestCancel(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to request cancellation", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to request cancellation",
		})
		return
	}

	if !flagged {
		if _, err := h.storage.GetAnalysisByID(c.Request.Context(), jobID); errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "analysis not found",
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": "analysis already reached a terminal state",
		})
		return
	}

	h.logger.Info("Cancellation requested", slog.String("job_id", jobID))

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"message": "cancellation requested; applied at the next stage boundary",
	})
}

// parseDynamicTimeout validates the optional per-job detonation budget.
// An empty value means the worker's configured default.
func parseDynamicTimeout(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if secs <= 0 {
		return 0, errors.New("dynamic timeout must be positive")
	}
	return secs, nil
}

func toDTO(a *model.Analysis) dto.AnalysisDTO {
	out := dto.AnalysisDTO{
		JobID:          a.JobID,
		SHA256:         a.SHA256,
		FileSize:       a.FileSize,
		FileType:       a.FileType.String,
		RequestedMode:  a.RequestedMode,
		Status:         a.Status,
		StaticResults:  json.RawMessage(a.StaticResults),
		TriageResults:  json.RawMessage(a.TriageResults),
		DynamicResults: json.RawMessage(a.DynamicResults),
		RiskLevel:      a.RiskLevel.String,
		Error:          a.ErrorMessage.String,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}

	if a.RiskScore.Valid {
		score := int(a.RiskScore.Int64)
		out.RiskScore = &score
	}
	if a.CompletedAt.Valid {
		out.CompletedAt = a.CompletedAt.Time.Format(time.RFC3339)
	}

	return out
}
