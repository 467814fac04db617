package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/txsentry/internal/ingest"
	"github.com/mbd888/txsentry/internal/logging"
	"github.com/mbd888/txsentry/internal/metrics"
	"github.com/mbd888/txsentry/internal/realtime"
	"github.com/mbd888/txsentry/internal/results"
	"github.com/mbd888/txsentry/internal/traces"
)

// UploadResponse reports what happened to an uploaded batch.
type UploadResponse struct {
	RowsProcessed     int      `json:"rows_processed"`
	Flagged           int      `json:"flagged"`
	AvailableFeatures []string `json:"available_features"`
	MissingFeatures   []string `json:"missing_features"`
	FlagThreshold     float64  `json:"flag_threshold"`
}

// uploadHandler handles POST /v1/upload: multipart CSV in, verdicts
// scored, persisted, and streamed out.
func (s *Server) uploadHandler(c *gin.Context) {
	ctx, span := traces.StartSpan(c.Request.Context(), "server.upload")
	defer span.End()

	logger := logging.L(ctx)

	fh, err := c.FormFile("file")
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "multipart field 'file' is required",
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "could not open uploaded file",
		})
		return
	}
	defer f.Close()

	batch, err := ingest.DecodeCSV(f, s.cfg.MaxUploadRows)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		status := http.StatusBadRequest
		code := "invalid_csv"
		if errors.Is(err, ingest.ErrNoRows) {
			code = "empty_csv"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	verdicts, err := s.engine.ProcessBatch(ctx, batch.Transactions)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		logger.Error("batch scoring failed", "error", err, "rows", len(batch.Transactions))
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "scoring_failed",
			"message": err.Error(),
		})
		return
	}

	scoredAt := time.Now().UTC()
	stored := make([]results.ScoredTransaction, len(verdicts))
	flagged := 0
	for i := range verdicts {
		stored[i] = results.NewScoredTransaction(&batch.Transactions[i], &verdicts[i], scoredAt)
		if verdicts[i].Flagged {
			flagged++
		}
	}

	if err := s.store.SaveResults(ctx, stored); err != nil {
		metrics.UploadsTotal.WithLabelValues("failed").Inc()
		logger.Error("failed to persist results", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "store_failed",
			"message": "results could not be persisted",
		})
		return
	}

	// Persist the updated baselines alongside the verdicts they
	// incorporate.
	if err := s.store.SaveBaselines(ctx, s.engine.Baselines().Snapshot()); err != nil {
		logger.Warn("failed to persist baselines", "error", err)
	}

	for i := range stored {
		s.realtimeHub.BroadcastScored(realtime.ScoredPayload{
			TransactionID: stored[i].TransactionID,
			SenderAccount: stored[i].SenderAccount,
			Amount:        stored[i].Amount,
			Score:         stored[i].Score,
			Flagged:       stored[i].Flagged,
			Reasons:       stored[i].Reasons,
		})
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(traces.BatchSize(len(stored)), traces.Flagged(flagged))
	logger.Info("upload processed",
		"rows", len(stored),
		"flagged", flagged,
		"missing_features", batch.MissingFeatures,
	)

	c.JSON(http.StatusOK, UploadResponse{
		RowsProcessed:     len(stored),
		Flagged:           flagged,
		AvailableFeatures: batch.PresentFeatures,
		MissingFeatures:   batch.MissingFeatures,
		FlagThreshold:     s.cfg.FlagThreshold,
	})
}
