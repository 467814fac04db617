package results

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Handler provides the HTTP endpoints for stored verdicts and the
// analytics dashboard.
type Handler struct {
	store Store
}

// NewHandler creates a new results handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up transaction and analytics routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions/flagged", h.ListFlagged)
	r.GET("/transactions/flagged/count", h.CountFlagged)
	r.GET("/transactions/flagged/download", h.DownloadFlagged)
	r.GET("/transactions/:id", h.GetTransaction)

	r.GET("/analytics/summary", h.Summary)
	r.GET("/analytics/reasons", h.Reasons)
	r.GET("/analytics/risk-scores", h.RiskScores)
	r.GET("/analytics/hourly", h.Hourly)
	r.GET("/analytics/hourly-anomalies", h.HourlyAnomalies)
	r.GET("/analytics/amount-summary", h.AmountSummary)
	r.GET("/analytics/top-accounts", h.TopAccounts)
}

// ListFlagged handles GET /v1/transactions/flagged
func (h *Handler) ListFlagged(c *gin.Context) {
	f := FlaggedFilter{
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
		MinScore: floatQuery(c, "min_score", 0),
	}
	if f.Limit < 1 || f.Limit > 1000 || f.Offset < 0 || f.MinScore < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "limit must be 1-1000, offset and min_score non-negative",
		})
		return
	}

	list, err := h.store.ListFlagged(c.Request.Context(), f)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list, "limit": f.Limit, "offset": f.Offset})
}

// CountFlagged handles GET /v1/transactions/flagged/count
func (h *Handler) CountFlagged(c *gin.Context) {
	minScore := floatQuery(c, "min_score", 0)
	if minScore < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "min_score must be non-negative",
		})
		return
	}

	n, err := h.store.CountFlagged(c.Request.Context(), minScore)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// DownloadFlagged handles GET /v1/transactions/flagged/download,
// streaming every matching row as CSV. Pages through the store so a
// large result set is never held in memory at once.
func (h *Handler) DownloadFlagged(c *gin.Context) {
	minScore := floatQuery(c, "min_score", 0)

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="flagged_transactions.csv"`)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{
		"transaction_id", "timestamp", "sender_account", "amount",
		"device_hash", "ip_address", "location", "score", "reasons",
	})

	const pageSize = 1000
	for offset := 0; ; offset += pageSize {
		page, err := h.store.ListFlagged(c.Request.Context(), FlaggedFilter{
			Limit: pageSize, Offset: offset, MinScore: minScore,
		})
		if err != nil {
			// Headers are already out; stop the stream.
			return
		}
		for _, r := range page {
			_ = w.Write([]string{
				r.TransactionID,
				r.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
				r.SenderAccount,
				strconv.FormatFloat(r.Amount, 'f', -1, 64),
				r.DeviceHash,
				r.IPAddress,
				r.Location,
				strconv.FormatFloat(r.Score, 'f', 4, 64),
				strings.Join(r.Reasons, "; "),
			})
		}
		if len(page) < pageSize {
			break
		}
		w.Flush()
	}
	w.Flush()
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	r, err := h.store.GetTransaction(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No result for that transaction id",
		})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Summary handles GET /v1/analytics/summary
func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.store.Summary(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Reasons handles GET /v1/analytics/reasons
func (h *Handler) Reasons(c *gin.Context) {
	counts, err := h.store.ReasonCounts(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, labelSeries(counts))
}

// RiskScores handles GET /v1/analytics/risk-scores
func (h *Handler) RiskScores(c *gin.Context) {
	hist, err := h.store.ScoreHistogram(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, labelSeries(hist))
}

// Hourly handles GET /v1/analytics/hourly
func (h *Handler) Hourly(c *gin.Context) {
	counts, err := h.store.HourlyVolume(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, hourSeries(counts))
}

// HourlyAnomalies handles GET /v1/analytics/hourly-anomalies
func (h *Handler) HourlyAnomalies(c *gin.Context) {
	counts, err := h.store.HourlyAnomalies(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, hourSeries(counts))
}

// AmountSummary handles GET /v1/analytics/amount-summary
func (h *Handler) AmountSummary(c *gin.Context) {
	sum, err := h.store.AmountSummary(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// TopAccounts handles GET /v1/analytics/top-accounts
func (h *Handler) TopAccounts(c *gin.Context) {
	limit := intQuery(c, "limit", 10)
	if limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "limit must be 1-100",
		})
		return
	}

	top, err := h.store.TopAccounts(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, labelSeries(top))
}

// labelSeries renders counts in the chart-friendly parallel-array shape
// the dashboard consumes.
func labelSeries(counts []LabelCount) gin.H {
	labels := make([]string, 0, len(counts))
	values := make([]int64, 0, len(counts))
	for _, lc := range counts {
		labels = append(labels, lc.Label)
		values = append(values, lc.Count)
	}
	return gin.H{"labels": labels, "values": values}
}

func hourSeries(counts []HourCount) gin.H {
	labels := make([]int, 0, len(counts))
	values := make([]int64, 0, len(counts))
	for _, hc := range counts {
		labels = append(labels, hc.Hour)
		values = append(values, hc.Count)
	}
	return gin.H{"labels": labels, "values": values}
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "store_failed",
		"message": err.Error(),
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func floatQuery(c *gin.Context, name string, def float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return -1
	}
	return v
}
