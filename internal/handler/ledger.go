// Package handler exposes the sealing ledger over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/identity"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Halter withdraws trust when a verification finds a broken chain.
// *auditor.Auditor satisfies it.
type Halter interface {
	Halt(ctx context.Context, err error)
}

// LedgerHandler exposes read-only HTTP endpoints for the ledger.
type LedgerHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
	halter Halter
	reader *identity.TokenIssuer
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// SetHalter configures where integrity failures found by the verify
// endpoints are reported. Without one they are only logged.
func (h *LedgerHandler) SetHalter(halter Halter) {
	h.halter = halter
}

// RequireReadScope restricts every ledger route to tokens carrying
// identity.ScopeRead. Reads are public unless this is called before
// Register.
func (h *LedgerHandler) RequireReadScope(tokens *identity.TokenIssuer) {
	h.reader = tokens
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	if h.reader != nil {
		l.Use(identity.RequireScope(h.reader, identity.ScopeRead))
	}
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries", h.ListEntries)
		l.GET("/entries/:seq", h.GetEntry)
		l.GET("/entries/:seq/verify", h.VerifyEntry)
	}
}

// Overview handles GET /ledger and returns the chain length and current root.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /ledger/verify and walks the full chain.
func (h *LedgerHandler) Verify(c *gin.Context) {
	h.writeVerdict(c, h.ledger.VerifyChain(c.Request.Context()))
}

// VerifyEntry handles GET /ledger/entries/:seq/verify. It checks a single
// link against its predecessor and does not prove the rest of the chain.
func (h *LedgerHandler) VerifyEntry(c *gin.Context) {
	seq, ok := parseSeq(c)
	if !ok {
		return
	}
	err := h.ledger.VerifyEntry(c.Request.Context(), seq)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	h.writeVerdict(c, err)
}

// writeVerdict reports an integrity result. A broken chain is a valid
// answer (200) and halts trust; anything else means the question could not
// be answered.
func (h *LedgerHandler) writeVerdict(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"valid": true})
		return
	}

	var ie *ledger.IntegrityError
	if errors.As(err, &ie) {
		h.logger.Error("ledger integrity check failed", zap.Error(err))
		if h.halter != nil {
			h.halter.Halt(c.Request.Context(), err)
		}
		resp := gin.H{
			"valid":       false,
			"sequence_id": ie.SequenceID,
			"reason":      ie.Reason,
			"error":       err.Error(),
		}
		if !ie.Expected.IsZero() || !ie.Actual.IsZero() {
			resp["expected"] = ie.Expected
			resp["actual"] = ie.Actual
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	h.logger.Error("ledger verification did not complete", zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verification unavailable"})
}

// GetEntry handles GET /ledger/entries/:seq and returns a single entry.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	seq, ok := parseSeq(c)
	if !ok {
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), seq)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger Get", zap.Uint64("sequence_id", seq), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// ListEntries handles GET /ledger/entries?from=N&limit=M.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	ctx := c.Request.Context()

	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a non-negative integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	total, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	entries := make([]ledger.Entry, 0, min(uint64(limit), total-min(from, total)))
	for e, err := range h.ledger.EntriesFrom(ctx, from) {
		if err != nil {
			h.logger.Error("ledger EntriesFrom", zap.Uint64("from", from), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
			return
		}
		if e.SequenceID >= total || len(entries) == limit {
			break
		}
		entries = append(entries, e)
	}

	resp := gin.H{
		"entries": entries,
		"total":   total,
	}
	if next := from + uint64(len(entries)); next < total {
		resp["next"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func parseSeq(c *gin.Context) (uint64, bool) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a non-negative integer"})
		return 0, false
	}
	return seq, true
}
