package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/identity"
	"github.com/jmerrifield20/windchill/internal/ledger"
	"github.com/jmerrifield20/windchill/internal/seal"
)

// maxSealBody bounds a seal request body.
const maxSealBody = 8 << 20

// statusClientClosedRequest is nginx's non-standard code for a request the
// client abandoned before a response was written.
const statusClientClosedRequest = 499

// TrustGate reports whether the ledger may accept new seals.
// *auditor.Auditor satisfies it.
type TrustGate interface {
	Trusted() bool
}

// SealRequest is the body of POST /seals. Exactly one of Payload (raw
// bytes, base64 in JSON) or Content (structured JSON, canonicalised before
// hashing) must be set.
type SealRequest struct {
	SceneID   string           `json:"scene_id"`
	EntryType ledger.EntryType `json:"entry_type"`
	Timestamp float64          `json:"timestamp,omitempty"`
	Payload   []byte           `json:"payload,omitempty"`
	Content   json.RawMessage  `json:"content,omitempty"`
}

// SealHandler accepts frames from authenticated producers.
type SealHandler struct {
	sealer *seal.Sealer
	tokens *identity.TokenIssuer
	gate   TrustGate
	logger *zap.Logger
}

// NewSealHandler creates a new SealHandler. gate may be nil.
func NewSealHandler(sealer *seal.Sealer, tokens *identity.TokenIssuer, gate TrustGate, logger *zap.Logger) *SealHandler {
	return &SealHandler{sealer: sealer, tokens: tokens, gate: gate, logger: logger}
}

// Register mounts the seal route on the given router group.
func (h *SealHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/seals", identity.RequireScope(h.tokens, identity.ScopeSeal), h.Seal)
}

// Seal handles POST /seals.
func (h *SealHandler) Seal(c *gin.Context) {
	if h.gate != nil && !h.gate.Trusted() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger integrity halted; seals are refused"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSealBody)
	var req SealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	frame, err := req.frame()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	producer := ""
	if claims := identity.ClaimsFromCtx(c); claims != nil {
		producer = claims.Producer
	}

	entry, err := h.sealer.Seal(c.Request.Context(), frame)
	if err != nil {
		h.writeSealError(c, producer, err)
		return
	}

	h.logger.Debug("seal accepted",
		zap.String("producer", producer),
		zap.String("request_id", RequestIDFromCtx(c)),
		zap.Uint64("sequence_id", entry.SequenceID),
	)
	c.JSON(http.StatusCreated, entry)
}

func (h *SealHandler) writeSealError(c *gin.Context, producer string, err error) {
	switch {
	case seal.IsInputFault(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "state": seal.Rejected.String()})
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("seal timed out",
			zap.String("producer", producer),
			zap.String("request_id", RequestIDFromCtx(c)),
		)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "seal timed out before it was sealed", "state": seal.Pending.String()})
	case errors.Is(err, context.Canceled):
		h.logger.Info("seal cancelled by client",
			zap.String("producer", producer),
			zap.String("request_id", RequestIDFromCtx(c)),
		)
		c.JSON(statusClientClosedRequest, gin.H{"error": "request cancelled", "state": seal.Pending.String()})
	case errors.Is(err, ledger.ErrStorage):
		h.logger.Error("seal storage fault",
			zap.String("producer", producer),
			zap.String("request_id", RequestIDFromCtx(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger storage unavailable", "state": seal.Pending.String()})
	default:
		h.logger.Error("seal failed",
			zap.String("producer", producer),
			zap.String("request_id", RequestIDFromCtx(c)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "seal failed", "state": seal.Pending.String()})
	}
}

func (r SealRequest) frame() (seal.FrameCapture, error) {
	switch {
	case len(r.Payload) > 0 && len(r.Content) > 0:
		return seal.FrameCapture{}, errors.New("set either payload or content, not both")
	case len(r.Content) > 0:
		return seal.NewStructuredFrame(r.SceneID, r.Content, r.EntryType, r.Timestamp)
	default:
		return seal.FrameCapture{
			SceneID:   r.SceneID,
			Payload:   r.Payload,
			Type:      r.EntryType,
			Timestamp: r.Timestamp,
		}, nil
	}
}
