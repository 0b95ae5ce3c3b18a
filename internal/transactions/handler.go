package transactions

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/basepoll/backend/internal/models"
	"github.com/basepoll/backend/pkg/response"
)

// Reader loads a tracked transaction.
type Reader interface {
	GetByHash(ctx context.Context, hash string) (*models.LedgerTransaction, error)
}

// Handler handles transaction status endpoints.
type Handler struct {
	repo Reader
}

// NewHandler creates a transactions handler.
func NewHandler(repo Reader) *Handler {
	return &Handler{repo: repo}
}

// Get handles GET /transactions/:hash.
func (h *Handler) Get(c *gin.Context) {
	raw := c.Param("hash")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		response.BadRequest(c, "invalid transaction hash")
		return
	}
	tx, err := h.repo.GetByHash(c.Request.Context(), common.BytesToHash(b).Hex())
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "transaction not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load transaction")
		return
	}
	response.OK(c, tx)
}
