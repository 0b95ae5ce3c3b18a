package auth

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basepoll/backend/pkg/response"
)

// NonceRequest is the body for POST /auth/nonce.
type NonceRequest struct {
	Address string `json:"address" binding:"required"`
}

// NonceResponse carries the message the wallet must sign.
type NonceResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

// VerifyRequest is the body for POST /auth/verify.
type VerifyRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// Handler handles wallet sign-in endpoints.
type Handler struct {
	nonces NonceStore
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(nonces NonceStore, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{nonces: nonces, jwt: jwt, logger: logger}
}

// Nonce handles POST /auth/nonce.
func (h *Handler) Nonce(c *gin.Context) {
	var req NonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		response.BadRequest(c, "invalid address")
		return
	}
	address := common.HexToAddress(req.Address)

	nonce := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := h.nonces.Put(c.Request.Context(), address.Hex(), nonce, NonceTTL); err != nil {
		h.logger.Error("store nonce", zap.Error(err))
		response.Internal(c, "failed to issue nonce")
		return
	}
	response.OK(c, NonceResponse{Nonce: nonce, Message: SignInMessage(address, nonce)})
}

// Verify handles POST /auth/verify.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		response.BadRequest(c, "invalid address")
		return
	}
	address := common.HexToAddress(req.Address)

	nonce, err := h.nonces.Take(c.Request.Context(), address.Hex())
	if errors.Is(err, ErrNonceNotFound) {
		response.Unauthorized(c, "no pending sign-in for address")
		return
	}
	if err != nil {
		h.logger.Error("take nonce", zap.Error(err))
		response.Internal(c, "failed to verify sign-in")
		return
	}

	if err := VerifySignature(address, SignInMessage(address, nonce), req.Signature); err != nil {
		response.Unauthorized(c, "signature does not match address")
		return
	}

	token, err := h.jwt.Generate(address)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	h.logger.Info("wallet signed in", zap.String("address", address.Hex()))
	response.OK(c, TokenResponse{Token: token, Address: address.Hex()})
}
