package polls

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/basepoll/backend/internal/middleware"
	"github.com/basepoll/backend/internal/models"
	"github.com/basepoll/backend/pkg/ledger"
	"github.com/basepoll/backend/pkg/response"
)

const (
	minOptions = 2
	maxOptions = 10
)

// CreateRequest is the body for POST /polls/prepare, and for POST /polls when the server relays
// (no signed_tx). Labels are forwarded exactly as sent.
type CreateRequest struct {
	SignedTx        string   `json:"signed_tx"`
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DeadlineMinutes uint32   `json:"deadline_minutes"`
}

// VoteRequest is the body for POST /polls/:id/vote/prepare.
type VoteRequest struct {
	Option string `json:"option" binding:"required"`
}

// SignedRequest carries a 0x-prefixed raw transaction signed by the caller's wallet.
type SignedRequest struct {
	SignedTx string `json:"signed_tx" binding:"required"`
}

// TxResponse is returned for every forwarded transaction.
type TxResponse struct {
	TxHash string `json:"tx_hash"`
	Sender string `json:"sender"`
}

// ViewResponse is a PollView plus presentation helpers.
type ViewResponse struct {
	models.PollView
	Percentages []int `json:"percentages"`
	Leading     []int `json:"leading"`
}

// Tracker records relayed transactions so their receipts can be followed.
type Tracker interface {
	Track(ctx context.Context, hash common.Hash, kind models.TxKind, pollID *uint32, sender common.Address, payload interface{})
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc     *Service
	tracker Tracker
	logger  *zap.Logger
}

// NewHandler creates a polls handler. tracker may be nil.
func NewHandler(svc *Service, tracker Tracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, tracker: tracker, logger: logger}
}

func newViewResponse(v models.PollView) ViewResponse {
	return ViewResponse{PollView: v, Percentages: v.Percentages(), Leading: v.Leading()}
}

// List handles GET /polls.
func (h *Handler) List(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	views := h.svc.ListPolls(c.Request.Context(), caller)
	out := make([]ViewResponse, 0, len(views))
	for _, v := range views {
		out = append(out, newViewResponse(v))
	}
	response.OK(c, out)
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	v, err := h.svc.FetchPoll(c.Request.Context(), pollID, caller)
	if errors.Is(err, ErrPollNotFound) {
		response.NotFound(c, "poll not found")
		return
	}
	if err != nil {
		h.logger.Warn("fetch poll", zap.Uint32("poll_id", pollID), zap.Error(err))
		response.ServiceUnavailable(c, "ledger unavailable")
		return
	}
	response.OK(c, newViewResponse(*v))
}

// OptionVotes handles GET /polls/:id/votes?option=.
func (h *Handler) OptionVotes(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}
	option := strings.TrimSpace(c.Query("option"))
	if option == "" {
		response.BadRequest(c, "option is required")
		return
	}
	n, err := h.svc.OptionVotes(c.Request.Context(), pollID, option)
	if err != nil {
		h.logger.Warn("option votes", zap.Uint32("poll_id", pollID), zap.Error(err))
		response.ServiceUnavailable(c, "ledger unavailable")
		return
	}
	response.OK(c, gin.H{"poll_id": pollID, "option": option, "votes": n})
}

// PrepareCreate handles POST /polls/prepare: createPoll calldata for the wallet to sign.
func (h *Handler) PrepareCreate(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if msg := validateCreate(req); msg != "" {
		response.BadRequest(c, msg)
		return
	}
	tx, err := h.svc.PrepareCreatePoll(req.Question, req.Options, req.DeadlineMinutes)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, tx)
}

// PrepareVote handles POST /polls/:id/vote/prepare: vote calldata for the wallet to sign.
func (h *Handler) PrepareVote(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Option) == "" {
		response.BadRequest(c, "option must not be empty")
		return
	}
	tx, err := h.svc.PrepareVote(pollID, req.Option)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, tx)
}

// Create handles POST /polls (signed-in wallet). A signed_tx is forwarded as is; without one the
// server key relays the poll, if configured.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	wallet, _ := middleware.Wallet(c)

	if req.SignedTx != "" {
		raw, ok := decodeSignedTx(c, req.SignedTx)
		if !ok {
			return
		}
		call, err := h.svc.CreatePoll(c.Request.Context(), raw, wallet)
		if err != nil {
			h.submitFailed(c, "create poll", err)
			return
		}
		h.track(c, call.Tx.Hash(), models.TxKindCreatePoll, nil, call.Sender, call.Params())
		response.Accepted(c, TxResponse{TxHash: call.Tx.Hash().Hex(), Sender: call.Sender.Hex()})
		return
	}

	if msg := validateCreate(req); msg != "" {
		response.BadRequest(c, msg)
		return
	}
	hash, err := h.svc.RelayCreatePoll(c.Request.Context(), req.Question, req.Options, req.DeadlineMinutes)
	if err != nil {
		h.writeFailed(c, "create poll", err)
		return
	}
	h.track(c, hash, models.TxKindCreatePoll, nil, wallet, gin.H{
		"question": req.Question, "options": req.Options, "deadline_minutes": req.DeadlineMinutes,
	})
	response.Accepted(c, TxResponse{TxHash: hash.Hex(), Sender: wallet.Hex()})
}

// Vote handles POST /polls/:id/vote (signed-in wallet). The body carries the wallet's own signed
// vote transaction, so the ledger records the vote under that wallet.
func (h *Handler) Vote(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}
	var req SignedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	raw, ok := decodeSignedTx(c, req.SignedTx)
	if !ok {
		return
	}
	wallet, _ := middleware.Wallet(c)

	call, err := h.svc.Vote(c.Request.Context(), pollID, raw, wallet)
	if err != nil {
		h.submitFailed(c, "vote", err)
		return
	}
	h.track(c, call.Tx.Hash(), models.TxKindVote, &pollID, call.Sender, call.Params())
	response.Accepted(c, TxResponse{TxHash: call.Tx.Hash().Hex(), Sender: call.Sender.Hex()})
}

func (h *Handler) submitFailed(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrSenderMismatch):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrWrongCall),
		errors.Is(err, ledger.ErrMalformedTx),
		errors.Is(err, ledger.ErrWrongContract),
		errors.Is(err, ledger.ErrWrongChain),
		errors.Is(err, ledger.ErrUnsupportedMethod):
		response.BadRequest(c, err.Error())
	default:
		h.writeFailed(c, op, err)
	}
}

func (h *Handler) writeFailed(c *gin.Context, op string, err error) {
	if errors.Is(err, ledger.ErrReadOnly) {
		response.ServiceUnavailable(c, "server relay disabled; submit a signed_tx")
		return
	}
	h.logger.Error(op, zap.Error(err))
	response.BadGateway(c, op+" failed: "+err.Error())
}

func (h *Handler) track(c *gin.Context, hash common.Hash, kind models.TxKind, pollID *uint32, sender common.Address, payload interface{}) {
	if h.tracker == nil {
		return
	}
	h.tracker.Track(c.Request.Context(), hash, kind, pollID, sender, payload)
}

func decodeSignedTx(c *gin.Context, s string) ([]byte, bool) {
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) == 0 {
		response.BadRequest(c, "signed_tx must be 0x-prefixed hex")
		return nil, false
	}
	return raw, true
}

// caller resolves the address used for the has-voted lookup: ?voter= wins over the signed-in wallet.
func (h *Handler) caller(c *gin.Context) (*common.Address, bool) {
	if q := c.Query("voter"); q != "" {
		if !common.IsHexAddress(q) {
			response.BadRequest(c, "invalid voter address")
			return nil, false
		}
		addr := common.HexToAddress(q)
		return &addr, true
	}
	if addr, ok := middleware.Wallet(c); ok {
		return &addr, true
	}
	return nil, true
}

func parsePollID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return 0, false
	}
	return uint32(id), true
}

// validateCreate checks poll input without rewriting it. It returns a message on failure.
func validateCreate(req CreateRequest) string {
	if strings.TrimSpace(req.Question) == "" {
		return "question must not be empty"
	}
	if len(req.Options) < minOptions || len(req.Options) > maxOptions {
		return "a poll needs between 2 and 10 options"
	}
	seen := make(map[string]struct{}, len(req.Options))
	for _, o := range req.Options {
		if strings.TrimSpace(o) == "" {
			return "options must not be empty"
		}
		if _, dup := seen[o]; dup {
			return "options must be distinct"
		}
		seen[o] = struct{}{}
	}
	if req.DeadlineMinutes == 0 {
		return "deadline_minutes must be positive"
	}
	return ""
}
