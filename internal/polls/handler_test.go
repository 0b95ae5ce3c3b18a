package polls

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/basepoll/backend/internal/auth"
	"github.com/basepoll/backend/internal/middleware"
	"github.com/basepoll/backend/internal/models"
	"github.com/basepoll/backend/pkg/ledger"
)

type trackedTx struct {
	hash   common.Hash
	kind   models.TxKind
	pollID *uint32
	sender common.Address
}

type recordingTracker struct{ txs []trackedTx }

func (r *recordingTracker) Track(ctx context.Context, hash common.Hash, kind models.TxKind, pollID *uint32, sender common.Address, payload interface{}) {
	r.txs = append(r.txs, trackedTx{hash, kind, pollID, sender})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testAPI struct {
	router  *gin.Engine
	ledger  *fakeLedger
	tracker *recordingTracker
	jwt     *auth.JWTService
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	gin.SetMode(gin.TestMode)
	l := newFakeLedger()
	tr := &recordingTracker{}
	jwtSvc := auth.NewJWTService("secret", 1)
	token, err := jwtSvc.Generate(alice)
	require.NoError(t, err)

	h := NewHandler(newTestService(t, l), tr, zaptest.NewLogger(t))
	r := gin.New()
	read := r.Group("", middleware.OptionalWallet(jwtSvc))
	read.GET("/polls", h.List)
	read.GET("/polls/:id", h.Get)
	read.GET("/polls/:id/votes", h.OptionVotes)
	read.POST("/polls/prepare", h.PrepareCreate)
	read.POST("/polls/:id/vote/prepare", h.PrepareVote)
	write := r.Group("", middleware.RequireWallet(jwtSvc))
	write.POST("/polls", h.Create)
	write.POST("/polls/:id/vote", h.Vote)

	return &testAPI{router: r, ledger: l, tracker: tr, jwt: jwtSvc, token: token}
}

func (a *testAPI) tokenFor(t *testing.T, addr common.Address) string {
	token, err := a.jwt.Generate(addr)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHandlerGetPoll(t *testing.T) {
	api := newTestAPI(t)
	api.ledger.addPoll(0, "Best editor?", past, 3, 7)

	w, env := api.do(http.MethodGet, "/polls/0", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var v ViewResponse
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, uint64(10), v.TotalVotes)
	assert.False(t, v.IsActive)
	assert.Equal(t, []int{30, 70}, v.Percentages)
	assert.Equal(t, []int{1}, v.Leading)
	assert.Zero(t, api.ledger.hasVotedCalls)
}

func TestHandlerGetPollUsesWalletOrVoterParam(t *testing.T) {
	api := newTestAPI(t)
	api.ledger.addPoll(0, "q", later, 1)
	api.ledger.voted[0] = map[common.Address]bool{alice: true}

	_, env := api.do(http.MethodGet, "/polls/0", nil, api.token)
	var v ViewResponse
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.True(t, v.HasVoted)

	_, env = api.do(http.MethodGet, "/polls/0?voter=0x00000000000000000000000000000000000000bb", nil, api.token)
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.False(t, v.HasVoted)

	w, _ := api.do(http.MethodGet, "/polls/0?voter=bob", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerGetPollErrors(t *testing.T) {
	api := newTestAPI(t)
	api.ledger.addPoll(0, "q", later, 1)
	api.ledger.resErr[0] = errLedgerDown

	w, _ := api.do(http.MethodGet, "/polls/0", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, env := api.do(http.MethodGet, "/polls/42", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "poll not found", env.Error)

	w, _ = api.do(http.MethodGet, "/polls/-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = api.do(http.MethodGet, "/polls/99999999999", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerListPolls(t *testing.T) {
	api := newTestAPI(t)
	api.ledger.addPoll(0, "a", later, 1)
	api.ledger.addPoll(2, "c", later, 2)

	w, env := api.do(http.MethodGet, "/polls", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var views []ViewResponse
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)
	assert.Equal(t, uint32(2), views[0].PollID)
	assert.Equal(t, uint32(0), views[1].PollID)

	api.ledger.countErr = errLedgerDown
	w, env = api.do(http.MethodGet, "/polls", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestHandlerOptionVotes(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodGet, "/polls/3/votes?option=yes", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"poll_id":3,"option":"yes","votes":3}`, string(env.Data))

	w, _ = api.do(http.MethodGet, "/polls/3/votes", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerPrepareVoteKeepsLabel(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodPost, "/polls/3/vote/prepare", VoteRequest{Option: "Yes "}, "")
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	var tx models.TxRequest
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, pollContract.Hex(), tx.To)
	assert.Equal(t, int64(8453), tx.ChainID)

	want, err := ledger.PackVote(3, "Yes ")
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(want), tx.Data)

	w, _ = api.do(http.MethodPost, "/polls/3/vote/prepare", VoteRequest{Option: "   "}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerPrepareCreate(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodPost, "/polls/prepare", CreateRequest{
		Question: "Lunch? ", Options: []string{"pizza", "sushi "}, DeadlineMinutes: 60,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	var tx models.TxRequest
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, ledger.MethodCreatePoll, tx.Method)

	want, err := ledger.PackCreatePoll("Lunch? ", []string{"pizza", "sushi "}, 60)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(want), tx.Data)
}

func TestHandlerCreatePollValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty question", CreateRequest{Question: "   ", Options: []string{"a", "b"}, DeadlineMinutes: 5}},
		{"one option", CreateRequest{Question: "q", Options: []string{"a"}, DeadlineMinutes: 5}},
		{"eleven options", CreateRequest{Question: "q", Options: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}, DeadlineMinutes: 5}},
		{"blank option", CreateRequest{Question: "q", Options: []string{"a", " "}, DeadlineMinutes: 5}},
		{"duplicate options", CreateRequest{Question: "q", Options: []string{"a", "a"}, DeadlineMinutes: 5}},
		{"zero deadline", CreateRequest{Question: "q", Options: []string{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			w, _ := api.do(http.MethodPost, "/polls", tt.req, api.token)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			w, _ = api.do(http.MethodPost, "/polls/prepare", tt.req, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, api.ledger.created)
		})
	}
}

func TestHandlerRelayCreatePoll(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodPost, "/polls", CreateRequest{
		Question: "Lunch?", Options: []string{"pizza", " sushi"}, DeadlineMinutes: 60,
	}, api.token)
	require.Equal(t, http.StatusAccepted, w.Code, env.Error)
	var tx TxResponse
	require.NoError(t, json.Unmarshal(env.Data, &tx))
	assert.Equal(t, common.HexToHash("0xc1").Hex(), tx.TxHash)

	assert.Equal(t, []createCall{{"Lunch?", []string{"pizza", " sushi"}, 60}}, api.ledger.created)
	require.Len(t, api.tracker.txs, 1)
	assert.Equal(t, models.TxKindCreatePoll, api.tracker.txs[0].kind)
	assert.Equal(t, alice, api.tracker.txs[0].sender)
	assert.Nil(t, api.tracker.txs[0].pollID)

	api.ledger.writeErr = ledger.ErrReadOnly
	w, _ = api.do(http.MethodPost, "/polls", CreateRequest{Question: "q", Options: []string{"a", "b"}, DeadlineMinutes: 5}, api.token)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandlerSignedCreatePoll(t *testing.T) {
	api := newTestAPI(t)
	creator := newWallet(t)
	raw := creator.signCreatePoll(t, "Lunch?", []string{"pizza", "sushi"}, 60)

	w, env := api.do(http.MethodPost, "/polls", CreateRequest{SignedTx: hexutil.Encode(raw)}, api.tokenFor(t, creator.addr))
	require.Equal(t, http.StatusAccepted, w.Code, env.Error)
	require.Len(t, api.ledger.sent, 1)
	assert.Equal(t, creator.addr, sentSender(t, api.ledger.sent[0]))
	assert.Empty(t, api.ledger.created)
	require.Len(t, api.tracker.txs, 1)
	assert.Equal(t, creator.addr, api.tracker.txs[0].sender)
}

func TestHandlerWritesRequireWallet(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(http.MethodPost, "/polls", CreateRequest{Question: "q", Options: []string{"a", "b"}, DeadlineMinutes: 5}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = api.do(http.MethodPost, "/polls/0/vote", SignedRequest{SignedTx: "0x01"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerVotesCarryEachWallet(t *testing.T) {
	api := newTestAPI(t)
	walletA, walletB := newWallet(t), newWallet(t)

	for _, w := range []*testWallet{walletA, walletB} {
		body := SignedRequest{SignedTx: hexutil.Encode(w.signVote(t, 4, "Yes "))}
		rec, env := api.do(http.MethodPost, "/polls/4/vote", body, api.tokenFor(t, w.addr))
		require.Equal(t, http.StatusAccepted, rec.Code, env.Error)
		var tx TxResponse
		require.NoError(t, json.Unmarshal(env.Data, &tx))
		assert.Equal(t, w.addr.Hex(), tx.Sender)
	}

	require.Len(t, api.ledger.sent, 2)
	assert.Equal(t, walletA.addr, sentSender(t, api.ledger.sent[0]))
	assert.Equal(t, walletB.addr, sentSender(t, api.ledger.sent[1]))

	require.Len(t, api.tracker.txs, 2)
	assert.Equal(t, walletA.addr, api.tracker.txs[0].sender)
	assert.Equal(t, walletB.addr, api.tracker.txs[1].sender)
	require.NotNil(t, api.tracker.txs[0].pollID)
	assert.Equal(t, uint32(4), *api.tracker.txs[0].pollID)
}

func TestHandlerVoteRejectsBadSubmissions(t *testing.T) {
	voter, other := newWallet(t), newWallet(t)
	tests := []struct {
		name   string
		path   string
		signed func(t *testing.T) string
		status int
	}{
		{"someone else's signature", "/polls/1/vote", func(t *testing.T) string {
			return hexutil.Encode(other.signVote(t, 1, "a"))
		}, http.StatusForbidden},
		{"other poll", "/polls/1/vote", func(t *testing.T) string {
			return hexutil.Encode(voter.signVote(t, 2, "a"))
		}, http.StatusBadRequest},
		{"not hex", "/polls/1/vote", func(t *testing.T) string { return "signed" }, http.StatusBadRequest},
		{"not a transaction", "/polls/1/vote", func(t *testing.T) string { return "0xdeadbeef" }, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			w, _ := api.do(http.MethodPost, tt.path, SignedRequest{SignedTx: tt.signed(t)}, api.tokenFor(t, voter.addr))
			assert.Equal(t, tt.status, w.Code)
			assert.Empty(t, api.ledger.sent)
			assert.Empty(t, api.tracker.txs)
		})
	}
}

func TestHandlerVoteLedgerFailure(t *testing.T) {
	api := newTestAPI(t)
	api.ledger.writeErr = errLedgerDown
	voter := newWallet(t)

	body := SignedRequest{SignedTx: hexutil.Encode(voter.signVote(t, 0, "a"))}
	w, env := api.do(http.MethodPost, "/polls/0/vote", body, api.tokenFor(t, voter.addr))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, env.Error, "rpc unavailable")
	assert.Empty(t, api.tracker.txs)
}
