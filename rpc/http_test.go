package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"escrowd/native/escrow"
	"escrowd/state"
	"escrowd/storage"
)

const (
	testAPIKey    = "test-key"
	testAPISecret = "test-secret"
)

func testAddr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func addrHex(addr [20]byte) string { return "0x" + hex.EncodeToString(addr[:]) }

type testServer struct {
	engine  *escrow.Engine
	manager *state.Manager
	server  *Server
	now     int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := escrow.NewEngine()
	engine.SetState(manager)
	ts := &testServer{engine: engine, manager: manager, now: 1_000}
	engine.SetNowFunc(func() int64 { return ts.now })
	require.NoError(t, engine.Initialize(testAddr(0xAA), testAddr(0xEE)))

	auth := NewAuthenticator(
		map[string]string{testAPIKey: testAPISecret},
		2*time.Minute,
		10*time.Minute,
		func() time.Time { return time.Unix(ts.now, 0) },
	)
	ts.server = NewServer(engine, Options{Authenticator: auth})
	return ts
}

func (ts *testServer) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	account, err := ts.manager.GetAccount(addr)
	require.NoError(t, err)
	account.Balance = big.NewInt(amount)
	require.NoError(t, ts.manager.PutAccount(addr, account))
}

var testNonce uint64

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	timestamp := strconv.FormatInt(ts.now, 10)
	testNonce++
	nonce := fmt.Sprintf("nonce-%d", testNonce)
	sig := ComputeSignature(testAPISecret, timestamp, nonce, method, req.URL.Path, payload)
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/escrow/1", nil)
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.now, 10))
	req.Header.Set(HeaderNonce, "nonce-bad-sig")
	req.Header.Set(HeaderSignature, "deadbeef")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	require.Equal(t, codeUnauthorized, env.Error.Code)
}

func TestAuthRejectsReplayedNonce(t *testing.T) {
	ts := newTestServer(t)
	timestamp := strconv.FormatInt(ts.now, 10)
	sig := ComputeSignature(testAPISecret, timestamp, "nonce-replay", http.MethodGet, "/v1/escrow/1", nil)
	build := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/v1/escrow/1", nil)
		req.Header.Set(HeaderAPIKey, testAPIKey)
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderNonce, "nonce-replay")
		req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
		return req
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, build())
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, build())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLockGetReleaseFlow(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	recipient := testAddr(0x02)
	ts.fund(t, depositor, 1_000)

	rec := ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        1,
		"amount":    "600",
		"deadline":  2_000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Nil(t, env.Error)

	rec = ts.do(t, http.MethodGet, "/v1/escrow/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view escrowView
	raw, err := json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &view))
	require.Equal(t, "600", view.Amount)
	require.Equal(t, "locked", view.Status)
	require.Equal(t, addrHex(depositor), view.Depositor)

	rec = ts.do(t, http.MethodPost, "/v1/escrow/release", map[string]interface{}{
		"caller":    addrHex(testAddr(0xAA)),
		"id":        1,
		"recipient": addrHex(recipient),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/escrow/1", nil)
	raw, err = json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &view))
	require.Equal(t, "released", view.Status)
	require.Equal(t, "0", view.Remaining)

	account, err := ts.manager.GetAccount(recipient)
	require.NoError(t, err)
	require.Equal(t, int64(600), account.Balance.Int64())
}

func TestErrorCodeMapping(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	ts.fund(t, depositor, 1_000)

	// Missing escrow maps to not found.
	rec := ts.do(t, http.MethodGet, "/v1/escrow/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeNotFound, decodeEnvelope(t, rec).Error.Code)

	// Zero amount is a structural validation failure.
	rec = ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        1,
		"amount":    "0",
		"deadline":  0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codeInvalidParams, decodeEnvelope(t, rec).Error.Code)

	// Non-admin release is forbidden.
	rec = ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        1,
		"amount":    "500",
		"deadline":  0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/v1/escrow/release", map[string]interface{}{
		"caller":    addrHex(testAddr(0x33)),
		"id":        1,
		"recipient": addrHex(testAddr(0x02)),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, codeForbidden, decodeEnvelope(t, rec).Error.Code)

	// Duplicate id is a conflict.
	rec = ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        1,
		"amount":    "100",
		"deadline":  0,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeConflict, decodeEnvelope(t, rec).Error.Code)
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	ts.fund(t, depositor, 10_000)
	for i := uint64(1); i <= 5; i++ {
		rec := ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
			"depositor": addrHex(depositor),
			"id":        i,
			"amount":    "100",
			"deadline":  0,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/v1/escrow?status=locked&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Records    []escrowView `json:"records"`
		NextCursor *uint64      `json:"nextCursor"`
		HasMore    bool         `json:"hasMore"`
	}
	raw, err := json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Records, 3)
	require.True(t, page.HasMore)
	require.NotNil(t, page.NextCursor)

	rec = ts.do(t, http.MethodGet, "/v1/escrow?status=locked&limit=3&cursor="+strconv.FormatUint(*page.NextCursor, 10), nil)
	raw, err = json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page.Records, 2)
	require.False(t, page.HasMore)

	rec = ts.do(t, http.MethodGet, "/v1/escrow?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimEndpoints(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	recipient := testAddr(0x02)
	ts.fund(t, depositor, 1_000)

	rec := ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        7,
		"amount":    "800",
		"deadline":  0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/claims", map[string]interface{}{
		"recipient": addrHex(recipient),
		"escrowId":  7,
		"amount":    "300",
		"expiresAt": 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/claims/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var claim claimView
	raw, err := json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &claim))
	require.Equal(t, "300", claim.Amount)

	rec = ts.do(t, http.MethodPost, "/v1/claims/7/approve", map[string]interface{}{
		"caller": addrHex(testAddr(0xAA)),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := ts.manager.GetAccount(recipient)
	require.NoError(t, err)
	require.Equal(t, int64(300), account.Balance.Int64())
}

func TestCapabilityEndpoints(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	holder := testAddr(0x10)
	recipient := testAddr(0x02)
	ts.fund(t, depositor, 1_000)

	rec := ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        3,
		"amount":    "400",
		"deadline":  0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/capabilities", map[string]interface{}{
		"owner":       addrHex(testAddr(0xAA)),
		"holder":      addrHex(holder),
		"action":      "release",
		"scope":       3,
		"amountLimit": "400",
		"maxUses":     2,
		"expiresAt":   0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued map[string]uint64
	raw, err := json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &issued))
	capID := issued["id"]
	require.NotZero(t, capID)

	rec = ts.do(t, http.MethodPost, "/v1/capabilities/release", map[string]interface{}{
		"capabilityId": capID,
		"holder":       addrHex(holder),
		"escrowId":     3,
		"recipient":    addrHex(recipient),
		"amount":       "250",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/capabilities/"+strconv.FormatUint(capID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var capView capabilityView
	raw, err = json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &capView))
	require.Equal(t, uint64(1), capView.Uses)
	require.Equal(t, "250", capView.AmountUsed)

	rec = ts.do(t, http.MethodPost, "/v1/capabilities/"+strconv.FormatUint(capID, 10)+"/revoke", map[string]interface{}{
		"caller": addrHex(testAddr(0xAA)),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/capabilities/release", map[string]interface{}{
		"capabilityId": capID,
		"holder":       addrHex(holder),
		"escrowId":     3,
		"recipient":    addrHex(recipient),
		"amount":       "100",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSplitEndpoints(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	ts.fund(t, depositor, 1_000)

	rec := ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor),
		"id":        5,
		"amount":    "1000",
		"deadline":  0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/splits", map[string]interface{}{
		"caller":   addrHex(testAddr(0xAA)),
		"escrowId": 5,
		"beneficiaries": []map[string]interface{}{
			{"recipient": addrHex(testAddr(0x21)), "shareBps": 6000},
			{"recipient": addrHex(testAddr(0x22)), "shareBps": 4000},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/splits/5?preview=1000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var previewed struct {
		Config  splitView `json:"config"`
		Preview []string  `json:"preview"`
	}
	raw, err := json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &previewed))
	require.Equal(t, []string{"600", "400"}, previewed.Preview)

	rec = ts.do(t, http.MethodPost, "/v1/splits/5/release", map[string]interface{}{
		"caller": addrHex(testAddr(0xAA)),
		"amount": "",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	for i, expected := range []int64{600, 400} {
		account, err := ts.manager.GetAccount(testAddr(byte(0x21 + i)))
		require.NoError(t, err)
		require.Equal(t, expected, account.Balance.Int64(), "beneficiary %d", i)
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	admin := addrHex(testAddr(0xAA))
	depositor := testAddr(0x01)
	ts.fund(t, depositor, 10_000)

	rec := ts.do(t, http.MethodPost, "/v1/admin/pause", map[string]interface{}{
		"caller": admin, "lock": true, "release": false, "refund": false, "reason": "maintenance",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor), "id": 1, "amount": "100", "deadline": 0,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/admin/pause", map[string]interface{}{
		"caller": admin, "lock": false, "release": false, "refund": false, "reason": "",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/admin/amount-policy", map[string]interface{}{
		"caller": admin, "min": "50", "max": "5000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor), "id": 1, "amount": "10", "deadline": 0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/admin/filter-mode", map[string]interface{}{
		"caller": admin, "mode": "blocklist",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/admin/filter-members", map[string]interface{}{
		"caller": admin, "list": "blocklist", "action": "add", "address": addrHex(depositor),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/escrow/lock", map[string]interface{}{
		"depositor": addrHex(depositor), "id": 1, "amount": "100", "deadline": 0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Non-admin caller is rejected.
	rec = ts.do(t, http.MethodPost, "/v1/admin/pause", map[string]interface{}{
		"caller": addrHex(depositor), "lock": true, "release": false, "refund": false, "reason": "",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBatchLockEndpointAtomicity(t *testing.T) {
	ts := newTestServer(t)
	depositor := testAddr(0x01)
	ts.fund(t, depositor, 1_000)

	rec := ts.do(t, http.MethodPost, "/v1/escrow/batch-lock", map[string]interface{}{
		"items": []map[string]interface{}{
			{"depositor": addrHex(depositor), "id": 1, "amount": "400", "deadline": 0},
			{"depositor": addrHex(depositor), "id": 2, "amount": "0", "deadline": 0},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/escrow/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/escrow/batch-lock", map[string]interface{}{
		"items": []map[string]interface{}{
			{"depositor": addrHex(depositor), "id": 1, "amount": "400", "deadline": 0},
			{"depositor": addrHex(depositor), "id": 2, "amount": "300", "deadline": 0},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var counted map[string]uint32
	raw, err := json.Marshal(decodeEnvelope(t, rec).Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &counted))
	require.Equal(t, uint32(2), counted["locked"])
}
