package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/fieldshare/settlement/protocol"
)

// newTestEndpoint starts a websocket server that answers every frame through
// the supplied script and returns its ws:// URL.
func newTestEndpoint(t *testing.T, script func(req *request) *response) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := script(&req)
			resp.ID = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectedClient(t *testing.T, endpoint string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithFinalityTimeout(time.Second),
		WithPollInterval(5 * time.Millisecond),
	}, opts...)
	c := NewClient(endpoint, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestConnectFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", WithHandshakeTimeout(200*time.Millisecond))
	err := c.Connect(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, protocol.ErrConnection)
}

func TestSubmitAwaitsFinality(t *testing.T) {
	var mu sync.Mutex
	var submitted *protocol.Transaction
	polls := 0

	endpoint := newTestEndpoint(t, func(req *request) *response {
		mu.Lock()
		defer mu.Unlock()
		switch req.Command {
		case cmdSubmit:
			submitted = req.TxJSON
			return &response{Status: statusSuccess, Result: respResult{
				EngineResult: protocol.EngineResultSuccess,
				Hash:         "ABC123",
				TxJSON:       &protocol.Transaction{Sequence: 7},
			}}
		case cmdTx:
			// Report finality on the second poll.
			polls++
			return &response{Status: statusSuccess, Result: respResult{
				EngineResult: protocol.EngineResultSuccess,
				Hash:         "ABC123",
				TxJSON:       &protocol.Transaction{Sequence: 7},
				Validated:    polls >= 2,
			}}
		default:
			return &response{Status: "error", ErrorCode: "unknownCmd"}
		}
	})

	c := connectedClient(t, endpoint)
	w, err := NewWallet()
	require.NoError(t, err)

	tx, err := protocol.BuildTrustline(w.Address(), "RLUSD", "0x4444444444444444444444444444444444444444", "1000000")
	require.NoError(t, err)

	result, err := c.Submit(context.Background(), tx, w)
	require.NoError(t, err)
	require.True(t, result.Validated)
	require.True(t, result.Applied())
	require.Equal(t, uint32(7), result.Sequence)
	require.Equal(t, "ABC123", result.Hash)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, submitted)
	require.NotEmpty(t, submitted.TxnSignature, "submitted transaction must be signed")
	require.NotEmpty(t, submitted.SigningPubKey)
	require.NotEmpty(t, submitted.Fee)
	// The caller's transaction must not be mutated by signing.
	require.Empty(t, tx.TxnSignature)
}

func TestSubmitRejectedVerbatim(t *testing.T) {
	endpoint := newTestEndpoint(t, func(req *request) *response {
		return &response{Status: statusSuccess, Result: respResult{
			EngineResult:        "tecNO_PERMISSION",
			EngineResultMessage: "The transaction lacks permission.",
		}}
	})

	c := connectedClient(t, endpoint)
	w, err := NewWallet()
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), protocol.BuildAuthorityLock(w.Address()), w)
	require.ErrorIs(t, err, protocol.ErrSubmissionRejected)
	require.Contains(t, err.Error(), "tecNO_PERMISSION")
	require.Contains(t, err.Error(), "The transaction lacks permission.")
}

func TestSubmitFinalityTimeout(t *testing.T) {
	endpoint := newTestEndpoint(t, func(req *request) *response {
		switch req.Command {
		case cmdSubmit:
			return &response{Status: statusSuccess, Result: respResult{
				EngineResult: protocol.EngineResultSuccess,
				Hash:         "NEVERFINAL",
			}}
		default:
			return &response{Status: statusSuccess, Result: respResult{
				EngineResult: protocol.EngineResultSuccess,
				Hash:         "NEVERFINAL",
				Validated:    false,
			}}
		}
	})

	c := connectedClient(t, endpoint, WithFinalityTimeout(40*time.Millisecond))
	w, err := NewWallet()
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), protocol.BuildAuthorityLock(w.Address()), w)
	require.ErrorIs(t, err, protocol.ErrFinalityTimeout)
}

func TestFundTestAccount(t *testing.T) {
	var funded string
	endpoint := newTestEndpoint(t, func(req *request) *response {
		funded = req.Destination
		return &response{Status: statusSuccess}
	})

	c := connectedClient(t, endpoint)
	require.NoError(t, c.FundTestAccount(context.Background(), "0xAbCd"))
	require.Equal(t, "0xAbCd", funded)
}

func TestFundTestAccountUnavailable(t *testing.T) {
	endpoint := newTestEndpoint(t, func(req *request) *response {
		return &response{Status: "error", ErrorCode: "faucetDisabled", ErrorMessage: "faucet is not enabled on this network"}
	})

	c := connectedClient(t, endpoint)
	err := c.FundTestAccount(context.Background(), "0xAbCd")
	require.ErrorIs(t, err, protocol.ErrFundingUnavailable)
	require.Contains(t, err.Error(), "faucetDisabled")
}

func TestAccountBalance(t *testing.T) {
	endpoint := newTestEndpoint(t, func(req *request) *response {
		if req.Account == "" || req.Currency == "" {
			return &response{Status: "error", ErrorCode: "invalidParams"}
		}
		return &response{Status: statusSuccess, Result: respResult{Balance: "1500.25"}}
	})

	c := connectedClient(t, endpoint)
	balance, err := c.AccountBalance(context.Background(), "0xAbCd", "RLUSD", "0xIssuer")
	require.NoError(t, err)
	require.Equal(t, "1500.25", balance)
}

func TestDisconnectIdempotent(t *testing.T) {
	endpoint := newTestEndpoint(t, func(req *request) *response {
		return &response{Status: statusSuccess}
	})

	c := NewClient(endpoint)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
}

func TestSubmitRequiresConnection(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	w, err := NewWallet()
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), protocol.BuildAuthorityLock(w.Address()), w)
	require.ErrorIs(t, err, protocol.ErrConnection)
}

func TestConcurrentSubmissions(t *testing.T) {
	endpoint := newTestEndpoint(t, func(req *request) *response {
		switch req.Command {
		case cmdSubmit:
			return &response{Status: statusSuccess, Result: respResult{
				EngineResult: protocol.EngineResultSuccess,
				Hash:         "H" + req.TxJSON.Account,
				TxJSON:       &protocol.Transaction{Sequence: 1},
				Validated:    true,
			}}
		default:
			return &response{Status: "error", ErrorCode: "unknownCmd"}
		}
	})

	c := connectedClient(t, endpoint)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := NewWallet()
			if err != nil {
				errs <- err
				return
			}
			if _, err := c.Submit(context.Background(), protocol.BuildAuthorityLock(w.Address()), w); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent submit failed: %v", err)
	}
}
