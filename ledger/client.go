package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldshare/settlement/protocol"
)

// Commands understood by the ledger endpoint.
const (
	cmdSubmit  = "submit"
	cmdTx      = "tx"
	cmdFaucet  = "faucet"
	cmdBalance = "account_balance"
)

// request is a single frame sent to the ledger endpoint. Frames are correlated
// with their responses by the client-assigned id.
type request struct {
	ID          int64                 `json:"id"`
	Command     string                `json:"command"`
	TxJSON      *protocol.Transaction `json:"tx_json,omitempty"`
	Transaction string                `json:"transaction,omitempty"`
	Destination string                `json:"destination,omitempty"`
	Account     string                `json:"account,omitempty"`
	Currency    string                `json:"currency,omitempty"`
	Issuer      string                `json:"issuer,omitempty"`
}

type response struct {
	ID           int64      `json:"id"`
	Status       string     `json:"status"`
	ErrorCode    string     `json:"error,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       respResult `json:"result"`
}

type respResult struct {
	EngineResult        string                `json:"engine_result,omitempty"`
	EngineResultMessage string                `json:"engine_result_message,omitempty"`
	Hash                string                `json:"hash,omitempty"`
	TxJSON              *protocol.Transaction `json:"tx_json,omitempty"`
	Validated           bool                  `json:"validated,omitempty"`
	Balance             string                `json:"balance,omitempty"`
}

const statusSuccess = "success"

// Client maintains a single logical session to a ledger network endpoint and
// provides submit-and-await-finality semantics on top of it.
//
// Submissions are serialized onto the shared socket, but each submission
// carries its own finality wait, so any number of awaits may be outstanding
// concurrently.
type Client struct {
	endpoint         string
	log              *slog.Logger
	handshakeTimeout time.Duration
	finalityTimeout  time.Duration
	pollInterval     time.Duration
	fee              string

	writeMu sync.Mutex // serializes frames onto the socket

	mu      sync.Mutex // guards session state
	conn    *websocket.Conn
	pending map[int64]chan *response
	nextID  int64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithFinalityTimeout bounds how long Submit waits for the network to report
// finality before failing with finality_timeout.
func WithFinalityTimeout(d time.Duration) Option {
	return func(c *Client) { c.finalityTimeout = d }
}

// WithPollInterval sets how often Submit re-queries an unvalidated transaction.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithFee sets the fee, in drops, attached to every submitted transaction.
func WithFee(fee string) Option {
	return func(c *Client) { c.fee = fee }
}

// WithHandshakeTimeout bounds the websocket handshake during Connect.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// NewClient creates a client for the given websocket endpoint. The session is
// not established until Connect is called.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:         endpoint,
		log:              slog.Default(),
		handshakeTimeout: 10 * time.Second,
		finalityTimeout:  20 * time.Second,
		pollInterval:     500 * time.Millisecond,
		fee:              "10",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the session. Calling Connect on an already connected
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return protocol.WrapError(protocol.ErrCodeConnection,
			fmt.Sprintf("failed to connect to %s", c.endpoint), err)
	}

	c.conn = conn
	c.pending = make(map[int64]chan *response)
	go c.readLoop(conn)

	c.log.Info("ledger session established", "endpoint", c.endpoint)
	return nil
}

// Disconnect releases the session. Safe to call multiple times.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pending = nil
	c.log.Info("ledger session closed", "endpoint", c.endpoint)
	return err
}

// readLoop routes incoming frames to their waiting callers. It exits when the
// socket is closed, failing any still-pending requests.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		ch := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ch != nil {
			ch <- &resp
		}
	}
}

// call sends one request frame and waits for its response.
func (c *Client) call(ctx context.Context, req *request) (*response, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, protocol.NewError(protocol.ErrCodeConnection, "not connected")
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan *response, 1)
	c.pending[req.ID] = ch
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(req.ID)
		return nil, protocol.WrapError(protocol.ErrCodeConnection,
			fmt.Sprintf("failed to send %s request", req.Command), err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, protocol.NewError(protocol.ErrCodeConnection, "session closed while awaiting response")
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(req.ID)
		return nil, protocol.WrapError(protocol.ErrCodeConnection,
			fmt.Sprintf("%s request aborted", req.Command), ctx.Err())
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Submit signs and submits a transaction, then blocks until the network
// reports finality. The returned result carries the assigned sequence number,
// which escrow cancel/finish need to reference the open transaction.
//
// A submission the engine refuses fails with submission_rejected carrying the
// engine result verbatim. A submission whose finality is not observed within
// the configured bound fails with finality_timeout; its outcome is unknown and
// reconciliation is left to an out-of-band audit against ledger history.
func (c *Client) Submit(ctx context.Context, tx *protocol.Transaction, signer protocol.Signer) (*protocol.SubmitResult, error) {
	signed := *tx
	signed.Fee = c.fee
	signed.SigningPubKey = hex.EncodeToString(signer.PublicKey())

	digest, err := signed.SigningDigest()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", tx.TransactionType, err)
	}
	signed.TxnSignature = hex.EncodeToString(sig)

	resp, err := c.call(ctx, &request{Command: cmdSubmit, TxJSON: &signed})
	if err != nil {
		return nil, err
	}
	if resp.Status != statusSuccess {
		return nil, NewSubmissionRejected(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Result.EngineResult != protocol.EngineResultSuccess {
		return nil, NewSubmissionRejected(resp.Result.EngineResult, resp.Result.EngineResultMessage)
	}

	hash := resp.Result.Hash
	sequence := sequenceFrom(&resp.Result)
	c.log.Debug("transaction submitted",
		"type", tx.TransactionType,
		"account", signer.Address(),
		"hash", hash,
	)

	if resp.Result.Validated {
		return &protocol.SubmitResult{
			Hash:         hash,
			Sequence:     sequence,
			EngineResult: resp.Result.EngineResult,
			Validated:    true,
		}, nil
	}
	return c.awaitFinality(ctx, hash, sequence)
}

// awaitFinality polls the transaction until the network reports it validated
// or the finality timeout elapses.
func (c *Client) awaitFinality(ctx context.Context, hash string, sequence uint32) (*protocol.SubmitResult, error) {
	deadline := time.Now().Add(c.finalityTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, protocol.WrapError(protocol.ErrCodeFinalityTimeout,
				fmt.Sprintf("finality wait for %s aborted", hash), ctx.Err())
		case <-ticker.C:
		}

		resp, err := c.call(ctx, &request{Command: cmdTx, Transaction: hash})
		if err != nil {
			return nil, err
		}
		if resp.Status == statusSuccess && resp.Result.Validated {
			if seq := sequenceFrom(&resp.Result); seq != 0 {
				sequence = seq
			}
			if resp.Result.EngineResult != protocol.EngineResultSuccess {
				return nil, NewSubmissionRejected(resp.Result.EngineResult, resp.Result.EngineResultMessage)
			}
			return &protocol.SubmitResult{
				Hash:         hash,
				Sequence:     sequence,
				EngineResult: resp.Result.EngineResult,
				Validated:    true,
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, protocol.NewErrorf(protocol.ErrCodeFinalityTimeout,
				"no finality observed for %s within %s", hash, c.finalityTimeout)
		}
	}
}

// FundTestAccount credits a newly generated address with enough native
// currency to pay fees. Test networks only; elsewhere the endpoint reports the
// faucet as unavailable.
func (c *Client) FundTestAccount(ctx context.Context, address string) error {
	resp, err := c.call(ctx, &request{Command: cmdFaucet, Destination: address})
	if err != nil {
		return err
	}
	if resp.Status != statusSuccess {
		return protocol.NewErrorf(protocol.ErrCodeFundingUnavailable,
			"faucet refused funding for %s: %s %s", address, resp.ErrorCode, resp.ErrorMessage)
	}
	c.log.Debug("test account funded", "address", address)
	return nil
}

// AccountBalance queries an account's balance in the given currency. It is a
// best-effort observation used for spread confirmation, not a settlement
// authority.
func (c *Client) AccountBalance(ctx context.Context, account, currency, issuer string) (string, error) {
	resp, err := c.call(ctx, &request{
		Command:  cmdBalance,
		Account:  account,
		Currency: currency,
		Issuer:   issuer,
	})
	if err != nil {
		return "", err
	}
	if resp.Status != statusSuccess {
		return "", fmt.Errorf("balance query for %s failed: %s %s", account, resp.ErrorCode, resp.ErrorMessage)
	}
	return resp.Result.Balance, nil
}

// NewSubmissionRejected builds a submission_rejected error preserving the
// ledger's own rejection detail verbatim for audit.
func NewSubmissionRejected(code, message string) *protocol.Error {
	if message == "" {
		return protocol.NewError(protocol.ErrCodeSubmissionRejected, code)
	}
	return protocol.NewErrorf(protocol.ErrCodeSubmissionRejected, "%s: %s", code, message)
}

func sequenceFrom(r *respResult) uint32 {
	if r.TxJSON == nil {
		return 0
	}
	return r.TxJSON.Sequence
}
