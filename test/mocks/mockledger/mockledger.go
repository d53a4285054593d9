package mockledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldshare/settlement/ledger"
	"github.com/fieldshare/settlement/protocol"
)

// ============================================================================
// Scripted Ledger Client
// ============================================================================

// SubmittedTx records one Submit call for later assertions.
type SubmittedTx struct {
	Tx     *protocol.Transaction
	Signer protocol.Signer
}

// Client is a scripted, in-memory ledger for tests. By default every
// submission is applied and validated with a monotonically increasing
// sequence number; tests script failures per transaction type. All methods
// are safe for concurrent use.
type Client struct {
	mu  sync.Mutex
	seq uint32

	// Submissions holds every Submit call in order.
	Submissions []SubmittedTx

	// FailType makes Submit return the given error for a transaction type,
	// without recording a finalized result.
	FailType map[string]error

	// RejectType makes Submit report the given engine result for a
	// transaction type, surfaced as a submission_rejected error.
	RejectType map[string]string

	// FundErr, when set, is returned by FundTestAccount.
	FundErr error
	Funded  []string

	// Balances maps "account|currency" to the balance AccountBalance returns.
	Balances   map[string]string
	BalanceErr error

	// BalanceQueries holds every AccountBalance call in order.
	BalanceQueries []BalanceQuery
}

// BalanceQuery records one AccountBalance call.
type BalanceQuery struct {
	Account  string
	Currency string
	Issuer   string
}

// New creates a mock ledger client with no scripted failures.
func New() *Client {
	return &Client{
		FailType:   make(map[string]error),
		RejectType: make(map[string]string),
		Balances:   make(map[string]string),
	}
}

// Submit records the transaction and returns a validated result unless a
// failure is scripted for its type.
func (c *Client) Submit(ctx context.Context, tx *protocol.Transaction, signer protocol.Signer) (*protocol.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Submissions = append(c.Submissions, SubmittedTx{Tx: tx, Signer: signer})

	if err := c.FailType[tx.TransactionType]; err != nil {
		return nil, err
	}
	if engine, ok := c.RejectType[tx.TransactionType]; ok {
		return nil, ledger.NewSubmissionRejected(engine, fmt.Sprintf("%s rejected by script", tx.TransactionType))
	}

	c.seq++
	return &protocol.SubmitResult{
		Hash:         fmt.Sprintf("MOCKHASH%08d", c.seq),
		Sequence:     c.seq,
		EngineResult: protocol.EngineResultSuccess,
		Validated:    true,
	}, nil
}

// FundTestAccount records the funded address.
func (c *Client) FundTestAccount(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FundErr != nil {
		return c.FundErr
	}
	c.Funded = append(c.Funded, address)
	return nil
}

// AccountBalance returns the scripted balance for account and currency, or
// "0" when none is scripted.
func (c *Client) AccountBalance(ctx context.Context, account, currency, issuer string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BalanceQueries = append(c.BalanceQueries, BalanceQuery{Account: account, Currency: currency, Issuer: issuer})
	if c.BalanceErr != nil {
		return "", c.BalanceErr
	}
	if balance, ok := c.Balances[balanceKey(account, currency)]; ok {
		return balance, nil
	}
	return "0", nil
}

// SetBalance scripts the balance AccountBalance reports for an account.
func (c *Client) SetBalance(account, currency, balance string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[balanceKey(account, currency)] = balance
}

// CountByType returns how many recorded submissions carry the given
// transaction type.
func (c *Client) CountByType(txType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.Submissions {
		if s.Tx.TransactionType == txType {
			n++
		}
	}
	return n
}

// LastByType returns the most recent submission of the given type.
func (c *Client) LastByType(txType string) (*protocol.Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Submissions) - 1; i >= 0; i-- {
		if c.Submissions[i].Tx.TransactionType == txType {
			return c.Submissions[i].Tx, true
		}
	}
	return nil, false
}

func balanceKey(account, currency string) string {
	return account + "|" + currency
}
