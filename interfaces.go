package settlement

import (
	"context"

	"github.com/fieldshare/settlement/protocol"
)

// LedgerClient abstracts the ledger network boundary. The production
// implementation is ledger.Client; tests substitute a scripted mock that
// counts submissions.
type LedgerClient interface {
	// Submit signs and submits a transaction and blocks until the network
	// reports finality.
	Submit(ctx context.Context, tx *protocol.Transaction, signer protocol.Signer) (*protocol.SubmitResult, error)

	// FundTestAccount credits an address with native currency. Test networks
	// only.
	FundTestAccount(ctx context.Context, address string) error

	// AccountBalance queries an account's balance in the given currency.
	// Best-effort; used only for spread observation.
	AccountBalance(ctx context.Context, account, currency, issuer string) (string, error)
}
