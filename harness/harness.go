package harness

import (
	"context"
	"fmt"
	"log/slog"

	settlement "github.com/fieldshare/settlement"
	"github.com/fieldshare/settlement/ledger"
)

// Report collects what one end-to-end run produced, for operator inspection.
type Report struct {
	RentalHook *settlement.ServiceAccount
	SpreadHook *settlement.ServiceAccount

	// Finished is the escrow driven through open then finish; Cancelled is
	// the escrow driven through open then cancel.
	Finished  *settlement.RentalEscrow
	Cancelled *settlement.RentalEscrow
}

// Warnings flattens the non-fatal observations from both escrows.
func (r *Report) Warnings() []string {
	var out []string
	for _, escrow := range []*settlement.RentalEscrow{r.Finished, r.Cancelled} {
		if escrow != nil {
			out = append(out, escrow.Warnings...)
		}
	}
	return out
}

// Runner exercises the full settlement lifecycle against a test network:
// provision both hook accounts, then drive one escrow to finish and one to
// cancel. It is the executable proof that a deployment's hooks, trustlines and
// authority handoff all work before real rentals touch them.
type Runner struct {
	client     settlement.LedgerClient
	config     Config
	rentalCode []byte
	spreadCode []byte
	log        *slog.Logger
}

// NewRunner creates a runner. Hook bytecode is passed in directly so tests can
// supply artifacts without touching disk; production callers load it with
// Config.HookBytecode.
func NewRunner(client settlement.LedgerClient, config Config, rentalCode, spreadCode []byte) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if len(rentalCode) == 0 || len(spreadCode) == 0 {
		return nil, fmt.Errorf("hook bytecode for both roles is required")
	}
	return &Runner{
		client:     client,
		config:     config,
		rentalCode: rentalCode,
		spreadCode: spreadCode,
		log:        slog.Default(),
	}, nil
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(log *slog.Logger) *Runner {
	r.log = log
	return r
}

// Run executes the full sequence. It stops at the first hard failure; a
// completed run with warnings is a success whose Report carries them.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	provisioner, err := settlement.NewProvisioner(r.client, settlement.ProvisionerConfig{
		SettlementCurrency: r.config.SettlementCurrency,
		SettlementIssuer:   r.config.SettlementIssuer,
		FeeCurrency:        r.config.FeeCurrency,
		FeeIssuer:          r.config.FeeIssuer,
		TrustlineLimit:     r.config.TrustlineLimit,
		RentalHookCode:     r.rentalCode,
		SpreadHookCode:     r.spreadCode,
	})
	if err != nil {
		return report, err
	}
	provisioner.WithLogger(r.log)

	// The spread hook goes first: the rental hook's settlement logic pays the
	// spread into it, so it must exist before the rental hook takes traffic.
	spread, _, err := provisioner.Provision(ctx, settlement.RoleSpreadHook)
	report.SpreadHook = spread
	if err != nil {
		return report, fmt.Errorf("spread hook provisioning failed: %w", err)
	}
	rental, _, err := provisioner.Provision(ctx, settlement.RoleRentalHook)
	report.RentalHook = rental
	if err != nil {
		return report, fmt.Errorf("rental hook provisioning failed: %w", err)
	}

	renter, err := r.fundedWallet(ctx)
	if err != nil {
		return report, fmt.Errorf("renter wallet setup failed: %w", err)
	}
	owner, err := r.fundedWallet(ctx)
	if err != nil {
		return report, fmt.Errorf("owner wallet setup failed: %w", err)
	}

	orch, err := settlement.NewOrchestrator(r.client, rental, spread)
	if err != nil {
		return report, err
	}
	orch.WithLogger(r.log)
	if r.config.ExpectedSpread != "" {
		// The spread lands in the fee currency when one is configured.
		currency, issuer := r.config.SettlementCurrency, r.config.SettlementIssuer
		if r.config.FeeCurrency != "" {
			currency, issuer = r.config.FeeCurrency, r.config.FeeIssuer
		}
		orch.WithSpreadObservation(currency, issuer, r.config.SpreadWindow.Std(), 0)
	}

	request := settlement.OpenRequest{
		Owner:          owner.Address(),
		Amount:         r.config.EscrowAmount,
		ExpectedSpread: r.config.ExpectedSpread,
	}

	finished, err := orch.Open(ctx, renter, request)
	if err != nil {
		return report, fmt.Errorf("escrow open failed: %w", err)
	}
	report.Finished = finished
	if _, err := orch.Finish(ctx, finished, owner); err != nil {
		return report, fmt.Errorf("escrow finish failed: %w", err)
	}
	r.log.Info("finish path verified", "correlation_key", finished.CorrelationKey)

	cancelled, err := orch.Open(ctx, renter, request)
	if err != nil {
		return report, fmt.Errorf("escrow open failed: %w", err)
	}
	report.Cancelled = cancelled
	if _, err := orch.Cancel(ctx, cancelled, renter); err != nil {
		return report, fmt.Errorf("escrow cancel failed: %w", err)
	}
	r.log.Info("cancel path verified", "correlation_key", cancelled.CorrelationKey)

	return report, nil
}

// fundedWallet generates a throwaway participant identity and funds it from
// the test network faucet.
func (r *Runner) fundedWallet(ctx context.Context) (*ledger.Wallet, error) {
	wallet, err := ledger.NewWallet()
	if err != nil {
		return nil, err
	}
	if err := r.client.FundTestAccount(ctx, wallet.Address()); err != nil {
		return nil, err
	}
	return wallet, nil
}
