package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fieldshare/settlement/ledger"
	"github.com/fieldshare/settlement/protocol"
)

// ProvisionerConfig carries the operator-supplied provisioning inputs.
type ProvisionerConfig struct {
	// SettlementCurrency/Issuer is the currency rental payments settle in.
	// Both hook accounts establish a trustline for it.
	SettlementCurrency string
	SettlementIssuer   string

	// FeeCurrency/Issuer is the currency the spread fee is collected in. Only
	// the spread hook account establishes this trustline. Leave empty to
	// collect the spread in the settlement currency.
	FeeCurrency string
	FeeIssuer   string

	// TrustlineLimit is the decimal credit limit applied to every trustline.
	TrustlineLimit string

	// Hook bytecode per role, supplied as opaque build artifacts.
	RentalHookCode []byte
	SpreadHookCode []byte
}

// Provisioner performs the one-time setup of a hook-controlled service
// account: generate keys, fund, establish trustlines, deploy the hook, then
// irreversibly hand authority to it. Steps are strictly ordered and each
// waits for ledger finality before the next begins; in particular the
// authority lock is never submitted unless the hook deployment is confirmed,
// because locking a hookless account would strand its funds forever.
type Provisioner struct {
	client LedgerClient
	config ProvisionerConfig
	log    *slog.Logger
}

// NewProvisioner creates a provisioner.
func NewProvisioner(client LedgerClient, config ProvisionerConfig) (*Provisioner, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if config.SettlementCurrency == "" || config.SettlementIssuer == "" {
		return nil, fmt.Errorf("settlement currency and issuer are required")
	}
	if config.TrustlineLimit == "" {
		return nil, fmt.Errorf("trustline limit is required")
	}
	return &Provisioner{
		client: client,
		config: config,
		log:    slog.Default(),
	}, nil
}

// WithLogger sets the logger.
func (p *Provisioner) WithLogger(log *slog.Logger) *Provisioner {
	p.log = log
	return p
}

// Provision runs the full setup sequence for one service account role. On
// failure it returns a provisioning_failed error naming the failed step and
// wrapping the cause, together with the partially provisioned account and its
// wallet so the operator can inspect or drain it; the account is never
// authority-locked unless every prior step was confirmed.
func (p *Provisioner) Provision(ctx context.Context, role AccountRole) (*ServiceAccount, *ledger.Wallet, error) {
	if !role.Valid() {
		return nil, nil, fmt.Errorf("unknown account role %q", role)
	}

	wallet, err := ledger.NewWallet()
	if err != nil {
		return nil, nil, protocol.WrapError(protocol.ErrCodeProvisioningFailed, "generate: key generation failed", err)
	}
	account := &ServiceAccount{
		Address: wallet.Address(),
		Role:    role,
		State:   AccountCreated,
	}
	log := p.log.With("role", role, "address", account.Address)
	log.Info("provisioning service account")

	if err := p.client.FundTestAccount(ctx, account.Address); err != nil {
		return account, wallet, p.fail(log, "fund", err)
	}
	account.State = AccountFunded
	log.Info("account funded")

	for _, line := range p.trustlines(role) {
		tx, err := protocol.BuildTrustline(account.Address, line.Currency, line.Issuer, line.Limit)
		if err != nil {
			return account, wallet, p.fail(log, "trustline", err)
		}
		if err := p.submit(ctx, tx, wallet); err != nil {
			return account, wallet, p.fail(log, "trustline", err)
		}
		account.Trustlines = append(account.Trustlines, line)
		log.Info("trustline established", "currency", line.Currency, "issuer", line.Issuer, "limit", line.Limit)
	}
	account.State = AccountTrustlined

	tx, err := protocol.BuildHookDeploy(account.Address, p.bytecode(role))
	if err != nil {
		return account, wallet, p.fail(log, "deploy", err)
	}
	if err := p.submit(ctx, tx, wallet); err != nil {
		return account, wallet, p.fail(log, "deploy", err)
	}
	account.State = AccountHookDeployed
	log.Info("hook deployed")

	if err := p.submit(ctx, protocol.BuildAuthorityLock(account.Address), wallet); err != nil {
		return account, wallet, p.fail(log, "lock", err)
	}
	account.State = AccountAuthorityLocked
	log.Info("authority handed to hook")

	return account, wallet, nil
}

// submit sends a transaction and requires it to be both applied and validated
// before the provisioning sequence may advance.
func (p *Provisioner) submit(ctx context.Context, tx *protocol.Transaction, signer protocol.Signer) error {
	result, err := p.client.Submit(ctx, tx, signer)
	if err != nil {
		return err
	}
	if !result.Applied() {
		return fmt.Errorf("transaction %s not applied: %s", result.Hash, result.EngineResult)
	}
	return nil
}

func (p *Provisioner) trustlines(role AccountRole) []Trustline {
	lines := []Trustline{{
		Currency: p.config.SettlementCurrency,
		Issuer:   p.config.SettlementIssuer,
		Limit:    p.config.TrustlineLimit,
	}}
	if role == RoleSpreadHook && p.config.FeeCurrency != "" {
		lines = append(lines, Trustline{
			Currency: p.config.FeeCurrency,
			Issuer:   p.config.FeeIssuer,
			Limit:    p.config.TrustlineLimit,
		})
	}
	return lines
}

func (p *Provisioner) bytecode(role AccountRole) []byte {
	if role == RoleSpreadHook {
		return p.config.SpreadHookCode
	}
	return p.config.RentalHookCode
}

func (p *Provisioner) fail(log *slog.Logger, step string, cause error) error {
	log.Error("provisioning failed", "step", step, "error", cause)
	return protocol.WrapError(protocol.ErrCodeProvisioningFailed,
		fmt.Sprintf("%s: provisioning step failed", step), cause)
}
