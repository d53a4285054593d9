package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	settlement "github.com/fieldshare/settlement"
	"github.com/fieldshare/settlement/protocol"
	"github.com/fieldshare/settlement/test/mocks/mockledger"
)

func testProvisionerConfig() settlement.ProvisionerConfig {
	return settlement.ProvisionerConfig{
		SettlementCurrency: testCurrency,
		SettlementIssuer:   testIssuer,
		FeeCurrency:        "FSE",
		FeeIssuer:          testIssuer,
		TrustlineLimit:     "1000000000",
		RentalHookCode:     []byte{0x00, 0x61, 0x73, 0x6d},
		SpreadHookCode:     []byte{0x00, 0x61, 0x73, 0x6d, 0x01},
	}
}

func newTestProvisioner(t *testing.T, mock *mockledger.Client) *settlement.Provisioner {
	t.Helper()
	prov, err := settlement.NewProvisioner(mock, testProvisionerConfig())
	require.NoError(t, err)
	return prov.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewProvisionerValidatesConfig(t *testing.T) {
	mock := mockledger.New()

	_, err := settlement.NewProvisioner(nil, testProvisionerConfig())
	require.Error(t, err)

	cfg := testProvisionerConfig()
	cfg.SettlementIssuer = ""
	_, err = settlement.NewProvisioner(mock, cfg)
	require.Error(t, err)

	cfg = testProvisionerConfig()
	cfg.TrustlineLimit = ""
	_, err = settlement.NewProvisioner(mock, cfg)
	require.Error(t, err)
}

func TestProvisionRentalHook(t *testing.T) {
	mock := mockledger.New()
	prov := newTestProvisioner(t, mock)

	account, wallet, err := prov.Provision(context.Background(), settlement.RoleRentalHook)
	require.NoError(t, err)
	require.NotNil(t, account)
	require.NotNil(t, wallet)

	assert.Equal(t, settlement.AccountAuthorityLocked, account.State)
	assert.Equal(t, wallet.Address(), account.Address)
	assert.Equal(t, []string{account.Address}, mock.Funded)

	// The rental hook holds only the settlement trustline.
	require.Len(t, account.Trustlines, 1)
	assert.Equal(t, testCurrency, account.Trustlines[0].Currency)
	assert.Equal(t, 1, mock.CountByType(protocol.TxTrustSet))

	deploy, ok := mock.LastByType(protocol.TxSetHook)
	require.True(t, ok)
	assert.Equal(t, account.Address, deploy.Account)
	require.Len(t, deploy.Hooks, 1)
	assert.Equal(t, "0061736d", deploy.Hooks[0].Hook.CreateCode)

	lock, ok := mock.LastByType(protocol.TxAccountSet)
	require.True(t, ok)
	assert.Equal(t, protocol.AccountFlagDisableMaster, lock.SetFlag)
}

func TestProvisionSpreadHookEstablishesBothTrustlines(t *testing.T) {
	mock := mockledger.New()
	prov := newTestProvisioner(t, mock)

	account, _, err := prov.Provision(context.Background(), settlement.RoleSpreadHook)
	require.NoError(t, err)

	require.Len(t, account.Trustlines, 2)
	assert.Equal(t, testCurrency, account.Trustlines[0].Currency)
	assert.Equal(t, "FSE", account.Trustlines[1].Currency)
	assert.Equal(t, 2, mock.CountByType(protocol.TxTrustSet))
}

func TestProvisionRejectsUnknownRole(t *testing.T) {
	prov := newTestProvisioner(t, mockledger.New())
	_, _, err := prov.Provision(context.Background(), settlement.AccountRole("treasury"))
	require.Error(t, err)
}

func TestProvisionFundingFailure(t *testing.T) {
	mock := mockledger.New()
	mock.FundErr = protocol.NewError(protocol.ErrCodeFundingUnavailable, "faucetDisabled: faucet is turned off")
	prov := newTestProvisioner(t, mock)

	account, wallet, err := prov.Provision(context.Background(), settlement.RoleRentalHook)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrProvisioningFailed))
	assert.Contains(t, err.Error(), "fund")
	assert.True(t, errors.Is(err, protocol.ErrFundingUnavailable), "the cause is preserved in the chain")

	// The partially provisioned account is returned for inspection.
	require.NotNil(t, account)
	require.NotNil(t, wallet)
	assert.Equal(t, settlement.AccountCreated, account.State)
	assert.Empty(t, mock.Submissions)
}

func TestProvisionDeployFailureNeverLocksAuthority(t *testing.T) {
	mock := mockledger.New()
	mock.FailType[protocol.TxSetHook] = fmt.Errorf("connection reset")
	prov := newTestProvisioner(t, mock)

	account, _, err := prov.Provision(context.Background(), settlement.RoleRentalHook)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrProvisioningFailed))
	assert.Contains(t, err.Error(), "deploy")

	assert.Equal(t, settlement.AccountTrustlined, account.State)
	assert.Zero(t, mock.CountByType(protocol.TxAccountSet),
		"the authority lock must never be attempted without a confirmed hook")
}

func TestProvisionDeployRejectionNeverLocksAuthority(t *testing.T) {
	mock := mockledger.New()
	mock.RejectType[protocol.TxSetHook] = "temMALFORMED"
	prov := newTestProvisioner(t, mock)

	account, _, err := prov.Provision(context.Background(), settlement.RoleRentalHook)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrSubmissionRejected), "the rejection survives the wrap")
	assert.Equal(t, settlement.AccountTrustlined, account.State)
	assert.Zero(t, mock.CountByType(protocol.TxAccountSet))
}

func TestProvisionEmptyBytecodeFailsBeforeSubmission(t *testing.T) {
	mock := mockledger.New()
	cfg := testProvisionerConfig()
	cfg.RentalHookCode = nil
	prov, err := settlement.NewProvisioner(mock, cfg)
	require.NoError(t, err)
	prov.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	account, _, err := prov.Provision(context.Background(), settlement.RoleRentalHook)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrEmptyBytecode))
	assert.Equal(t, settlement.AccountTrustlined, account.State)
	assert.Zero(t, mock.CountByType(protocol.TxSetHook))
}

func TestProvisionedAccountsDriveTheOrchestrator(t *testing.T) {
	mock := mockledger.New()
	prov := newTestProvisioner(t, mock)

	rental, _, err := prov.Provision(context.Background(), settlement.RoleRentalHook)
	require.NoError(t, err)
	spread, _, err := prov.Provision(context.Background(), settlement.RoleSpreadHook)
	require.NoError(t, err)

	orch, err := settlement.NewOrchestrator(mock, rental, spread)
	require.NoError(t, err)
	orch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	renter := newTestWallet(t)
	escrow, err := orch.Open(context.Background(), renter, settlement.OpenRequest{
		Owner:  "0x2222222222222222222222222222222222222222",
		Amount: 2000000,
	})
	require.NoError(t, err)
	assert.Equal(t, settlement.EscrowPendingSettlement, escrow.State)
	payment, ok := mock.LastByType(protocol.TxPayment)
	require.True(t, ok)
	assert.Equal(t, rental.Address, payment.Destination)
}
