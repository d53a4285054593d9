package protocol

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

// Builders construct unsigned transaction records from typed parameters. They
// perform no I/O; validation failures are rejected here, before any network
// call can happen.

// BuildTrustline constructs a TrustSet establishing a credit line for a
// settlement or fee currency. The limit is a decimal string and must be
// strictly positive.
func BuildTrustline(account, currency, issuer, limit string) (*Transaction, error) {
	value, ok := new(big.Rat).SetString(limit)
	if !ok {
		return nil, NewErrorf(ErrCodeInvalidLimit, "trustline limit %q is not a decimal number", limit)
	}
	if value.Sign() <= 0 {
		return nil, NewErrorf(ErrCodeInvalidLimit, "trustline limit must be positive, got %s", limit)
	}
	return &Transaction{
		TransactionType: TxTrustSet,
		Account:         account,
		LimitAmount: &LimitAmount{
			Currency: currency,
			Issuer:   issuer,
			Value:    limit,
		},
	}, nil
}

// BuildHookDeploy constructs a SetHook attaching deployable logic to an
// account. The bytecode is an opaque artifact supplied by the operator.
func BuildHookDeploy(account string, bytecode []byte) (*Transaction, error) {
	if len(bytecode) == 0 {
		return nil, NewError(ErrCodeEmptyBytecode, "hook bytecode must not be empty")
	}
	return &Transaction{
		TransactionType: TxSetHook,
		Account:         account,
		Hooks: []HookWrapper{
			{Hook: Hook{CreateCode: hex.EncodeToString(bytecode)}},
		},
	}, nil
}

// BuildAuthorityLock constructs the AccountSet that irreversibly disables the
// account's native signing authority.
//
// Precondition: the account's hook must already be deployed and confirmed.
// The builder does not check this; the provisioner enforces the ordering
// because only it observes submission results.
func BuildAuthorityLock(account string) *Transaction {
	return &Transaction{
		TransactionType: TxAccountSet,
		Account:         account,
		SetFlag:         AccountFlagDisableMaster,
	}
}

// BuildEscrowOpen constructs the payment that opens a rental escrow: funds
// move from the renter to the rental hook account, with the encoded intent in
// the memo slot. The amount is in drops and must be strictly positive.
func BuildEscrowOpen(renter, rentalHook string, amount int64, intent EscrowIntent) (*Transaction, error) {
	if amount <= 0 {
		return nil, NewErrorf(ErrCodeInvalidAmount, "escrow amount must be positive, got %d", amount)
	}
	memo, err := EncodeMemo(intent)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		TransactionType: TxPayment,
		Account:         renter,
		Destination:     rentalHook,
		Amount:          strconv.FormatInt(amount, 10),
		Memos: []MemoWrapper{
			{Memo: Memo{MemoData: memo}},
		},
	}, nil
}

// BuildEscrowCancel constructs the cancellation that returns escrowed funds to
// the refund address. It references the open transaction by sequence number
// and carries the correlation key so the hook and any observer can join the
// event to the original intent.
func BuildEscrowCancel(actor, rentalHook string, openSequence uint32, correlationKey string) (*Transaction, error) {
	return buildEscrowResolve(TxEscrowCancel, actor, rentalHook, openSequence, correlationKey)
}

// BuildEscrowFinish constructs the release that pays escrowed funds to the
// pay_to address. Same referencing rules as BuildEscrowCancel.
func BuildEscrowFinish(actor, rentalHook string, openSequence uint32, correlationKey string) (*Transaction, error) {
	return buildEscrowResolve(TxEscrowFinish, actor, rentalHook, openSequence, correlationKey)
}

func buildEscrowResolve(txType, actor, rentalHook string, openSequence uint32, correlationKey string) (*Transaction, error) {
	if openSequence == 0 {
		return nil, NewError(ErrCodeMissingSequence, "open transaction sequence is not yet known")
	}
	memo, err := EncodeMemo(EscrowIntent{ID: correlationKey})
	if err != nil {
		return nil, err
	}
	return &Transaction{
		TransactionType: txType,
		Account:         actor,
		Owner:           rentalHook,
		OfferSequence:   openSequence,
		Memos: []MemoWrapper{
			{Memo: Memo{MemoData: memo}},
		},
	}, nil
}
