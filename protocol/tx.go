package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Transaction type identifiers understood by the ledger.
const (
	TxPayment      = "Payment"
	TxTrustSet     = "TrustSet"
	TxSetHook      = "SetHook"
	TxAccountSet   = "AccountSet"
	TxEscrowCancel = "EscrowCancel"
	TxEscrowFinish = "EscrowFinish"
)

// AccountFlagDisableMaster is the AccountSet flag that irrevocably disables an
// account's native signing authority, handing control to its deployed hook.
const AccountFlagDisableMaster uint32 = 4

// EngineResultSuccess is the engine result code the ledger reports for an
// applied transaction.
const EngineResultSuccess = "tesSUCCESS"

// LimitAmount describes a trustline credit line for a non-native currency.
type LimitAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// Memo is a single memo slot. MemoData is hex-encoded.
type Memo struct {
	MemoData string `json:"MemoData"`
}

// MemoWrapper matches the ledger's nested memo encoding.
type MemoWrapper struct {
	Memo Memo `json:"Memo"`
}

// Hook carries deployable hook bytecode, hex-encoded.
type Hook struct {
	CreateCode string `json:"CreateCode"`
}

// HookWrapper matches the ledger's nested hook encoding.
type HookWrapper struct {
	Hook Hook `json:"Hook"`
}

// Transaction is the structured record submitted to the ledger. Builders fill
// the shape fields; the ledger client fills Sequence, Fee and the signing
// fields at submission time.
type Transaction struct {
	TransactionType string        `json:"TransactionType"`
	Account         string        `json:"Account"`
	Destination     string        `json:"Destination,omitempty"`
	Owner           string        `json:"Owner,omitempty"`
	Amount          string        `json:"Amount,omitempty"`
	LimitAmount     *LimitAmount  `json:"LimitAmount,omitempty"`
	OfferSequence   uint32        `json:"OfferSequence,omitempty"`
	SetFlag         uint32        `json:"SetFlag,omitempty"`
	Hooks           []HookWrapper `json:"Hooks,omitempty"`
	Memos           []MemoWrapper `json:"Memos,omitempty"`

	// Filled by the ledger client.
	Sequence      uint32 `json:"Sequence,omitempty"`
	Fee           string `json:"Fee,omitempty"`
	SigningPubKey string `json:"SigningPubKey,omitempty"`
	TxnSignature  string `json:"TxnSignature,omitempty"`
}

// ToTransaction unmarshals a transaction record from its wire bytes.
func ToTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	if tx.TransactionType == "" {
		return nil, fmt.Errorf("transaction type is required")
	}
	return &tx, nil
}

// SigningDigest computes the digest a signer must sign for this transaction:
// keccak256 over the canonical JSON encoding with the signature field cleared.
func (tx *Transaction) SigningDigest() ([32]byte, error) {
	var digest [32]byte
	unsigned := *tx
	unsigned.TxnSignature = ""
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return digest, fmt.Errorf("failed to marshal transaction for signing: %w", err)
	}
	copy(digest[:], crypto.Keccak256(data))
	return digest, nil
}

// Signer signs transactions on behalf of a ledger account. Implementations
// hold key material; builders and the client only ever see this interface.
type Signer interface {
	// Address returns the ledger-native account identifier.
	Address() string

	// PublicKey returns the compressed public key bytes.
	PublicKey() []byte

	// Sign signs a transaction digest.
	Sign(digest [32]byte) ([]byte, error)
}

// SubmitResult describes the final outcome of a submitted transaction.
type SubmitResult struct {
	// Hash is the transaction hash assigned by the ledger.
	Hash string

	// Sequence is the sequence number the ledger assigned to the transaction.
	// Escrow cancel/finish reference the open transaction by this value.
	Sequence uint32

	// EngineResult is the ledger's engine result code, verbatim.
	EngineResult string

	// Validated reports whether finality was observed.
	Validated bool
}

// Applied reports whether the engine accepted the transaction.
func (r *SubmitResult) Applied() bool {
	return r.EngineResult == EngineResultSuccess
}
