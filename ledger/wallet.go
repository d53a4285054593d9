// Package ledger owns the connection to a ledger network endpoint: wallet key
// material, the persistent session, and submit-and-await-finality semantics.
package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet holds a ledger account keypair and implements protocol.Signer.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWallet generates a fresh keypair and derives its ledger address.
func NewWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallet key: %w", err)
	}
	return &Wallet{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// WalletFromHex creates a wallet from a hex-encoded private key
// (with or without "0x" prefix).
func WalletFromHex(privateKeyHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &Wallet{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the ledger-native account identifier.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// PublicKey returns the compressed public key bytes.
func (w *Wallet) PublicKey() []byte {
	return crypto.CompressPubkey(&w.privateKey.PublicKey)
}

// Sign signs a transaction digest.
func (w *Wallet) Sign(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// ExportHex returns the hex-encoded private key. Intended for operator
// inspection of partially provisioned accounts, not routine use.
func (w *Wallet) ExportHex() string {
	return hexutil.Encode(crypto.FromECDSA(w.privateKey))
}
