package protocol

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// EscrowIntent is the payload carried in the open transaction's memo. It ties
// the on-ledger escrow to the off-ledger rental record: RefundTo receives the
// funds on cancellation, PayTo on finish, and ID is the correlation key shared
// with the external system of record. Cancel/finish memos carry the ID only.
type EscrowIntent struct {
	RefundTo string `json:"refund_to,omitempty"`
	PayTo    string `json:"pay_to,omitempty"`
	ID       string `json:"id"`
}

// intentSchema validates decoded memo payloads before they are trusted.
var intentSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"refund_to": {"type": "string"},
		"pay_to": {"type": "string"}
	}
}`)

// EncodeMemo serializes an intent as canonical JSON rendered as a hex string,
// the format the hook parses out of the memo slot.
func EncodeMemo(intent EscrowIntent) (string, error) {
	if intent.ID == "" {
		return "", NewError(ErrCodeMalformedMemo, "correlation id is required")
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return "", WrapError(ErrCodeMalformedMemo, "failed to marshal intent", err)
	}
	return hex.EncodeToString(data), nil
}

// DecodeMemo is the exact inverse of EncodeMemo. It fails if the bytes are not
// valid hex, not valid JSON, or the required id field is absent.
func DecodeMemo(memoHex string) (*EscrowIntent, error) {
	raw, err := hex.DecodeString(memoHex)
	if err != nil {
		return nil, WrapError(ErrCodeMalformedMemo, "memo is not valid hex", err)
	}

	result, err := gojsonschema.Validate(intentSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, WrapError(ErrCodeMalformedMemo, "memo is not valid JSON", err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, NewErrorf(ErrCodeMalformedMemo, "memo failed validation: %s", strings.Join(reasons, "; "))
	}

	var intent EscrowIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, WrapError(ErrCodeMalformedMemo, "failed to unmarshal intent", err)
	}
	return &intent, nil
}

const (
	correlationKeyPrefix    = "rental_"
	correlationKeyMinLength = 16
	correlationKeyMaxLength = 128
)

var correlationKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewCorrelationKey mints a fresh correlation key for a rental escrow.
//
// The format is "rental_" + UUID v4 without hyphens (32 hex chars).
// Example: "rental_7d5d747be160e280504c099d984bcfe0"
func NewCorrelationKey() string {
	return correlationKeyPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidCorrelationKey validates that a correlation key meets the format
// requirements: 16-128 characters, alphanumerics, hyphens and underscores only.
func IsValidCorrelationKey(key string) bool {
	if len(key) < correlationKeyMinLength || len(key) > correlationKeyMaxLength {
		return false
	}
	return correlationKeyPattern.MatchString(key)
}
