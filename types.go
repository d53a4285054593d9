package settlement

import "fmt"

// AccountRole identifies which service account a provisioned identity plays.
type AccountRole string

const (
	// RoleRentalHook holds escrowed rental payments until finish or cancel.
	RoleRentalHook AccountRole = "rental_hook"
	// RoleSpreadHook collects the spread fee siphoned from settled rentals.
	RoleSpreadHook AccountRole = "spread_hook"
)

// Valid reports whether the role is one of the supported values.
func (r AccountRole) Valid() bool {
	return r == RoleRentalHook || r == RoleSpreadHook
}

// AccountState is the provisioning lifecycle of a service account. States are
// strictly ordered: each transition requires the previous step to have been
// confirmed on the ledger, and the authority lock is a one-way door — once an
// account reaches AccountAuthorityLocked its behavior is governed entirely by
// its deployed hook and no further native-signed administration is possible.
type AccountState uint8

const (
	AccountCreated AccountState = iota
	AccountFunded
	AccountTrustlined
	AccountHookDeployed
	AccountAuthorityLocked
)

func (s AccountState) String() string {
	switch s {
	case AccountCreated:
		return "created"
	case AccountFunded:
		return "funded"
	case AccountTrustlined:
		return "trustlined"
	case AccountHookDeployed:
		return "hook_deployed"
	case AccountAuthorityLocked:
		return "authority_locked"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Trustline records a credit line the account established during provisioning.
type Trustline struct {
	Currency string
	Issuer   string
	Limit    string
}

// ServiceAccount is a provisioned on-ledger identity. After provisioning
// completes it is shared, read-mostly state: every rental escrow references
// the same two service accounts, and no field changes again.
type ServiceAccount struct {
	Address    string
	Role       AccountRole
	State      AccountState
	Trustlines []Trustline
}

// HookDeployed reports whether the account's hook logic is confirmed deployed.
func (a *ServiceAccount) HookDeployed() bool {
	return a.State >= AccountHookDeployed
}

// AuthorityLocked reports whether native signing authority has been
// irreversibly disabled.
func (a *ServiceAccount) AuthorityLocked() bool {
	return a.State >= AccountAuthorityLocked
}

// EscrowState is the lifecycle state of a rental escrow.
type EscrowState uint8

const (
	// EscrowCreated is the initial state, before the open transaction is
	// accepted by the ledger.
	EscrowCreated EscrowState = iota
	// EscrowPendingSettlement means the open transaction finalized and the
	// escrow awaits exactly one finish or cancel.
	EscrowPendingSettlement
	// EscrowFinished and EscrowCancelled are the two settled terminal states.
	EscrowFinished
	EscrowCancelled
	// EscrowSubmissionFailed is terminal and reachable from any non-terminal
	// state when the ledger rejects a submission outright.
	EscrowSubmissionFailed
)

func (s EscrowState) String() string {
	switch s {
	case EscrowCreated:
		return "created"
	case EscrowPendingSettlement:
		return "pending_settlement"
	case EscrowFinished:
		return "finished"
	case EscrowCancelled:
		return "cancelled"
	case EscrowSubmissionFailed:
		return "submission_failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the state admits no further transitions.
func (s EscrowState) Terminal() bool {
	switch s {
	case EscrowFinished, EscrowCancelled, EscrowSubmissionFailed:
		return true
	default:
		return false
	}
}

// RentalEscrow is one rental's escrow lifecycle. The orchestrator exclusively
// owns the instance for the duration of the lifecycle; a new rental must mint
// a new correlation key, never reuse a settled escrow.
type RentalEscrow struct {
	// CorrelationKey joins the escrow's on-ledger transactions to the
	// off-ledger rental record. Unique per active rental.
	CorrelationKey string

	Renter string
	Owner  string

	// Amount is the opening payment in drops.
	Amount int64

	// ExpectedSpread is the fee portion, as a decimal string in the
	// settlement currency, that should land in the spread hook account on
	// settlement. Empty disables the spread observation.
	ExpectedSpread string

	// OpenSequence is the sequence number the ledger assigned to the open
	// transaction; cancel and finish reference the escrow by it.
	OpenSequence uint32
	OpenTxHash   string

	State EscrowState

	// FailureReason carries the ledger's rejection detail verbatim when the
	// escrow ends in EscrowSubmissionFailed.
	FailureReason string

	// Warnings records non-fatal observations, such as a spread payment that
	// could not be confirmed within the observation window.
	Warnings []string
}

// Clone returns a copy the caller can mutate without affecting the tracked
// instance.
func (e *RentalEscrow) Clone() *RentalEscrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Warnings != nil {
		clone.Warnings = append([]string(nil), e.Warnings...)
	}
	return &clone
}
