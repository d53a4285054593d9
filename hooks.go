package settlement

import (
	"context"
	"time"
)

// ============================================================================
// Lifecycle Hook Context Types
// ============================================================================

// OpenContext contains information passed to escrow-open hooks
type OpenContext struct {
	Ctx            context.Context
	CorrelationKey string
	Renter         string
	Owner          string
	Amount         int64
	Timestamp      time.Time
}

// OpenResultContext contains the open operation result and context
type OpenResultContext struct {
	OpenContext
	Escrow   *RentalEscrow
	Duration time.Duration
}

// OpenFailureContext contains the open operation failure and context
type OpenFailureContext struct {
	OpenContext
	Error    error
	Duration time.Duration
}

// SettleAction distinguishes finish from cancel in settle hooks.
type SettleAction string

const (
	ActionFinish SettleAction = "finish"
	ActionCancel SettleAction = "cancel"
)

// SettleContext contains information passed to settle (finish/cancel) hooks
type SettleContext struct {
	Ctx       context.Context
	Action    SettleAction
	Escrow    *RentalEscrow
	Timestamp time.Time
}

// SettleResultContext contains the settle operation result and context
type SettleResultContext struct {
	SettleContext
	Duration time.Duration
}

// SettleFailureContext contains the settle operation failure and context
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Lifecycle Hook Function Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the operation is aborted with the given Reason before any
// ledger submission happens.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// BeforeOpenHook is called before an escrow-open submission
type BeforeOpenHook func(OpenContext) (*BeforeHookResult, error)

// AfterOpenHook is called after a successful escrow open.
// Any error returned is logged but does not affect the escrow's state.
type AfterOpenHook func(OpenResultContext) error

// OnOpenFailureHook is called when an escrow open fails.
// Hooks observe the failure; there is deliberately no recovery path, because
// resubmitting an open whose outcome is unknown could double-charge a renter.
type OnOpenFailureHook func(OpenFailureContext) error

// BeforeSettleHook is called before a finish or cancel submission
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook is called after a successful finish or cancel.
// Any error returned is logged but does not affect the escrow's state.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when a finish or cancel fails
type OnSettleFailureHook func(SettleFailureContext) error
