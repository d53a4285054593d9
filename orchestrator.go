package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/fieldshare/settlement/protocol"
)

// OpenRequest carries the per-rental parameters supplied by the caller.
type OpenRequest struct {
	// Owner is the pay_to address that receives the funds on finish.
	Owner string

	// Amount is the opening payment in drops.
	Amount int64

	// ExpectedSpread is the fee portion, as a decimal string in the
	// settlement currency, expected to reach the spread hook account on
	// settlement. Empty disables the spread observation for this escrow.
	ExpectedSpread string
}

// Orchestrator drives the per-rental escrow state machine: it opens an escrow
// and later resolves it to finished or cancelled, exactly once. Each lifecycle
// operation blocks on ledger finality before returning; concurrent escrows are
// independent, but a second operation on the same escrow while one is
// outstanding is rejected.
type Orchestrator struct {
	client     LedgerClient
	rentalHook *ServiceAccount
	spreadHook *ServiceAccount
	registry   *EscrowRegistry
	log        *slog.Logger

	// Spread observation settings. The hook's own logic is the authority on
	// fund movement; this is a best-effort confirmation only.
	spreadCurrency string
	spreadIssuer   string
	spreadWindow   time.Duration
	spreadPoll     time.Duration

	beforeOpenHooks      []BeforeOpenHook
	afterOpenHooks       []AfterOpenHook
	onOpenFailureHooks   []OnOpenFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// NewOrchestrator creates an orchestrator over two fully provisioned service
// accounts. Both accounts must have completed the authority handoff: escrows
// may only ever reference accounts whose behavior is governed by deployed
// hooks, never by native keys.
func NewOrchestrator(client LedgerClient, rentalHook, spreadHook *ServiceAccount) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if rentalHook == nil || rentalHook.Role != RoleRentalHook {
		return nil, fmt.Errorf("a provisioned rental hook account is required")
	}
	if spreadHook == nil || spreadHook.Role != RoleSpreadHook {
		return nil, fmt.Errorf("a provisioned spread hook account is required")
	}
	if !rentalHook.AuthorityLocked() || !spreadHook.AuthorityLocked() {
		return nil, fmt.Errorf("service accounts must be authority-locked before escrows reference them")
	}
	return &Orchestrator{
		client:       client,
		rentalHook:   rentalHook,
		spreadHook:   spreadHook,
		registry:     NewEscrowRegistry(),
		log:          slog.Default(),
		spreadWindow: 15 * time.Second,
		spreadPoll:   time.Second,
	}, nil
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(log *slog.Logger) *Orchestrator {
	o.log = log
	return o
}

// WithSpreadObservation enables the best-effort check that the spread fee
// reached the spread hook account, polling its balance in the given currency
// for up to window after each settlement.
func (o *Orchestrator) WithSpreadObservation(currency, issuer string, window, poll time.Duration) *Orchestrator {
	o.spreadCurrency = currency
	o.spreadIssuer = issuer
	if window > 0 {
		o.spreadWindow = window
	}
	if poll > 0 {
		o.spreadPoll = poll
	}
	return o
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (o *Orchestrator) OnBeforeOpen(hook BeforeOpenHook) *Orchestrator {
	o.beforeOpenHooks = append(o.beforeOpenHooks, hook)
	return o
}

func (o *Orchestrator) OnAfterOpen(hook AfterOpenHook) *Orchestrator {
	o.afterOpenHooks = append(o.afterOpenHooks, hook)
	return o
}

func (o *Orchestrator) OnOpenFailure(hook OnOpenFailureHook) *Orchestrator {
	o.onOpenFailureHooks = append(o.onOpenFailureHooks, hook)
	return o
}

func (o *Orchestrator) OnBeforeSettle(hook BeforeSettleHook) *Orchestrator {
	o.beforeSettleHooks = append(o.beforeSettleHooks, hook)
	return o
}

func (o *Orchestrator) OnAfterSettle(hook AfterSettleHook) *Orchestrator {
	o.afterSettleHooks = append(o.afterSettleHooks, hook)
	return o
}

func (o *Orchestrator) OnSettleFailure(hook OnSettleFailureHook) *Orchestrator {
	o.onSettleFailureHooks = append(o.onSettleFailureHooks, hook)
	return o
}

// Escrow returns a snapshot of the tracked escrow for a correlation key, for
// callers that report outcomes back to the system of record. Safe to call
// while a lifecycle operation on the same escrow is in progress.
func (o *Orchestrator) Escrow(correlationKey string) (*RentalEscrow, bool) {
	return o.registry.Get(correlationKey)
}

// Forget evicts a settled escrow once its outcome has been recorded, keeping
// long-running orchestrators from accumulating terminal records. Refused for
// non-terminal escrows.
func (o *Orchestrator) Forget(correlationKey string) error {
	return o.registry.Evict(correlationKey)
}

// updateEscrow routes field mutations through the registry mutex so that
// Escrow and Snapshot readers in other goroutines always see a consistent
// record. Untracked escrows (callers driving their own instances) are mutated
// directly; a tracked escrow that is not the caller's instance gets the
// mutation applied to both.
func (o *Orchestrator) updateEscrow(escrow *RentalEscrow, fn func(*RentalEscrow)) {
	applied := false
	o.registry.Update(escrow.CorrelationKey, func(tracked *RentalEscrow) {
		fn(tracked)
		applied = tracked == escrow
	})
	if !applied {
		fn(escrow)
	}
}

// escrowState reads the authoritative lifecycle state under the registry
// mutex.
func (o *Orchestrator) escrowState(escrow *RentalEscrow) EscrowState {
	if tracked, ok := o.registry.Get(escrow.CorrelationKey); ok {
		return tracked.State
	}
	return escrow.State
}

// Open mints a fresh correlation key and submits the escrow-open payment from
// the renter to the rental hook account. On success the escrow enters
// pending_settlement with the assigned sequence number recorded. On rejection
// the escrow is terminal with the ledger's reason preserved verbatim; no retry
// is attempted, because resubmitting the same intent could double-pay.
func (o *Orchestrator) Open(ctx context.Context, renter protocol.Signer, req OpenRequest) (*RentalEscrow, error) {
	key := protocol.NewCorrelationKey()
	start := time.Now()
	hookCtx := OpenContext{
		Ctx:            ctx,
		CorrelationKey: key,
		Renter:         renter.Address(),
		Owner:          req.Owner,
		Amount:         req.Amount,
		Timestamp:      start,
	}

	for _, hook := range o.beforeOpenHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return nil, fmt.Errorf("escrow open aborted: %s", result.Reason)
		}
	}

	intent := protocol.EscrowIntent{RefundTo: renter.Address(), PayTo: req.Owner, ID: key}
	tx, err := protocol.BuildEscrowOpen(renter.Address(), o.rentalHook.Address, req.Amount, intent)
	if err != nil {
		// Validation failure: rejected before any network call.
		return nil, err
	}

	escrow := &RentalEscrow{
		CorrelationKey: key,
		Renter:         renter.Address(),
		Owner:          req.Owner,
		Amount:         req.Amount,
		ExpectedSpread: req.ExpectedSpread,
		State:          EscrowCreated,
	}
	if err := o.registry.Track(escrow); err != nil {
		return nil, err
	}
	if err := o.registry.Acquire(key); err != nil {
		return nil, err
	}
	defer o.registry.Release(key)

	result, err := o.client.Submit(ctx, tx, renter)
	if err != nil {
		if errors.Is(err, protocol.ErrSubmissionRejected) {
			o.updateEscrow(escrow, func(e *RentalEscrow) {
				e.State = EscrowSubmissionFailed
				e.FailureReason = err.Error()
			})
			o.log.Error("escrow open rejected",
				"correlation_key", key,
				"reason", escrow.FailureReason,
			)
		}
		o.emitOpenFailure(hookCtx, err, start)
		return escrow, err
	}

	o.updateEscrow(escrow, func(e *RentalEscrow) {
		e.OpenSequence = result.Sequence
		e.OpenTxHash = result.Hash
		e.State = EscrowPendingSettlement
	})
	o.log.Info("escrow opened",
		"correlation_key", key,
		"renter", escrow.Renter,
		"owner", escrow.Owner,
		"amount", req.Amount,
		"sequence", result.Sequence,
	)

	for _, hook := range o.afterOpenHooks {
		if err := hook(OpenResultContext{OpenContext: hookCtx, Escrow: escrow, Duration: time.Since(start)}); err != nil {
			o.log.Warn("after-open hook failed", "correlation_key", key, "error", err)
		}
	}
	return escrow, nil
}

// Finish resolves a pending escrow: the hook releases the funds to the pay_to
// address. Valid only from pending_settlement.
func (o *Orchestrator) Finish(ctx context.Context, escrow *RentalEscrow, finisher protocol.Signer) (*RentalEscrow, error) {
	return o.settle(ctx, escrow, finisher, ActionFinish)
}

// Cancel resolves a pending escrow: the hook refunds the renter. Valid only
// from pending_settlement.
func (o *Orchestrator) Cancel(ctx context.Context, escrow *RentalEscrow, renter protocol.Signer) (*RentalEscrow, error) {
	return o.settle(ctx, escrow, renter, ActionCancel)
}

func (o *Orchestrator) settle(ctx context.Context, escrow *RentalEscrow, actor protocol.Signer, action SettleAction) (*RentalEscrow, error) {
	if escrow == nil {
		return nil, fmt.Errorf("escrow is required")
	}
	if state := o.escrowState(escrow); state != EscrowPendingSettlement {
		return escrow, protocol.NewErrorf(protocol.ErrCodeInvalidTransition,
			"cannot %s escrow %s in state %s", action, escrow.CorrelationKey, state)
	}
	if err := o.registry.Acquire(escrow.CorrelationKey); err != nil {
		return escrow, err
	}
	defer o.registry.Release(escrow.CorrelationKey)

	// Re-check under the in-flight guard: a concurrent settle may have won.
	if state := o.escrowState(escrow); state != EscrowPendingSettlement {
		return escrow, protocol.NewErrorf(protocol.ErrCodeInvalidTransition,
			"cannot %s escrow %s in state %s", action, escrow.CorrelationKey, state)
	}

	start := time.Now()
	hookCtx := SettleContext{Ctx: ctx, Action: action, Escrow: escrow, Timestamp: start}
	for _, hook := range o.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return escrow, err
		}
		if result != nil && result.Abort {
			return escrow, fmt.Errorf("escrow %s aborted: %s", action, result.Reason)
		}
	}

	var tx *protocol.Transaction
	var err error
	switch action {
	case ActionFinish:
		tx, err = protocol.BuildEscrowFinish(actor.Address(), o.rentalHook.Address, escrow.OpenSequence, escrow.CorrelationKey)
	case ActionCancel:
		tx, err = protocol.BuildEscrowCancel(actor.Address(), o.rentalHook.Address, escrow.OpenSequence, escrow.CorrelationKey)
	default:
		err = fmt.Errorf("unknown settle action %q", action)
	}
	if err != nil {
		return escrow, err
	}

	baseline, baselineErr := o.spreadBaseline(ctx, escrow)

	result, err := o.client.Submit(ctx, tx, actor)
	if err != nil {
		if errors.Is(err, protocol.ErrSubmissionRejected) {
			o.updateEscrow(escrow, func(e *RentalEscrow) {
				e.State = EscrowSubmissionFailed
				e.FailureReason = err.Error()
			})
			o.log.Error("escrow settlement rejected",
				"correlation_key", escrow.CorrelationKey,
				"action", action,
				"reason", escrow.FailureReason,
			)
		}
		o.emitSettleFailure(hookCtx, err, start)
		return escrow, err
	}

	next := EscrowCancelled
	if action == ActionFinish {
		next = EscrowFinished
	}
	o.updateEscrow(escrow, func(e *RentalEscrow) { e.State = next })
	o.log.Info("escrow settled",
		"correlation_key", escrow.CorrelationKey,
		"action", action,
		"state", escrow.State,
		"hash", result.Hash,
	)

	for _, hook := range o.afterSettleHooks {
		if err := hook(SettleResultContext{SettleContext: hookCtx, Duration: time.Since(start)}); err != nil {
			o.log.Warn("after-settle hook failed", "correlation_key", escrow.CorrelationKey, "error", err)
		}
	}

	o.observeSpread(ctx, escrow, baseline, baselineErr)
	return escrow, nil
}

func (o *Orchestrator) emitOpenFailure(hookCtx OpenContext, err error, start time.Time) {
	failureCtx := OpenFailureContext{OpenContext: hookCtx, Error: err, Duration: time.Since(start)}
	for _, hook := range o.onOpenFailureHooks {
		if hookErr := hook(failureCtx); hookErr != nil {
			o.log.Warn("open-failure hook failed", "correlation_key", hookCtx.CorrelationKey, "error", hookErr)
		}
	}
}

func (o *Orchestrator) emitSettleFailure(hookCtx SettleContext, err error, start time.Time) {
	failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: err, Duration: time.Since(start)}
	for _, hook := range o.onSettleFailureHooks {
		if hookErr := hook(failureCtx); hookErr != nil {
			o.log.Warn("settle-failure hook failed", "correlation_key", hookCtx.Escrow.CorrelationKey, "error", hookErr)
		}
	}
}

// spreadBaseline records the spread hook account balance before settlement so
// the post-settlement delta can be computed.
func (o *Orchestrator) spreadBaseline(ctx context.Context, escrow *RentalEscrow) (*big.Rat, error) {
	if !o.spreadCheckEnabled(escrow) {
		return nil, nil
	}
	raw, err := o.client.AccountBalance(ctx, o.spreadHook.Address, o.spreadCurrency, o.spreadIssuer)
	if err != nil {
		return nil, err
	}
	baseline, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("unparseable balance %q", raw)
	}
	return baseline, nil
}

// observeSpread confirms, best-effort, that the spread portion reached the
// spread hook account. Failure to observe it is a warning, never a
// state-machine failure: the hook's own logic is the authority on fund
// movement, and absence of the observation is left for reconciliation.
func (o *Orchestrator) observeSpread(ctx context.Context, escrow *RentalEscrow, baseline *big.Rat, baselineErr error) {
	if !o.spreadCheckEnabled(escrow) {
		return
	}

	warn := func(detail string) {
		warning := protocol.NewErrorf(protocol.ErrCodeSpreadNotObserved,
			"escrow %s: %s", escrow.CorrelationKey, detail)
		o.updateEscrow(escrow, func(e *RentalEscrow) {
			e.Warnings = append(e.Warnings, warning.Error())
		})
		o.log.Warn("spread payment not observed",
			"correlation_key", escrow.CorrelationKey,
			"spread_account", o.spreadHook.Address,
			"detail", detail,
		)
	}

	if baselineErr != nil {
		warn(fmt.Sprintf("baseline balance unavailable: %v", baselineErr))
		return
	}

	expected, ok := new(big.Rat).SetString(escrow.ExpectedSpread)
	if !ok || expected.Sign() <= 0 {
		warn(fmt.Sprintf("expected spread %q is not a positive decimal", escrow.ExpectedSpread))
		return
	}

	deadline := time.Now().Add(o.spreadWindow)
	for {
		raw, err := o.client.AccountBalance(ctx, o.spreadHook.Address, o.spreadCurrency, o.spreadIssuer)
		if err == nil {
			if current, ok := new(big.Rat).SetString(raw); ok {
				delta := new(big.Rat).Sub(current, baseline)
				if delta.Cmp(expected) >= 0 {
					o.log.Info("spread payment observed",
						"correlation_key", escrow.CorrelationKey,
						"spread_account", o.spreadHook.Address,
						"delta", delta.FloatString(6),
					)
					return
				}
			}
		}

		if time.Now().After(deadline) {
			warn(fmt.Sprintf("expected spread %s not seen within %s", escrow.ExpectedSpread, o.spreadWindow))
			return
		}
		select {
		case <-ctx.Done():
			warn(fmt.Sprintf("observation aborted: %v", ctx.Err()))
			return
		case <-time.After(o.spreadPoll):
		}
	}
}

func (o *Orchestrator) spreadCheckEnabled(escrow *RentalEscrow) bool {
	return o.spreadCurrency != "" && escrow.ExpectedSpread != ""
}
