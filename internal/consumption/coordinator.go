package consumption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/session"
	"lovepage-backend/internal/shared/metrics"
	"lovepage-backend/internal/shared/telemetry"
)

const (
	OpCreate = "create"
	OpEdit   = "edit"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 50 * time.Millisecond
)

// Options tunes retry and unavailability behaviour.
type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	OnUnavailable entitlement.Policy
}

// Coordinator runs check-then-increment against the quota store. The check
// reads fresh state every attempt; the increment is the store's conditional
// primitive, keyed by one operation id per call so retries cannot double count.
type Coordinator struct {
	store  quota.Store
	eval   *entitlement.Evaluator
	opts   Options
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// NewCoordinator constructs a Coordinator. A nil evaluator uses the default catalog.
func NewCoordinator(store quota.Store, eval *entitlement.Evaluator, opts Options) *Coordinator {
	if eval == nil {
		eval = entitlement.NewEvaluator(nil)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.OnUnavailable == "" {
		opts.OnUnavailable = entitlement.FailClosed
	}
	return &Coordinator{
		store:  store,
		eval:   eval,
		opts:   opts,
		tracer: otel.Tracer("lovepage-backend/consumption"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Evaluator returns the evaluator used for decisions.
func (c *Coordinator) Evaluator() *entitlement.Evaluator { return c.eval }

type opKeyCtx struct{}

// WithOperationKey attaches a caller-chosen idempotency key to ctx. Calls
// that share a key for the same account and operation commit at most once.
func WithOperationKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, opKeyCtx{}, key)
}

func operationKey(ctx context.Context) string {
	key, _ := ctx.Value(opKeyCtx{}).(string)
	return key
}

// CheckCreate evaluates without consuming.
func (c *Coordinator) CheckCreate(ctx context.Context, sess session.Session) (entitlement.Decision, error) {
	accountID, err := sess.Require(c.now())
	if err != nil {
		return entitlement.Deny(""), err
	}
	acct, err := c.loadAccount(ctx, accountID)
	if err != nil {
		return c.unavailable(ctx, OpCreate, err)
	}
	d, err := c.eval.EvaluateCreate(acct)
	metrics.ObserveDecision(OpCreate, d.Allowed)
	return d, err
}

// CheckEdit evaluates without consuming.
func (c *Coordinator) CheckEdit(ctx context.Context, sess session.Session, itemID string) (entitlement.Decision, error) {
	accountID, err := sess.Require(c.now())
	if err != nil {
		return entitlement.Deny(""), err
	}
	acct, item, err := c.loadItem(ctx, accountID, itemID)
	if err != nil {
		if isStructural(err) {
			return entitlement.Deny(""), err
		}
		return c.unavailable(ctx, OpEdit, err)
	}
	d, err := c.eval.EvaluateEdit(acct, item)
	metrics.ObserveDecision(OpEdit, d.Allowed)
	return d, err
}

// TryConsumeCreate checks and, when allowed, atomically consumes one
// creation. The returned decision carries the new item's id and the
// remaining balance after the increment.
func (c *Coordinator) TryConsumeCreate(ctx context.Context, sess session.Session) (entitlement.Decision, error) {
	accountID, err := sess.Require(c.now())
	if err != nil {
		return entitlement.Deny(""), err
	}
	opID, keyed := c.operationID(ctx, OpCreate, accountID, "")
	itemID := c.newID()

	return c.run(ctx, OpCreate, accountID, keyed, func(ctx context.Context, uncertain bool) (entitlement.Decision, error) {
		acct, err := c.loadAccount(ctx, accountID)
		if err != nil {
			return entitlement.Decision{}, transient(err)
		}
		d, err := c.eval.EvaluateCreate(acct)
		if err != nil {
			return d, backoff.Permanent(err)
		}
		if !d.Allowed && !uncertain {
			return d, nil
		}
		p, _ := c.eval.Plan(acct)
		r, err := c.store.ConsumeCreation(ctx, quota.CreationRequest{
			OpID:      opID,
			AccountID: accountID,
			ItemID:    itemID,
			PlanID:    acct.PlanID,
			Limit:     p.MaxCreations.StoreLimit(),
		})
		if err != nil {
			if !d.Allowed && errors.Is(err, quota.ErrConflict) {
				// Nothing from an earlier attempt committed; the denial stands.
				return d, nil
			}
			return entitlement.Decision{}, c.classify(OpCreate, err)
		}
		return c.committed(OpCreate, p.MaxCreations, r), nil
	})
}

// TryConsumeEdit checks and, when allowed, atomically consumes one edit of itemID.
func (c *Coordinator) TryConsumeEdit(ctx context.Context, sess session.Session, itemID string) (entitlement.Decision, error) {
	accountID, err := sess.Require(c.now())
	if err != nil {
		return entitlement.Deny(""), err
	}
	opID, keyed := c.operationID(ctx, OpEdit, accountID, itemID)

	return c.run(ctx, OpEdit, accountID, keyed, func(ctx context.Context, uncertain bool) (entitlement.Decision, error) {
		acct, item, err := c.loadItem(ctx, accountID, itemID)
		if err != nil {
			if isStructural(err) {
				return entitlement.Deny(""), backoff.Permanent(err)
			}
			return entitlement.Decision{}, transient(err)
		}
		d, err := c.eval.EvaluateEdit(acct, item)
		if err != nil {
			return d, backoff.Permanent(err)
		}
		if !d.Allowed && !uncertain {
			return d, nil
		}
		p, _ := c.eval.Plan(acct)
		r, err := c.store.ConsumeEdit(ctx, quota.EditRequest{
			OpID:      opID,
			AccountID: accountID,
			ItemID:    item.ID,
			PlanID:    acct.PlanID,
			Limit:     p.MaxEditsPerItem.StoreLimit(),
		})
		if err != nil {
			if !d.Allowed && errors.Is(err, quota.ErrConflict) {
				return d, nil
			}
			return entitlement.Decision{}, c.classify(OpEdit, err)
		}
		return c.committed(OpEdit, p.MaxEditsPerItem, r), nil
	})
}

// attemptFunc performs one read-evaluate-increment round. uncertain is true
// when an earlier round (or an earlier request with the same key) may have
// committed, in which case the store is asked even for a denied decision so
// a recorded operation is replayed rather than reported as denied.
type attemptFunc func(ctx context.Context, uncertain bool) (entitlement.Decision, error)

var errConflict = errors.New("conditional increment lost")

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error { return &transientError{err: err} }

func (c *Coordinator) run(ctx context.Context, op, accountID string, keyed bool, attempt attemptFunc) (entitlement.Decision, error) {
	start := time.Now()
	defer metrics.ObserveConsumeDuration(op, start)

	ctx, span := c.tracer.Start(ctx, "consumption."+op, trace.WithAttributes(
		attribute.String("quota.account_id", accountID),
		attribute.String("quota.operation", op),
	))
	defer span.End()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.BaseDelay
	exp.MaxInterval = 20 * c.opts.BaseDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.opts.MaxAttempts-1)), ctx)

	var (
		decision  entitlement.Decision
		attempts  int
		uncertain = keyed
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		d, err := attempt(ctx, uncertain)
		if err == nil {
			decision = d
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		var te *transientError
		if errors.As(err, &te) {
			// A failed write may still have committed.
			uncertain = true
		}
		decision = d
		return err
	}, policy, func(err error, wait time.Duration) {
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempts),
			attribute.String("error", err.Error()),
		))
		telemetry.Warn("consumption.retry", map[string]any{
			"operation":  op,
			"account_id": accountID,
			"attempt":    attempts,
			"wait_ms":    wait.Milliseconds(),
			"error":      err,
		})
	})
	span.SetAttributes(attribute.Int("quota.attempts", attempts))

	if err == nil {
		span.SetAttributes(attribute.Bool("quota.allowed", decision.Allowed))
		metrics.ObserveDecision(op, decision.Allowed)
		return decision, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return entitlement.Deny(""), err
	case errors.Is(err, errConflict):
		telemetry.Warn("consumption.conflict_exhausted", map[string]any{
			"operation":  op,
			"account_id": accountID,
			"attempts":   attempts,
		})
		return entitlement.Deny(""), fmt.Errorf("%w after %d attempts", entitlement.ErrConcurrentConflict, attempts)
	case isTransient(err):
		return c.unavailable(ctx, op, err)
	default:
		// Structural faults keep the decision the evaluator produced.
		return decision, err
	}
}

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// classify maps a store error from the conditional increment onto the retry
// loop's vocabulary.
func (c *Coordinator) classify(op string, err error) error {
	switch {
	case errors.Is(err, quota.ErrConflict), errors.Is(err, quota.ErrNotFound):
		metrics.IncConsumeAttempt(op, "conflict")
		return errConflict
	default:
		metrics.IncConsumeAttempt(op, "error")
		return transient(err)
	}
}

func (c *Coordinator) committed(op string, q plans.Quota, r quota.Receipt) entitlement.Decision {
	result := "committed"
	if r.Replayed {
		result = "replayed"
	}
	metrics.IncConsumeAttempt(op, result)
	return entitlement.After(q, r.Used).WithItem(r.ItemID)
}

// unavailable applies the configured policy once the store cannot answer.
func (c *Coordinator) unavailable(ctx context.Context, op string, cause error) (entitlement.Decision, error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return entitlement.Deny(""), cause
	}
	d, err := c.opts.OnUnavailable.OnUnavailable(cause)
	fields := map[string]any{
		"operation": op,
		"policy":    string(c.opts.OnUnavailable),
		"error":     cause,
	}
	if err == nil {
		metrics.IncFailOpen(op)
		telemetry.Warn("consumption.fail_open", fields)
		trace.SpanFromContext(ctx).AddEvent("fail_open")
		return d, nil
	}
	telemetry.Error("consumption.store_unavailable", fields)
	return d, err
}

// loadAccount reads the account, provisioning it on first use.
func (c *Coordinator) loadAccount(ctx context.Context, accountID string) (quota.Account, error) {
	acct, err := c.store.GetAccount(ctx, accountID)
	if errors.Is(err, quota.ErrNotFound) {
		return c.store.EnsureAccount(ctx, accountID)
	}
	return acct, err
}

// errItemNotFound marks a missing or foreign item; retrying cannot help.
var errItemNotFound = fmt.Errorf("item %w", quota.ErrNotFound)

func (c *Coordinator) loadItem(ctx context.Context, accountID, itemID string) (quota.Account, quota.Item, error) {
	if itemID == "" {
		return quota.Account{}, quota.Item{}, fmt.Errorf("%w: item id is empty", entitlement.ErrInvalidInput)
	}
	acct, err := c.loadAccount(ctx, accountID)
	if err != nil {
		return quota.Account{}, quota.Item{}, err
	}
	item, err := c.store.GetItem(ctx, itemID)
	if errors.Is(err, quota.ErrNotFound) {
		return quota.Account{}, quota.Item{}, errItemNotFound
	}
	if err != nil {
		return quota.Account{}, quota.Item{}, err
	}
	if item.AccountID != accountID {
		// Foreign items are reported as missing so other accounts' ids stay hidden.
		return quota.Account{}, quota.Item{}, errItemNotFound
	}
	return acct, item, nil
}

func isStructural(err error) bool {
	return errors.Is(err, quota.ErrNotFound) ||
		errors.Is(err, entitlement.ErrInvalidInput) ||
		errors.Is(err, entitlement.ErrItemMismatch)
}

// operationID scopes a caller key to the account and, for edits, the item,
// so one key reused on two pages commits two separate edits.
func (c *Coordinator) operationID(ctx context.Context, op, accountID, itemID string) (string, bool) {
	scope := op + ":" + accountID + ":"
	if itemID != "" {
		scope += itemID + ":"
	}
	if key := operationKey(ctx); key != "" {
		return scope + key, true
	}
	return scope + c.newID(), false
}
