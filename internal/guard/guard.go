package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/session"
	"lovepage-backend/internal/shared/telemetry"
)

// Channel is the privileged mutation channel as seen by the UI.
type Channel interface {
	CheckCreate(ctx context.Context, sess session.Session) (entitlement.Decision, error)
	ConsumeCreate(ctx context.Context, sess session.Session, idempotencyKey string) (entitlement.Decision, error)
	CheckEdit(ctx context.Context, sess session.Session, itemID string) (entitlement.Decision, error)
	ConsumeEdit(ctx context.Context, sess session.Session, itemID, idempotencyKey string) (entitlement.Decision, error)
}

// Guard gates create and edit actions for one signed-in user. Checks are
// served from the cache when fresh and coalesced when concurrent; consumes
// always go to the channel and invalidate the affected entry.
type Guard struct {
	channel Channel
	cache   *Cache
	group   singleflight.Group
	now     func() time.Time

	mu   sync.RWMutex
	sess session.Session
}

// New constructs a Guard with a signed-out session.
func New(channel Channel, cache *Cache) *Guard {
	if cache == nil {
		cache = NewCache(DefaultCacheSize, DefaultCacheTTL)
	}
	return &Guard{
		channel: channel,
		cache:   cache,
		now:     time.Now,
		sess:    session.Anonymous(),
	}
}

// SignIn installs sess. Switching accounts drops cached decisions.
func (g *Guard) SignIn(sess session.Session) {
	g.mu.Lock()
	prev := g.sess
	g.sess = sess
	g.mu.Unlock()
	if prev.AccountID != sess.AccountID {
		g.cache.Purge()
	}
}

// SignOut clears the session and every cached decision.
func (g *Guard) SignOut() {
	g.mu.Lock()
	g.sess = session.Anonymous()
	g.mu.Unlock()
	g.cache.Purge()
}

// Session returns the current session, marking it expired when due.
func (g *Guard) Session() session.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.sess.Current(g.now())
	if cur.State == session.Expired && g.sess.State != session.Expired {
		g.sess = cur
		g.cache.Purge()
		telemetry.Info("guard.session_expired", map[string]any{"account_id": cur.AccountID})
	}
	return cur
}

// CanCreate reports whether a new page may be created.
func (g *Guard) CanCreate(ctx context.Context) (entitlement.Decision, error) {
	sess := g.Session()
	if _, err := sess.Require(g.now()); err != nil {
		return entitlement.Deny(""), err
	}
	return g.check(ctx, CreateKey(sess.AccountID), func(ctx context.Context) (entitlement.Decision, error) {
		return g.channel.CheckCreate(ctx, sess)
	})
}

// CanEdit reports whether itemID may be edited once more.
func (g *Guard) CanEdit(ctx context.Context, itemID string) (entitlement.Decision, error) {
	sess := g.Session()
	if _, err := sess.Require(g.now()); err != nil {
		return entitlement.Deny(""), err
	}
	return g.check(ctx, EditKey(sess.AccountID, itemID), func(ctx context.Context) (entitlement.Decision, error) {
		return g.channel.CheckEdit(ctx, sess, itemID)
	})
}

// Create consumes one creation. idempotencyKey should be stable across
// retries of the same user action.
func (g *Guard) Create(ctx context.Context, idempotencyKey string) (entitlement.Decision, error) {
	sess := g.Session()
	if _, err := sess.Require(g.now()); err != nil {
		return entitlement.Deny(""), err
	}
	d, err := g.channel.ConsumeCreate(ctx, sess, idempotencyKey)
	if err == nil {
		g.invalidate(CreateKey(sess.AccountID))
	}
	return d, err
}

// Edit consumes one edit of itemID.
func (g *Guard) Edit(ctx context.Context, itemID, idempotencyKey string) (entitlement.Decision, error) {
	sess := g.Session()
	if _, err := sess.Require(g.now()); err != nil {
		return entitlement.Deny(""), err
	}
	d, err := g.channel.ConsumeEdit(ctx, sess, itemID, idempotencyKey)
	if err == nil {
		g.invalidate(EditKey(sess.AccountID, itemID))
	}
	return d, err
}

// Refresh drops the signed-in account's cached decisions.
func (g *Guard) Refresh() {
	if sess := g.Session(); sess.AccountID != "" {
		g.cache.InvalidateAccount(sess.AccountID)
	}
}

// invalidate drops key and detaches any in-flight check for it, so later
// checks fetch fresh state instead of joining a pre-consume read.
func (g *Guard) invalidate(key string) {
	g.cache.Invalidate(key)
	g.group.Forget(key)
}

func (g *Guard) check(ctx context.Context, key string, fetch func(context.Context) (entitlement.Decision, error)) (entitlement.Decision, error) {
	if d, ok := g.cache.Get(key); ok {
		return d, nil
	}
	v, err, _ := g.group.Do(key, func() (any, error) {
		gen := g.cache.Generation()
		d, err := fetch(ctx)
		if err != nil {
			return d, err
		}
		// Policy grants are not authoritative and are not cached.
		if d.Reason != entitlement.ReasonAllowedByPolicy {
			g.cache.PutIfCurrent(key, d, gen)
		}
		return d, nil
	})
	d, _ := v.(entitlement.Decision)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotAuthenticated) {
			g.SignOut()
		}
		return entitlement.Deny(""), err
	}
	return d, nil
}
