package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultRedisPrefix = "quota"
	defaultOpTTL       = 24 * time.Hour
)

// Scripts return {status, payload}. status is ok, replay, missing or conflict;
// payload is "<used>|<itemID>".
var consumeCreationScript = redis.NewScript(`
local prior = redis.call('GET', KEYS[2])
if prior then return {'replay', prior} end
if redis.call('EXISTS', KEYS[1]) == 0 then return {'missing', ''} end
if redis.call('HGET', KEYS[1], 'plan') ~= ARGV[1] then return {'conflict', ''} end
local used = tonumber(redis.call('HGET', KEYS[1], 'creations') or '0')
local limit = tonumber(ARGV[2])
if limit >= 0 and used >= limit then return {'conflict', ''} end
used = redis.call('HINCRBY', KEYS[1], 'creations', 1)
redis.call('HSET', KEYS[3], 'account', ARGV[4], 'edits', '0', 'created', ARGV[6])
redis.call('SADD', KEYS[4], ARGV[3])
redis.call('ZADD', KEYS[5], ARGV[6], ARGV[3])
local record = tostring(used) .. '|' .. ARGV[3]
redis.call('SET', KEYS[2], record, 'EX', tonumber(ARGV[5]))
return {'ok', record}
`)

var consumeEditScript = redis.NewScript(`
local prior = redis.call('GET', KEYS[2])
if prior then return {'replay', prior} end
if redis.call('EXISTS', KEYS[3]) == 0 then return {'missing', ''} end
if redis.call('HGET', KEYS[3], 'account') ~= ARGV[3] then return {'missing', ''} end
if redis.call('HGET', KEYS[1], 'plan') ~= ARGV[1] then return {'conflict', ''} end
local used = tonumber(redis.call('HGET', KEYS[3], 'edits') or '0')
local limit = tonumber(ARGV[2])
if limit >= 0 and used >= limit then return {'conflict', ''} end
used = redis.call('HINCRBY', KEYS[3], 'edits', 1)
local record = tostring(used) .. '|' .. ARGV[4]
redis.call('SET', KEYS[2], record, 'EX', tonumber(ARGV[5]))
return {'ok', record}
`)

var resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'creations', '0')
local items = redis.call('SMEMBERS', KEYS[2])
for _, id in ipairs(items) do
  local key = ARGV[1] .. ':item:' .. id
  if redis.call('EXISTS', key) == 1 then redis.call('HSET', key, 'edits', '0') end
end
return 1
`)

var setPlanScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'plan', ARGV[1], 'credits', ARGV[2])
return 1
`)

// RedisStore keeps counters in Redis hashes. Conditional increments run as
// Lua scripts, which Redis executes atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
	opTTL  time.Duration
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed quota store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		opTTL:  defaultOpTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) accountKey(id string) string { return s.prefix + ":acct:" + id }
func (s *RedisStore) itemsKey(id string) string   { return s.prefix + ":acct:" + id + ":items" }
func (s *RedisStore) itemKey(id string) string    { return s.prefix + ":item:" + id }
func (s *RedisStore) opKey(id string) string      { return s.prefix + ":op:" + id }

// Sorted sets of every account and item id, scored by creation time.
func (s *RedisStore) accountIndexKey() string { return s.prefix + ":index:accounts" }
func (s *RedisStore) itemIndexKey() string    { return s.prefix + ":index:items" }

func (s *RedisStore) EnsureAccount(ctx context.Context, accountID string) (Account, error) {
	key := s.accountKey(accountID)
	now := s.now()
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "plan", DefaultPlanID)
	pipe.HSetNX(ctx, key, "creations", 0)
	pipe.HSetNX(ctx, key, "credits", 0)
	pipe.HSetNX(ctx, key, "created", now.Unix())
	pipe.ZAddNX(ctx, s.accountIndexKey(), &redis.Z{Score: float64(now.Unix()), Member: accountID})
	if _, err := pipe.Exec(ctx); err != nil {
		return Account{}, fmt.Errorf("ensure account: %w", err)
	}
	return s.GetAccount(ctx, accountID)
}

func (s *RedisStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return Account{}, err
	}
	if len(fields) == 0 {
		return Account{}, ErrNotFound
	}
	return Account{
		ID:            accountID,
		PlanID:        fields["plan"],
		CreationsUsed: atoi(fields["creations"]),
		Credits:       atoi(fields["credits"]),
		CreatedAt:     unixTime(fields["created"]),
	}, nil
}

func (s *RedisStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(itemID)).Result()
	if err != nil {
		return Item{}, err
	}
	if len(fields) == 0 {
		return Item{}, ErrNotFound
	}
	return Item{
		ID:        itemID,
		AccountID: fields["account"],
		EditsUsed: atoi(fields["edits"]),
		CreatedAt: unixTime(fields["created"]),
	}, nil
}

func (s *RedisStore) ListItems(ctx context.Context, accountID string) ([]Item, error) {
	ids, err := s.client.SMembers(ctx, s.itemsKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		it, err := s.GetItem(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RedisStore) ConsumeCreation(ctx context.Context, req CreationRequest) (Receipt, error) {
	keys := []string{
		s.accountKey(req.AccountID),
		s.opKey(req.OpID),
		s.itemKey(req.ItemID),
		s.itemsKey(req.AccountID),
		s.itemIndexKey(),
	}
	res, err := consumeCreationScript.Run(ctx, s.client, keys,
		req.PlanID, req.Limit, req.ItemID, req.AccountID, int(s.opTTL.Seconds()), s.now().Unix()).Result()
	if err != nil {
		return Receipt{}, fmt.Errorf("consume creation: %w", err)
	}
	return decodeScriptResult(res, req.OpID, req.AccountID)
}

func (s *RedisStore) ConsumeEdit(ctx context.Context, req EditRequest) (Receipt, error) {
	keys := []string{
		s.accountKey(req.AccountID),
		s.opKey(req.OpID),
		s.itemKey(req.ItemID),
	}
	res, err := consumeEditScript.Run(ctx, s.client, keys,
		req.PlanID, req.Limit, req.AccountID, req.ItemID, int(s.opTTL.Seconds())).Result()
	if err != nil {
		return Receipt{}, fmt.Errorf("consume edit: %w", err)
	}
	return decodeScriptResult(res, req.OpID, req.AccountID)
}

func (s *RedisStore) SetPlan(ctx context.Context, accountID, planID string, credits int) (Account, error) {
	n, err := setPlanScript.Run(ctx, s.client, []string{s.accountKey(accountID)}, planID, credits).Int()
	if err != nil {
		return Account{}, fmt.Errorf("set plan: %w", err)
	}
	if n == 0 {
		return Account{}, ErrNotFound
	}
	return s.GetAccount(ctx, accountID)
}

func (s *RedisStore) Reset(ctx context.Context, accountID string) (Account, error) {
	n, err := resetScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.itemsKey(accountID)}, s.prefix).Int()
	if err != nil {
		return Account{}, fmt.Errorf("reset account: %w", err)
	}
	if n == 0 {
		return Account{}, ErrNotFound
	}
	return s.GetAccount(ctx, accountID)
}

func (s *RedisStore) DeleteItem(ctx context.Context, itemID string) error {
	it, err := s.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.itemKey(itemID))
	pipe.SRem(ctx, s.itemsKey(it.AccountID), itemID)
	pipe.ZRem(ctx, s.itemIndexKey(), itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *RedisStore) newestIDs(ctx context.Context, key string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	return s.client.ZRevRange(ctx, key, 0, stop).Result()
}

func (s *RedisStore) ListAccounts(ctx context.Context, limit int) ([]Account, error) {
	ids, err := s.newestIDs(ctx, s.accountIndexKey(), limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAccount(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) RecentItems(ctx context.Context, limit int) ([]Item, error) {
	ids, err := s.newestIDs(ctx, s.itemIndexKey(), limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		it, err := s.GetItem(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	items, err := s.client.ZCard(ctx, s.itemIndexKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("item stats: %w", err)
	}
	accounts, err := s.ListAccounts(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Accounts: len(accounts), Items: int(items), ByPlan: map[string]int{}}
	for _, a := range accounts {
		st.CreationsUsed += a.CreationsUsed
		st.ByPlan[a.PlanID]++
	}
	return st, nil
}

// PruneOperations is a no-op: operation records expire on their own after
// opTTL.
func (s *RedisStore) PruneOperations(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func decodeScriptResult(res any, opID, accountID string) (Receipt, error) {
	parts, ok := res.([]any)
	if !ok || len(parts) != 2 {
		return Receipt{}, fmt.Errorf("unexpected script result %T", res)
	}
	status, _ := parts[0].(string)
	payload, _ := parts[1].(string)
	switch status {
	case "missing":
		return Receipt{}, ErrNotFound
	case "conflict":
		return Receipt{}, ErrConflict
	case "ok", "replay":
	default:
		return Receipt{}, fmt.Errorf("unexpected script status %q", status)
	}
	usedRaw, itemID, found := strings.Cut(payload, "|")
	if !found {
		return Receipt{}, fmt.Errorf("malformed operation record %q", payload)
	}
	used, err := strconv.Atoi(usedRaw)
	if err != nil {
		return Receipt{}, fmt.Errorf("malformed operation record %q", payload)
	}
	return Receipt{
		OpID:      opID,
		AccountID: accountID,
		ItemID:    itemID,
		Used:      used,
		Replayed:  status == "replay",
	}, nil
}

func atoi(raw string) int {
	n, _ := strconv.Atoi(raw)
	return n
}

func unixTime(raw string) time.Time {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

var _ Store = (*RedisStore)(nil)
