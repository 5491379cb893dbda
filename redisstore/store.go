// Package redisstore keeps state tokens in redis. A token lives under its
// own key with a TTL, and a set per email tracks the states to delete
// when one of them is redeemed.
package redisstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "authstate:"
	// DefaultExpiredRetention keeps expired tokens around long enough to
	// report them as expired rather than unknown.
	DefaultExpiredRetention = time.Hour
)

const (
	redeemMissing int64 = iota
	redeemExpired
	redeemClaimed
)

// KEYS[1] token key, KEYS[2] email set key
// ARGV[1] token json, ARGV[2] ttl ms
var createScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], KEYS[1])
local current = redis.call('PTTL', KEYS[2])
if current < tonumber(ARGV[2]) then
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`)

// KEYS[1] token key
// ARGV[1] now ms, ARGV[2] email set key prefix
var redeemScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return {0, ''}
end
local tok = cjson.decode(raw)
if tonumber(tok['expires_at_ms']) <= tonumber(ARGV[1]) then
	return {1, ''}
end
local set = ARGV[2] .. tok['email']
local members = redis.call('SMEMBERS', set)
for _, key in ipairs(members) do
	redis.call('DEL', key)
end
redis.call('DEL', KEYS[1])
redis.call('DEL', set)
return {2, raw}
`)

// KEYS[1] token key
// ARGV[1] updated token json
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
return 1
`)

type record struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Email         string `json:"email"`
	IsJoin        bool   `json:"is_join"`
	PendingSecret string `json:"pending_secret,omitempty"`
	ExpiresAtMs   int64  `json:"expires_at_ms"`
	SentAtMs      int64  `json:"sent_at_ms,omitempty"`
	IssuedResult  string `json:"issued_result,omitempty"`
	CreatedAtMs   int64  `json:"created_at_ms"`
}

func toRecord(t *auth.StateToken) record {
	r := record{
		ID:            t.ID.String(),
		State:         t.State,
		Email:         t.Email,
		IsJoin:        t.IsJoin,
		PendingSecret: t.PendingSecret,
		ExpiresAtMs:   t.ExpiresAt.UnixMilli(),
		IssuedResult:  t.IssuedResult,
		CreatedAtMs:   t.CreatedAt.UnixMilli(),
	}
	if t.SentAt != nil {
		r.SentAtMs = t.SentAt.UnixMilli()
	}
	return r
}

func (r record) token() *auth.StateToken {
	id, _ := uuid.Parse(r.ID)
	t := &auth.StateToken{
		ID:            id,
		State:         r.State,
		Email:         r.Email,
		IsJoin:        r.IsJoin,
		PendingSecret: r.PendingSecret,
		ExpiresAt:     time.UnixMilli(r.ExpiresAtMs),
		IssuedResult:  r.IssuedResult,
		CreatedAt:     time.UnixMilli(r.CreatedAtMs),
	}
	if r.SentAtMs > 0 {
		sent := time.UnixMilli(r.SentAtMs)
		t.SentAt = &sent
	}
	return t
}

// Store implements auth.StateTokenStore on redis.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithExpiredRetention(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    DefaultPrefix,
		retention: DefaultExpiredRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewFromURL parses a redis URL and pings the server.
func NewFromURL(ctx context.Context, redisURL string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse redis URL")
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to connect to redis")
	}
	return New(client, opts...), nil
}

func (s *Store) tokenKey(state string) string {
	return s.prefix + "token:" + state
}

func (s *Store) emailPrefix() string {
	return s.prefix + "email:"
}

func (s *Store) emailKey(email string) string {
	return s.emailPrefix() + email
}

func (s *Store) Create(ctx context.Context, token *auth.StateToken) error {
	if token == nil || token.State == "" || token.Email == "" {
		return errors.New("state token requires state and email", errors.CategoryBadInput)
	}

	ttl := token.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("state token expires_at must be in the future", errors.CategoryBadInput)
	}
	ttl += s.retention

	data, err := json.Marshal(toRecord(token))
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode state token")
	}

	keys := []string{s.tokenKey(token.State), s.emailKey(token.Email)}
	if err := createScript.Run(ctx, s.client, keys, data, ttl.Milliseconds()).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to store state token")
	}
	return nil
}

// RecordDelivery is a no-op for tokens already redeemed or evicted.
func (s *Store) RecordDelivery(ctx context.Context, state string, sentAt *time.Time, result string) error {
	key := s.tokenKey(state)
	raw, err := s.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to load state token")
	}

	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to decode state token")
	}
	if sentAt != nil {
		r.SentAtMs = sentAt.UnixMilli()
	}
	r.IssuedResult = result

	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode state token")
	}

	if err := updateScript.Run(ctx, s.client, []string{key}, data).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to update state token")
	}
	return nil
}

// Redeem runs as a single script, so concurrent calls for one state
// yield exactly one token.
func (s *Store) Redeem(ctx context.Context, state string, now time.Time) (*auth.StateToken, error) {
	res, err := redeemScript.Run(ctx, s.client, []string{s.tokenKey(state)}, now.UnixMilli(), s.emailPrefix()).Slice()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to redeem state token")
	}
	if len(res) != 2 {
		return nil, errors.New(fmt.Sprintf("unexpected redeem reply of length %d", len(res)), errors.CategoryInternal)
	}

	status, _ := res[0].(int64)
	switch status {
	case redeemMissing:
		return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenNotFound)
	case redeemExpired:
		return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenExpired)
	}

	raw, _ := res[1].(string)
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to decode state token")
	}
	return r.token(), nil
}

// Peek reads the token without consuming it.
func (s *Store) Peek(ctx context.Context, state string, now time.Time) (*auth.StateToken, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(state)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load state token")
	}

	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to decode state token")
	}
	token := r.token()
	if token.Expired(now) {
		return nil, auth.TokenInvalidOrExpired(auth.ReasonTokenExpired)
	}
	return token, nil
}

func (s *Store) DeleteByEmail(ctx context.Context, email string) (int, error) {
	setKey := s.emailKey(email)
	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to list state tokens")
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, members...)
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to delete state tokens")
	}
	return int(del.Val()), nil
}

var _ auth.StateTokenStore = (*Store)(nil)
