package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iplinks/iplinks-go/internal/model"
)

const pairingKeyPrefix = "pairing:session:"

// advanceScript applies a status transition in place, keeping the key's TTL.
var advanceScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
    return false
end

local session = cjson.decode(raw)
local rank = {waiting = 0, connected = 1, credentials_received = 2}
local current = rank[session.status] or 0
local nextRank = rank[ARGV[1]] or 0
if nextRank >= current then
    session.status = ARGV[1]
end

if ARGV[2] ~= '' then
    session.credentials = cjson.decode(ARGV[2])
end

local updated = cjson.encode(session)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return updated
`)

type redisPairingRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPairingSessionRepository stores each session under its own key with
// a TTL, so Redis expires sessions without a sweep.
func NewRedisPairingSessionRepository(client *redis.Client, ttl time.Duration) PairingSessionRepository {
	return &redisPairingRepo{client: client, ttl: ttl}
}

func PairingKey(code string) string {
	return pairingKeyPrefix + code
}

func (r *redisPairingRepo) Insert(ctx context.Context, params model.CreatePairingSessionParams, cutoff time.Time) (*model.PairingSession, bool, error) {
	session := &model.PairingSession{
		Code:      params.Code,
		Status:    model.PairingStatusWaiting,
		CreatedAt: params.CreatedAt,
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, false, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, PairingKey(params.Code), data, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return session, true, nil
}

func (r *redisPairingRepo) FindByCode(ctx context.Context, code string, cutoff time.Time) (*model.PairingSession, error) {
	raw, err := r.client.Get(ctx, PairingKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return decodeLiveSession(raw, cutoff)
}

func (r *redisPairingRepo) UpdateStatus(ctx context.Context, code string, status model.PairingStatus, creds *model.Credentials, cutoff time.Time) (*model.PairingSession, error) {
	var credsArg string
	if creds != nil {
		data, err := json.Marshal(creds)
		if err != nil {
			return nil, fmt.Errorf("marshal credentials: %w", err)
		}
		credsArg = string(data)
	}

	raw, err := advanceScript.Run(ctx, r.client, []string{PairingKey(code)}, string(status), credsArg).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	return decodeLiveSession([]byte(raw), cutoff)
}

// DeleteExpired is a no-op: every key carries the session TTL.
func (r *redisPairingRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *redisPairingRepo) Count(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, pairingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	return count, nil
}

func decodeLiveSession(raw []byte, cutoff time.Time) (*model.PairingSession, error) {
	var session model.PairingSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !isLive(&session, cutoff) {
		return nil, nil
	}
	return &session, nil
}
