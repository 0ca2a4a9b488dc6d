package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bobarin/slnpart/internal/models"
)

const (
	tokensKeyPrefix = "session:tokens:"
	creditKeyPrefix = "session:credit:"

	// settlement ids are remembered well past any session lifetime
	creditDedupTTL = 90 * 24 * time.Hour
)

// seed creates the balance at ARGV[1] on first contact and refreshes the TTL.
const seed = `
local v = redis.call('GET', KEYS[1])
if not v then
	v = ARGV[1]
	redis.call('SET', KEYS[1], v)
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
local balance = tonumber(v)
`

var (
	tokensScript = redis.NewScript(seed + `
return {1, balance}
`)

	debitScript = redis.NewScript(seed + `
local amount = tonumber(ARGV[3])
if amount > balance then
	return {0, balance}
end
return {1, redis.call('DECRBY', KEYS[1], amount)}
`)

	creditScript = redis.NewScript(seed + `
if not redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[4]) then
	return {0, balance}
end
return {1, redis.call('INCRBY', KEYS[1], ARGV[3])}
`)
)

// Store keeps anonymous session balances in Redis. Each balance is seeded to
// the starting value on first contact and expires after ttl of inactivity.
type Store struct {
	client         *redis.Client
	startingTokens int
	ttl            time.Duration
}

func New(redisURL string, startingTokens int, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client, startingTokens: startingTokens, ttl: ttl}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Tokens returns the session balance, seeding it when the session is new.
func (s *Store) Tokens(ctx context.Context, sessionID string) (int, error) {
	res, err := tokensScript.Run(ctx, s.client, []string{tokensKey(sessionID)},
		s.startingTokens, s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read session tokens: %w", err)
	}
	_, balance, err := parseResult(res)
	return balance, err
}

// Debit subtracts amount atomically. On ErrInsufficientFunds the returned
// balance is the unchanged current one.
func (s *Store) Debit(ctx context.Context, sessionID string, amount int) (int, error) {
	res, err := debitScript.Run(ctx, s.client, []string{tokensKey(sessionID)},
		s.startingTokens, s.ttl.Milliseconds(), amount,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to debit session: %w", err)
	}

	applied, balance, err := parseResult(res)
	if err != nil {
		return 0, err
	}
	if !applied {
		return balance, models.ErrInsufficientFunds
	}
	return balance, nil
}

// Credit adds amount once per settlementID.
func (s *Store) Credit(ctx context.Context, sessionID string, amount int, settlementID string) (int, bool, error) {
	res, err := creditScript.Run(ctx, s.client,
		[]string{tokensKey(sessionID), creditKey(settlementID)},
		s.startingTokens, s.ttl.Milliseconds(), amount, creditDedupTTL.Milliseconds(),
	).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to credit session: %w", err)
	}
	applied, balance, err := parseResult(res)
	return balance, applied, err
}

func tokensKey(sessionID string) string {
	return tokensKeyPrefix + sessionID
}

func creditKey(settlementID string) string {
	return creditKeyPrefix + settlementID
}

// parseResult decodes the {applied, balance} pair every script returns.
func parseResult(res interface{}) (bool, int, error) {
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return false, 0, fmt.Errorf("unexpected redis response: %v", res)
	}
	applied, ok1 := pair[0].(int64)
	balance, ok2 := pair[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected redis response: %v", res)
	}
	return applied == 1, int(balance), nil
}
