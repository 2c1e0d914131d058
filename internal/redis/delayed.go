package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDelayedKey is the sorted set holding delayed reminder messages.
const DefaultDelayedKey = "reminders:delayed"

// DelayedQueue stores JSON payloads keyed by id. A sorted set scores the ids by
// due time (unix ms) and a companion hash holds the bodies.
type DelayedQueue struct {
	client *redis.Client
	key    string
}

func NewDelayedQueue(client *redis.Client, key string) *DelayedQueue {
	if key == "" {
		key = DefaultDelayedKey
	}
	return &DelayedQueue{client: client, key: key}
}

// Schedule stores payload under id, due at due. Scheduling an id that is already
// queued replaces its payload and due time.
func (q *DelayedQueue) Schedule(ctx context.Context, id string, payload any, due time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal delayed message: %w", err)
	}

	if err := q.put(ctx, []DelayedMessage{{ID: id, Payload: data}}, due); err != nil {
		return fmt.Errorf("schedule delayed message: %w", err)
	}
	return nil
}

// Cancel drops the message queued under id. Unknown ids are ignored.
func (q *DelayedQueue) Cancel(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key, id)
		p.HDel(ctx, q.payloadKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel delayed message %s: %w", id, err)
	}
	return nil
}

func (q *DelayedQueue) put(ctx context.Context, msgs []DelayedMessage, due time.Time) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range msgs {
			p.HSet(ctx, q.payloadKey(), m.ID, string(m.Payload))
			p.ZAdd(ctx, q.key, redis.Z{Score: float64(due.UnixMilli()), Member: m.ID})
		}
		return nil
	})
	return err
}

// payloadKey is the hash holding message bodies; the sorted set holds only ids.
func (q *DelayedQueue) payloadKey() string {
	return q.key + ":payloads"
}

// DelayedMessage is one popped entry.
type DelayedMessage struct {
	ID      string
	Payload []byte
}

// popDueScript removes and returns up to ARGV[2] id/payload pairs due at or
// before ARGV[1]. Running it as one script keeps two drainers from taking the
// same message.
var popDueScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  local body = redis.call("HGET", KEYS[2], id)
  redis.call("ZREM", KEYS[1], id)
  redis.call("HDEL", KEYS[2], id)
  if body then
    table.insert(out, id)
    table.insert(out, body)
  end
end
return out
`)

// PopDue removes and returns messages whose due time is not after now.
func (q *DelayedQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]DelayedMessage, error) {
	res, err := popDueScript.Run(ctx, q.client, []string{q.key, q.payloadKey()},
		strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop due messages: %w", err)
	}

	out := make([]DelayedMessage, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		out = append(out, DelayedMessage{ID: res[i], Payload: []byte(res[i+1])})
	}
	return out, nil
}

// Publisher is the sending half of EventBus.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// DrainDue forwards due messages to channel and returns how many it forwarded.
// On a publish failure every message not yet forwarded is put back as due now
// and the error is returned.
func (q *DelayedQueue) DrainDue(ctx context.Context, bus Publisher, channel string, now time.Time) (int, error) {
	msgs, err := q.PopDue(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	for i, m := range msgs {
		if err := bus.Publish(ctx, channel, json.RawMessage(m.Payload)); err != nil {
			if perr := q.put(ctx, msgs[i:], now); perr != nil {
				return i, fmt.Errorf("forward delayed message %s: %w (requeue failed: %v)", m.ID, err, perr)
			}
			return i, fmt.Errorf("forward delayed message %s: %w", m.ID, err)
		}
	}
	return len(msgs), nil
}

func (q *DelayedQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
