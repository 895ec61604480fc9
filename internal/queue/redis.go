package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"campusflow/internal/logging"
)

// dedupeTTL bounds how long a job id stays claimed if a worker dies mid-job.
const dedupeTTL = 24 * time.Hour

// RedisQueue implements a Redis list-backed queue with a delayed set for retries
// and a dead list for exhausted jobs.
type RedisQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration
	now    func() time.Time
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "campus:registrations"
	}
	return &RedisQueue{client: client, key: key, poll: time.Second, now: func() time.Time { return time.Now().UTC() }}
}

func (q *RedisQueue) delayedKey() string { return q.key + ":delayed" }

func (q *RedisQueue) deadKey() string { return q.key + ":dead" }

func (q *RedisQueue) jobKey(id string) string { return q.key + ":job:" + id }

// Publish enqueues a message. A message with an id claims it with SET NX first.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) (bool, error) {
	msg = withDefaults(msg, q.now())
	if msg.ID != "" {
		ok, err := q.client.SetNX(ctx, q.jobKey(msg.ID), msg.EnqueuedAt.Unix(), dedupeTTL).Result()
		if err != nil {
			return false, fmt.Errorf("claim job id: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	raw, err := serialize(msg)
	if err != nil {
		return false, err
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		if msg.ID != "" {
			q.client.Del(ctx, q.jobKey(msg.ID))
		}
		return false, fmt.Errorf("enqueue: %w", err)
	}
	return true, nil
}

// Consume streams messages using BRPOP, promoting due retries before each pop.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := q.promote(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("queue", q.key).Msg("failed to promote delayed jobs")
			}
			res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				logging.Warn().Err(err).Str("queue", q.key).Msg("queue pop failed")
				time.Sleep(q.poll)
				continue
			}
			if len(res) != 2 {
				continue
			}
			msg, err := deserialize(res[1])
			if err != nil {
				logging.Error().Err(err).Str("queue", q.key).Msg("dropping malformed job")
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				q.client.RPush(context.WithoutCancel(ctx), q.key, res[1])
				return
			}
		}
	}()
	return out, nil
}

// promote moves due delayed jobs back onto the ready list. ZREM decides ownership
// when several consumers race for the same entry.
func (q *RedisQueue) promote(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		n, err := q.client.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Complete releases the message ID.
func (q *RedisQueue) Complete(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return nil
	}
	return q.client.Del(ctx, q.jobKey(msg.ID)).Err()
}

// Fail schedules a retry on the delayed set or pushes the message to the dead list.
func (q *RedisQueue) Fail(ctx context.Context, msg Message, cause error) (bool, error) {
	msg, dead := recordFailure(msg, cause)
	raw, err := serialize(msg)
	if err != nil {
		return dead, err
	}
	if dead {
		pipe := q.client.TxPipeline()
		pipe.LPush(ctx, q.deadKey(), raw)
		if msg.ID != "" {
			pipe.Del(ctx, q.jobKey(msg.ID))
		}
		_, err := pipe.Exec(ctx)
		return true, err
	}
	at := q.now().Add(RetryDelay(msg.Backoff, msg.Attempts))
	return false, q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(at.UnixMilli()), Member: raw}).Err()
}

// Dead lists dead-lettered messages, oldest first.
func (q *RedisQueue) Dead(ctx context.Context) ([]Message, error) {
	raws, err := q.client.LRange(ctx, q.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		msg, err := deserialize(raws[i])
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func serialize(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

func deserialize(s string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		return Message{}, fmt.Errorf("decode job: %w", err)
	}
	return msg, nil
}
