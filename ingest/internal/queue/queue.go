// Package queue is the durable hand-off between webhook receipt and
// processing. Every accepted delivery is stored in Redis before any
// processing starts, so a crash leaves its job id in the pending list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/convohook/convohook/ingest/internal/models"
)

// DefaultPrefix namespaces the queue keys.
const DefaultPrefix = "convohook:webhooks"

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrDeadLetterNotFound = errors.New("dead-letter entry not found")
	ErrInvalidJob         = errors.New("invalid job envelope")
)

// Stats is a point-in-time view of the queue sizes.
type Stats struct {
	Pending     int64 `json:"pending"`
	Jobs        int64 `json:"jobs"`
	DeadLetters int64 `json:"dead_letters"`
}

// Queue stores job envelopes in three Redis keys: a pending list of job ids,
// a job map from id to envelope, and a dead-letter map from id to the
// failed envelope.
type Queue struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	// beforeMove runs between reading a dead-letter and moving it.
	beforeMove func(jobID string)

	mu        sync.Mutex
	connected bool
}

// New creates a Queue on an existing client. The client is shared for the
// process lifetime and closed by the caller.
func New(client *redis.Client, prefix string) *Queue {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (q *Queue) PendingKey() string    { return q.prefix + ":pending" }
func (q *Queue) JobsKey() string       { return q.prefix + ":jobs" }
func (q *Queue) DeadLetterKey() string { return q.prefix + ":deadletter" }

// ready checks connectivity on first use. A failed check is retried on the
// next call.
func (q *Queue) ready(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.connected {
		return nil
	}
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	q.connected = true
	return nil
}

// Ping reports whether Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue stores env in the job map and then appends its id to the pending
// list, atomically.
func (q *Queue) Enqueue(ctx context.Context, env *models.JobEnvelope) error {
	if env == nil || env.JobID == "" {
		return ErrInvalidJob
	}
	if err := q.ready(ctx); err != nil {
		return err
	}

	data, err := SafeMarshal(env)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", env.JobID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.JobsKey(), env.JobID, data)
		pipe.RPush(ctx, q.PendingKey(), env.JobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", env.JobID, err)
	}
	return nil
}

// Ack removes a finished job from the pending list and the job map.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	if err := q.ready(ctx); err != nil {
		return err
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		q.remove(ctx, pipe, jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}

func (q *Queue) remove(ctx context.Context, pipe redis.Pipeliner, jobID string) {
	pipe.LRem(ctx, q.PendingKey(), 0, jobID)
	pipe.HDel(ctx, q.JobsKey(), jobID)
}

// DeadLetter records env with its failure and then removes it from the
// pending list and job map. replays carries over the number of earlier
// replay attempts.
func (q *Queue) DeadLetter(ctx context.Context, env *models.JobEnvelope, failure models.FailureInfo, replays int) (*models.DeadLetterEntry, error) {
	if env == nil || env.JobID == "" {
		return nil, ErrInvalidJob
	}
	if err := q.ready(ctx); err != nil {
		return nil, err
	}

	entry := &models.DeadLetterEntry{
		JobEnvelope: *env,
		Error:       failure,
		FailedAt:    q.now().UTC(),
		Replays:     replays,
	}
	data, err := SafeMarshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode dead-letter %s: %w", env.JobID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.DeadLetterKey(), env.JobID, data)
		q.remove(ctx, pipe, env.JobID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dead-letter job %s: %w", env.JobID, err)
	}
	return entry, nil
}

// Job returns a stored envelope by id.
func (q *Queue) Job(ctx context.Context, jobID string) (*models.JobEnvelope, error) {
	data, err := q.client.HGet(ctx, q.JobsKey(), jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	var env models.JobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &env, nil
}

// Pending lists envelopes still awaiting ack, oldest first. limit <= 0
// returns all. Ids whose envelope is missing are returned with only JobID
// set so operators can see the inconsistency.
func (q *Queue) Pending(ctx context.Context, limit int) ([]models.JobEnvelope, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := q.client.LRange(ctx, q.PendingKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	if len(ids) == 0 {
		return []models.JobEnvelope{}, nil
	}

	values, err := q.client.HMGet(ctx, q.JobsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending jobs: %w", err)
	}

	jobs := make([]models.JobEnvelope, 0, len(ids))
	for i, id := range ids {
		s, ok := values[i].(string)
		if !ok {
			jobs = append(jobs, models.JobEnvelope{JobID: id})
			continue
		}
		var env models.JobEnvelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		jobs = append(jobs, env)
	}
	return jobs, nil
}

// DeadLetterEntry returns one dead-lettered envelope.
func (q *Queue) DeadLetterEntry(ctx context.Context, jobID string) (*models.DeadLetterEntry, error) {
	data, err := q.client.HGet(ctx, q.DeadLetterKey(), jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead-letter %s: %w", jobID, err)
	}

	var entry models.DeadLetterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode dead-letter %s: %w", jobID, err)
	}
	return &entry, nil
}

// DeadLetters lists dead-lettered envelopes, most recent failure first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	raw, err := q.client.HGetAll(ctx, q.DeadLetterKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead-letters: %w", err)
	}

	entries := make([]models.DeadLetterEntry, 0, len(raw))
	for id, data := range raw {
		var entry models.DeadLetterEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("decode dead-letter %s: %w", id, err)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FailedAt.Equal(entries[j].FailedAt) {
			return entries[i].JobID > entries[j].JobID
		}
		return entries[i].FailedAt.After(entries[j].FailedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// replayDeadLetter moves a dead-letter record back to the job map and
// pending list only if it still holds the value the caller read. Returns 1
// when moved, 0 when the record is gone and -1 when it changed.
var replayDeadLetter = redis.NewScript(`
	local current = redis.call('HGET', KEYS[1], ARGV[1])
	if not current then
		return 0
	end
	if current ~= ARGV[2] then
		return -1
	end
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
	redis.call('RPUSH', KEYS[3], ARGV[1])
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 1
`)

const replayAttempts = 3

// Replay moves a dead-lettered envelope back into the job map and pending
// list and deletes its dead-letter record. The move is atomic, so of two
// concurrent replays or a replay racing a purge only one wins. The returned
// entry still carries the failure that put it there.
func (q *Queue) Replay(ctx context.Context, jobID string) (*models.DeadLetterEntry, error) {
	for attempt := 0; attempt < replayAttempts; attempt++ {
		raw, err := q.client.HGet(ctx, q.DeadLetterKey(), jobID).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrDeadLetterNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get dead-letter %s: %w", jobID, err)
		}

		var entry models.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode dead-letter %s: %w", jobID, err)
		}
		data, err := SafeMarshal(&entry.JobEnvelope)
		if err != nil {
			return nil, fmt.Errorf("encode job %s: %w", jobID, err)
		}

		if q.beforeMove != nil {
			q.beforeMove(jobID)
		}

		moved, err := replayDeadLetter.Run(ctx, q.client,
			[]string{q.DeadLetterKey(), q.JobsKey(), q.PendingKey()},
			jobID, raw, data,
		).Int()
		if err != nil {
			return nil, fmt.Errorf("replay job %s: %w", jobID, err)
		}
		switch moved {
		case 1:
			return &entry, nil
		case 0:
			return nil, ErrDeadLetterNotFound
		}
	}
	return nil, fmt.Errorf("replay job %s: dead-letter kept changing", jobID)
}

// PurgeDeadLetter deletes a dead-letter record for good.
func (q *Queue) PurgeDeadLetter(ctx context.Context, jobID string) error {
	n, err := q.client.HDel(ctx, q.DeadLetterKey(), jobID).Result()
	if err != nil {
		return fmt.Errorf("purge dead-letter %s: %w", jobID, err)
	}
	if n == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

// Stats returns the current sizes of the three keys.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.PendingKey())
	jobs := pipe.HLen(ctx, q.JobsKey())
	dead := pipe.HLen(ctx, q.DeadLetterKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &Stats{
		Pending:     pending.Val(),
		Jobs:        jobs.Val(),
		DeadLetters: dead.Val(),
	}, nil
}
