package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config tunes a RedisQueue. Zero fields take the default tag.
type Config struct {
	KeyPrefix    string        `default:"tradeloop:queue"`
	Workers      int           `default:"1"`
	RetryLimit   int           `default:"3"`
	RetryDelay   time.Duration `default:"10s"`
	PollTimeout  time.Duration `default:"1s"`
	PromoteEvery time.Duration `default:"1s"`
}

// RedisQueue is an at-least-once job queue on Redis lists. A message moves
// from the ready list to the in-flight list while a worker runs it; failed
// messages wait in a sorted set until their retry time, then go back to
// ready or, past the retry limit, to the dead list.
type RedisQueue struct {
	cfg    Config
	client *redis.Client
	logger *applogger.Logger

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, cfg Config, logger *applogger.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("queue: nil redis client")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("queue: defaults: %w", err)
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &RedisQueue{
		cfg:    cfg,
		client: client,
		logger: logger,
		jobs:   make(map[string]Job),
	}, nil
}

func (q *RedisQueue) readyKey() string    { return q.cfg.KeyPrefix + ":ready" }
func (q *RedisQueue) inflightKey() string { return q.cfg.KeyPrefix + ":inflight" }
func (q *RedisQueue) retryKey() string    { return q.cfg.KeyPrefix + ":retry" }
func (q *RedisQueue) deadKey() string     { return q.cfg.KeyPrefix + ":dead" }

// RegisterJob binds j to its type. A second job for the same type replaces
// the first.
func (q *RedisQueue) RegisterJob(j Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.jobs[j.Type()]; dup {
		q.logger.Warn("queue job replaced", applogger.String("type", j.Type()))
	}
	q.jobs[j.Type()] = j
}

// Start checks Redis, recovers messages left in flight by a previous run and
// launches the workers and the retry promoter.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue: already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping: %w", err)
	}
	recovered, err := q.recoverInflight(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(context.Background())
	q.cancel = stop
	q.running = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(runCtx)
	}
	q.wg.Add(1)
	go q.promote(runCtx)

	q.logger.Info("redis queue started",
		applogger.Int("workers", q.cfg.Workers),
		applogger.Int64("recovered", recovered),
		applogger.String("prefix", q.cfg.KeyPrefix))
	return nil
}

// Stop cancels polling and waits for running jobs until ctx expires.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	}
}

// Publish enqueues payload as JSON.
func (q *RedisQueue) Publish(ctx context.Context, jobType string, payload interface{}) error {
	q.mu.RLock()
	_, known := q.jobs[jobType]
	running := q.running
	q.mu.RUnlock()
	if !running {
		return errors.New("queue: not running")
	}
	if !known {
		return fmt.Errorf("queue: no job for type %q", jobType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", jobType, err)
	}
	data, err := json.Marshal(envelope{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.readyKey(), data).Err()
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		data, err := q.client.BLMove(ctx, q.readyKey(), q.inflightKey(), "RIGHT", "LEFT", q.cfg.PollTimeout).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("queue poll failed", applogger.Error(err))
			pause(ctx, q.cfg.PollTimeout)
			continue
		}
		q.run(ctx, data)
	}
}

func (q *RedisQueue) run(ctx context.Context, data string) {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		q.logger.Error("queue message unreadable, moved to dead list", applogger.Error(err))
		q.settle(data, q.deadKey(), data, 0)
		return
	}

	q.mu.RLock()
	job := q.jobs[env.Type]
	q.mu.RUnlock()

	var err error
	if job == nil {
		err = fmt.Errorf("no job for type %q", env.Type)
	} else {
		err = job.Handle(ctx, env.Payload)
	}
	if err == nil {
		q.settle(data, "", "", 0)
		return
	}
	if ctx.Err() != nil {
		// Left in flight; recovered on next start.
		return
	}

	env.Attempts++
	env.LastError = err.Error()
	next, merr := json.Marshal(env)
	if merr != nil {
		q.logger.Error("queue re-encode failed", applogger.Error(merr))
		return
	}
	if env.Attempts > q.cfg.RetryLimit || job == nil {
		q.logger.Error("queue job exhausted",
			applogger.String("id", env.ID),
			applogger.String("type", env.Type),
			applogger.Int("attempts", env.Attempts),
			applogger.Error(err))
		q.settle(data, q.deadKey(), string(next), 0)
		return
	}
	q.logger.Warn("queue job failed, retry scheduled",
		applogger.String("id", env.ID),
		applogger.String("type", env.Type),
		applogger.Int("attempts", env.Attempts),
		applogger.Error(err))
	at := time.Now().Add(q.cfg.RetryDelay).UnixMilli()
	q.settle(data, q.retryKey(), string(next), float64(at))
}

// settle removes data from the in-flight list and, when dest is set, stores
// next there in the same transaction. The retry set is scored by score.
func (q *RedisQueue) settle(data, dest, next string, score float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.inflightKey(), 1, data)
	switch dest {
	case "":
	case q.retryKey():
		pipe.ZAdd(ctx, dest, redis.Z{Score: score, Member: next})
	default:
		pipe.LPush(ctx, dest, next)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("queue settle failed", applogger.String("dest", dest), applogger.Error(err))
	}
}

func (q *RedisQueue) promote(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(q.cfg.PromoteEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.Warn("queue retry promotion failed", applogger.Error(err))
			}
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range due {
		// ZRem wins for exactly one promoter when several instances share the prefix.
		removed, err := q.client.ZRem(ctx, q.retryKey(), m).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := q.client.LPush(ctx, q.readyKey(), m).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *RedisQueue) recoverInflight(ctx context.Context) (int64, error) {
	var n int64
	for {
		_, err := q.client.LMove(ctx, q.inflightKey(), q.readyKey(), "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("queue: recover in-flight: %w", err)
		}
		n++
	}
}

// Depth reports the ready, retry and dead counts.
func (q *RedisQueue) Depth(ctx context.Context) (ready, retry, dead int64, err error) {
	pipe := q.client.Pipeline()
	r := pipe.LLen(ctx, q.readyKey())
	z := pipe.ZCard(ctx, q.retryKey())
	d := pipe.LLen(ctx, q.deadKey())
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), z.Val(), d.Val(), nil
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
