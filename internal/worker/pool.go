package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/models"
	"ispring-backend/internal/services"
)

const (
	attemptQueue  = "queue:attempt-finished"
	delayedQueue  = "queue:attempt-finished:delayed"
	popTimeout    = 5 * time.Second
	jobLockTTL    = 2 * time.Minute
	maxRetryDelay = 5 * time.Minute
	promoteBatch  = 100
)

// promoteScript moves due jobs from the delayed set to the tail of the
// queue. Running it atomically keeps two instances from moving a job twice.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, job in ipairs(due) do
	redis.call("ZREM", KEYS[1], job)
	redis.call("RPUSH", KEYS[2], job)
end
return #due
`)

// AttemptJob asks a worker to run the gradebook side effects of one finished
// attempt. The session is reloaded when the job runs.
type AttemptJob struct {
	SessionID  int64     `json:"session_id"`
	UserID     int64     `json:"user_id"`
	ModuleID   int64     `json:"module_id"`
	Retries    int       `json:"retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue enqueues finished attempts. It satisfies the observer the session
// handler calls after a successful end.
type Queue struct {
	redis *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{redis: client}
}

func (q *Queue) AttemptFinished(ctx context.Context, res *services.EndResult) error {
	job := AttemptJob{
		SessionID:  res.Session.ID,
		UserID:     res.Session.UserID,
		ModuleID:   res.ModuleID,
		EnqueuedAt: time.Now(),
	}
	return q.push(ctx, job)
}

// push appends job to the tail; workers pop from the head.
func (q *Queue) push(ctx context.Context, job AttemptJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.RPush(ctx, attemptQueue, data).Err(); err != nil {
		return fmt.Errorf("enqueue attempt %d: %w", job.SessionID, err)
	}
	return nil
}

// schedule parks job in the delayed set until delay has passed.
func (q *Queue) schedule(ctx context.Context, job AttemptJob, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.redis.ZAdd(ctx, delayedQueue, redis.Z{Score: due, Member: data}).Err(); err != nil {
		return fmt.Errorf("schedule attempt %d: %w", job.SessionID, err)
	}
	return nil
}

// promote moves every job whose delay has passed back onto the queue.
func (q *Queue) promote(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	return promoteScript.Run(ctx, q.redis, []string{delayedQueue, attemptQueue}, now, promoteBatch).Int()
}

type sessionLoader interface {
	GetByID(ctx context.Context, id int64) (*models.Session, error)
}

type attemptCompleter interface {
	AttemptFinished(ctx context.Context, res *services.EndResult) error
}

// Pool drains the attempt queue.
type Pool struct {
	redis       *redis.Client
	queue       *Queue
	sessions    sessionLoader
	completion  attemptCompleter
	log         *logger.Logger
	workerCount int
	maxRetries  int

	// retryBase is the first retry delay; each further retry doubles it.
	retryBase    time.Duration
	promoteEvery time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(
	redisClient *redis.Client,
	sessions sessionLoader,
	completion attemptCompleter,
	baseLog *logger.Logger,
	workerCount int,
	maxRetries int,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		redis:        redisClient,
		queue:        NewQueue(redisClient),
		sessions:     sessions,
		completion:   completion,
		log:          baseLog.With("component", "worker"),
		workerCount:  workerCount,
		maxRetries:   maxRetries,
		retryBase:    2 * time.Second,
		promoteEvery: time.Second,
	}
}

func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.promoter(ctx)

	p.log.Info("Started worker goroutines", "count", p.workerCount)
}

// Stop cancels in-flight pops and waits for workers to finish their
// current job.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			p.log.Debug("Worker shutting down", "worker", id)
			return
		}

		result, err := p.redis.BLPop(ctx, popTimeout, attemptQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.log.Warn("Queue pop failed", "worker", id, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job AttemptJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			p.log.Error("Failed to parse job", "worker", id, "error", err)
			continue
		}

		// Duplicate enqueues of the same attempt run one at a time.
		lockKey := fmt.Sprintf("job_lock:attempt:%d", job.SessionID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", jobLockTTL).Result()
		if err != nil || !locked {
			p.requeue(ctx, job, false)
			continue
		}

		err = p.process(context.WithoutCancel(ctx), job)
		p.redis.Del(context.WithoutCancel(ctx), lockKey)
		if err != nil {
			p.log.Error("Attempt job failed", "worker", id, "session_id", job.SessionID,
				"retries", job.Retries, "error", err)
			p.requeue(ctx, job, true)
		}
	}
}

func (p *Pool) promoter(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.promoteEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.promote(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("Delayed job promotion failed", "error", err)
			}
		}
	}
}

func (p *Pool) requeue(ctx context.Context, job AttemptJob, failed bool) {
	next, delay, ok := p.reschedule(job, failed)
	if !ok {
		p.log.Error("Dropping attempt job after retries", "session_id", job.SessionID, "retries", job.Retries)
		return
	}
	if err := p.queue.schedule(context.WithoutCancel(ctx), next, delay); err != nil {
		p.log.Error("Failed to requeue attempt job", "session_id", job.SessionID, "error", err)
	}
}

// reschedule returns the job to run again and how long to wait first. Only
// failed runs use up retries; a job that found its lock busy just waits.
func (p *Pool) reschedule(job AttemptJob, failed bool) (AttemptJob, time.Duration, bool) {
	if !failed {
		return job, p.retryBase, true
	}
	if job.Retries >= p.maxRetries {
		return job, 0, false
	}
	job.Retries++
	return job, p.backoff(job.Retries), true
}

func (p *Pool) backoff(retries int) time.Duration {
	d := p.retryBase
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// process runs the completion chain for job against the stored session.
func (p *Pool) process(ctx context.Context, job AttemptJob) error {
	session, err := p.sessions.GetByID(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("load session %d: %w", job.SessionID, err)
	}
	if session.UserID != job.UserID {
		return fmt.Errorf("session %d does not belong to user %d", job.SessionID, job.UserID)
	}
	if session.EndTime == nil {
		return fmt.Errorf("session %d has not ended", job.SessionID)
	}

	return p.completion.AttemptFinished(ctx, &services.EndResult{
		Outcome:  services.Applied,
		Session:  session,
		ModuleID: job.ModuleID,
	})
}
