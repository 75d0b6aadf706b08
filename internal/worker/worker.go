// Package worker implements the queue worker: it polls the job store for due
// jobs, claims a bounded batch under global and per-user concurrency
// ceilings, and executes each transfer with timeout, retry and cooperative
// cancellation. Multiple worker processes may run concurrently against a
// shared store; the store's row lock is the only cross-process coordination.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrlokans/skyferry/internal/config"
	"github.com/mrlokans/skyferry/internal/database/jobs"
	"github.com/mrlokans/skyferry/internal/database/users"
	"github.com/mrlokans/skyferry/internal/duplicates"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/events"
	"github.com/mrlokans/skyferry/internal/storage"
)

// pollGrowthFactor multiplies the poll interval after an empty poll; any
// claimed job resets it to the base interval.
const pollGrowthFactor = 1.5

// Worker is the queue worker service. Construct with NewWorker, then Start;
// multiple instances are safely constructible (tests run several against one
// store).
type Worker struct {
	id        string
	cfg       config.Worker
	planCfg   config.Plans
	jobsRepo  *jobs.Repository
	usersRepo *users.Repository
	resolver  storage.Resolver
	cache     *storage.ClientCache
	detector  *duplicates.Detector
	bus       *events.Bus

	mu      sync.Mutex
	started bool
	running int
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a worker with a unique identity. cache may be nil when
// the resolver does no pooling.
func NewWorker(
	cfg config.Worker,
	planCfg config.Plans,
	jobsRepo *jobs.Repository,
	usersRepo *users.Repository,
	resolver storage.Resolver,
	cache *storage.ClientCache,
	detector *duplicates.Detector,
	bus *events.Bus,
) *Worker {
	return &Worker{
		id:        "worker-" + uuid.NewString()[:8],
		cfg:       cfg,
		planCfg:   planCfg,
		jobsRepo:  jobsRepo,
		usersRepo: usersRepo,
		resolver:  resolver,
		cache:     cache,
		detector:  detector,
		bus:       bus,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// ID returns the worker's lock identity.
func (w *Worker) ID() string {
	return w.id
}

// Running reports whether the poll loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return false
	}
	select {
	case <-w.doneCh:
		return false
	default:
		return true
	}
}

// Start runs the poll loop until the context is cancelled or Stop is called.
// Blocking; run it in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	log.Printf("[WORKER] %s started (concurrency=%d, poll=%v)", w.id, w.cfg.Concurrency, w.cfg.PollInterval)

	heartbeatDone := make(chan struct{})
	go w.heartbeatLoop(ctx, heartbeatDone)

	interval := w.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			w.shutdown(heartbeatDone)
			return
		case <-w.stopCh:
			w.shutdown(heartbeatDone)
			return
		case <-time.After(interval):
		}

		claimed, err := w.pollOnce(ctx)
		if err != nil {
			log.Printf("[WORKER] %s poll error: %v", w.id, err)
		}

		// Adaptive cadence: back off while idle, snap back on any claim.
		if claimed > 0 {
			interval = w.cfg.PollInterval
		} else {
			interval = time.Duration(float64(interval) * pollGrowthFactor)
			if interval > w.cfg.MaxPollInterval {
				interval = w.cfg.MaxPollInterval
			}
		}
	}
}

// Stop signals the loop to exit and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

func (w *Worker) shutdown(heartbeatDone chan struct{}) {
	w.wg.Wait()
	<-heartbeatDone
	close(w.doneCh)
	log.Printf("[WORKER] %s stopped", w.id)
}

// pollOnce claims and launches up to the available slots' worth of due jobs.
func (w *Worker) pollOnce(ctx context.Context) (int, error) {
	w.mu.Lock()
	slots := w.cfg.Concurrency - w.running
	w.mu.Unlock()
	if slots <= 0 {
		return 0, nil
	}
	if slots > w.cfg.BatchCap {
		slots = w.cfg.BatchCap
	}

	claimed, err := w.jobsRepo.ClaimPending(w.id, slots)
	if err != nil {
		return 0, fmt.Errorf("failed to claim jobs: %w", err)
	}

	for i := range claimed {
		job := claimed[i]

		// Per-user admission: the claim already counts this job as
		// running, so exceeding the ceiling means someone else's slots
		// would starve. Return it with a short fixed delay instead of
		// holding the slot.
		ceiling := w.userCeiling(job.UserID)
		runningForUser, err := w.jobsRepo.CountRunningForUser(job.UserID)
		if err != nil {
			log.Printf("[WORKER] %s admission check failed for job %s: %v", w.id, job.ID, err)
			runningForUser = ceiling // fail open, execute anyway
		}
		if runningForUser > ceiling {
			if err := w.jobsRepo.Release(job.ID, w.cfg.AdmissionDelay); err != nil {
				log.Printf("[WORKER] %s failed to release job %s: %v", w.id, job.ID, err)
			}
			continue
		}

		w.mu.Lock()
		w.running++
		w.mu.Unlock()
		w.wg.Add(1)
		go func() {
			defer func() {
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
				w.wg.Done()
			}()
			w.runJob(ctx, &job)
		}()
	}

	return len(claimed), nil
}

func (w *Worker) userCeiling(userID uint) int {
	plan, err := w.usersRepo.PlanFor(userID)
	if err != nil {
		log.Printf("[WORKER] %s plan lookup failed for user %d: %v", w.id, userID, err)
	}
	if plan == entities.PlanPro {
		return w.planCfg.ProConcurrency
	}
	return w.planCfg.FreeConcurrency
}

// runJob executes one claimed job under the per-job timeout and settles its
// terminal state or reschedules it.
func (w *Worker) runJob(ctx context.Context, job *entities.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	result, err := w.execute(jobCtx, job)
	elapsed := time.Since(started)

	if err == nil {
		result.Duration = elapsed
		if markErr := w.jobsRepo.MarkCompleted(job.ID, *result); markErr != nil {
			log.Printf("[WORKER] %s failed to mark job %s completed: %v", w.id, job.ID, markErr)
			return
		}
		w.bus.Publish(events.Completed(job.ID, job.UserID, events.Result{
			FileID:   result.CopiedFileID,
			FileName: result.CopiedFileName,
			FileURL:  result.CopiedFileURL,
			Duration: elapsed,
		}))
		log.Printf("[WORKER] %s completed job %s in %v", w.id, job.ID, elapsed)
		return
	}

	if errIsCancellation(err) {
		if markErr := w.jobsRepo.MarkFailed(job.ID, job.Attempts, "cancelled"); markErr != nil {
			log.Printf("[WORKER] %s failed to mark job %s cancelled: %v", w.id, job.ID, markErr)
		}
		w.bus.Publish(events.Cancelled(job.ID, job.UserID))
		log.Printf("[WORKER] %s job %s cancelled", w.id, job.ID)
		return
	}

	attempts := job.Attempts + 1
	retryable := storage.IsRetryable(err)

	// MaxRetries bounds the failed attempts a job may accumulate and still
	// be rescheduled: a job only fails terminally when it errors again with
	// that many failures already recorded.
	if !retryable || job.Attempts >= job.MaxRetries {
		if markErr := w.jobsRepo.MarkFailed(job.ID, attempts, err.Error()); markErr != nil {
			log.Printf("[WORKER] %s failed to mark job %s failed: %v", w.id, job.ID, markErr)
		}
		w.bus.Publish(events.Failed(job.ID, job.UserID, err.Error()))
		log.Printf("[WORKER] %s job %s failed permanently after %d attempts: %v", w.id, job.ID, attempts, err)
		return
	}

	delay := nextDelay(attempts, w.cfg.BackoffBase, w.cfg.BackoffCap, w.cfg.BackoffJitter)
	nextRun := time.Now().Add(delay)
	if markErr := w.jobsRepo.RescheduleWithBackoff(job.ID, attempts, nextRun, err.Error()); markErr != nil {
		log.Printf("[WORKER] %s failed to reschedule job %s: %v", w.id, job.ID, markErr)
		return
	}
	w.bus.Publish(events.Retry(job.ID, job.UserID, attempts, nextRun))
	log.Printf("[WORKER] %s job %s attempt %d failed, retrying in %v: %v", w.id, job.ID, attempts, delay, err)
}

// heartbeatLoop runs independently of the poll cadence: it reclaims stale
// locks, purges terminal jobs past retention, and recycles pooled clients.
func (w *Worker) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}

		if reclaimed, err := w.jobsRepo.ReclaimStale(w.cfg.StaleLockThreshold); err != nil {
			log.Printf("[WORKER] %s stale reclaim failed: %v", w.id, err)
		} else if reclaimed > 0 {
			log.Printf("[WORKER] %s reclaimed %d stale jobs", w.id, reclaimed)
		}

		if purged, err := w.jobsRepo.PurgeTerminal(w.cfg.Retention); err != nil {
			log.Printf("[WORKER] %s retention purge failed: %v", w.id, err)
		} else if purged > 0 {
			log.Printf("[WORKER] %s purged %d jobs past retention", w.id, purged)
		}

		if w.cache != nil {
			if evicted := w.cache.Recycle(); evicted > 0 {
				log.Printf("[WORKER] %s recycled %d pooled provider clients", w.id, evicted)
			}
		}
	}
}
