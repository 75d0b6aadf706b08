// Package scheduler turns recurring task definitions into actual work. It
// polls for due tasks, recomputes their next run before executing, and either
// materializes a one-off transfer job (copy mode) or runs the sync engine
// in place (cumulative/mirror mode).
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrlokans/skyferry/internal/config"
	"github.com/mrlokans/skyferry/internal/database/jobs"
	"github.com/mrlokans/skyferry/internal/database/tasks"
	"github.com/mrlokans/skyferry/internal/entities"
	"github.com/mrlokans/skyferry/internal/syncengine"
)

// Scheduler periodically fires due scheduled tasks. Run one instance per
// deployment; the due-task query does not guard against concurrent
// schedulers.
type Scheduler struct {
	cfg        config.Scheduler
	tasksRepo  *tasks.Repository
	jobsRepo   *jobs.Repository
	engine     *syncengine.Engine
	maxRetries int

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler service.
func NewScheduler(
	cfg config.Scheduler,
	tasksRepo *tasks.Repository,
	jobsRepo *jobs.Repository,
	engine *syncengine.Engine,
	maxRetries int,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		tasksRepo:  tasksRepo,
		jobsRepo:   jobsRepo,
		engine:     engine,
		maxRetries: maxRetries,
	}
}

// Start launches the polling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx)
	log.Printf("[SCHEDULER] started, polling every %s", s.cfg.PollInterval)
}

// Stop signals the loop to exit and waits for in-flight task runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.wg.Wait()
	log.Printf("[SCHEDULER] stopped")
}

// Running reports whether the polling loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.dispatchDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue fires every task whose next_run_at has passed. The next run is
// recomputed and persisted before execution so a crash mid-run cannot cause
// the task to fire twice for the same slot.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()
	due, err := s.tasksRepo.GetDueTasks(now)
	if err != nil {
		log.Printf("[SCHEDULER] failed to query due tasks: %v", err)
		return
	}

	for i := range due {
		task := due[i]
		next, err := NextRun(&task, now)
		if err != nil {
			log.Printf("[SCHEDULER] task %d has invalid recurrence, pausing: %v", task.ID, err)
			if err := s.tasksRepo.SetStatus(task.ID, entities.TaskStatusPaused); err != nil {
				log.Printf("[SCHEDULER] failed to pause task %d: %v", task.ID, err)
			}
			continue
		}
		if err := s.tasksRepo.SetNextRun(task.ID, next); err != nil {
			log.Printf("[SCHEDULER] failed to advance task %d: %v", task.ID, err)
			continue
		}
		if err := s.tasksRepo.MarkDispatched(task.ID, now); err != nil {
			log.Printf("[SCHEDULER] failed to mark task %d dispatched: %v", task.ID, err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.executeTask(ctx, &task)
		}()
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task *entities.ScheduledTask) {
	log.Printf("[SCHEDULER] running task %d (%s, mode=%s)", task.ID, task.Name, task.SyncMode)

	var err error
	switch task.SyncMode {
	case entities.SyncModeCopy:
		err = s.runCopy(ctx, task)
	case entities.SyncModeCumulative, entities.SyncModeMirror:
		err = s.runSync(ctx, task)
	default:
		err = fmt.Errorf("unknown sync mode %q", task.SyncMode)
	}

	lastError := ""
	if err != nil {
		lastError = err.Error()
		log.Printf("[SCHEDULER] task %d failed: %v", task.ID, err)
	}
	if recErr := s.tasksRepo.RecordOutcome(task.ID, err == nil, lastError); recErr != nil {
		log.Printf("[SCHEDULER] failed to record outcome for task %d: %v", task.ID, recErr)
	}
}

// runCopy materializes a job for the queue workers and monitors it until it
// reaches a terminal state or the monitoring budget runs out. A monitoring
// timeout fails the run record only; the job itself keeps running.
func (s *Scheduler) runCopy(ctx context.Context, task *entities.ScheduledTask) error {
	job := &entities.Job{
		ID:              uuid.NewString(),
		UserID:          task.UserID,
		SourceProvider:  task.SourceProvider,
		SourceID:        task.SourceID,
		SourceURL:       task.SourceURL,
		SourceName:      task.SourceName,
		ItemType:        task.ItemType,
		DestProvider:    task.DestProvider,
		DestFolderID:    task.DestFolderID,
		DuplicateAction: task.DuplicateAction,
		Status:          entities.JobStatusPending,
		MaxRetries:      s.maxRetries,
	}
	if err := s.jobsRepo.Create(job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	run, err := s.tasksRepo.StartRun(task.ID, job.ID)
	if err != nil {
		return fmt.Errorf("failed to start run record: %w", err)
	}

	final, err := s.monitorJob(ctx, job.ID)
	if err != nil {
		if finErr := s.tasksRepo.FinishRun(run.ID, entities.RunStatusFailed, 0, 0, 0, err.Error()); finErr != nil {
			log.Printf("[SCHEDULER] failed to finish run %d: %v", run.ID, finErr)
		}
		return err
	}

	copied := final.CompletedFiles
	if final.Status == entities.JobStatusCompleted && copied == 0 {
		copied = 1
	}
	if final.Status == entities.JobStatusCompleted {
		return s.tasksRepo.FinishRun(run.ID, entities.RunStatusCompleted, copied, 0, 0, "")
	}
	if finErr := s.tasksRepo.FinishRun(run.ID, entities.RunStatusFailed, final.CompletedFiles, 0, 0, final.ErrorMessage); finErr != nil {
		log.Printf("[SCHEDULER] failed to finish run %d: %v", run.ID, finErr)
	}
	return fmt.Errorf("job %s failed: %s", final.ID, final.ErrorMessage)
}

func (s *Scheduler) monitorJob(ctx context.Context, jobID string) (*entities.Job, error) {
	deadline := time.Now().Add(s.cfg.MonitorMaxWait)
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.stopCh:
			return nil, fmt.Errorf("scheduler stopping while monitoring job %s", jobID)
		case <-ticker.C:
			job, err := s.jobsRepo.Get(jobID)
			if err != nil {
				return nil, fmt.Errorf("failed to poll job %s: %w", jobID, err)
			}
			if job.IsTerminal() {
				return job, nil
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("monitoring job %s timed out after %s", jobID, s.cfg.MonitorMaxWait)
			}
		}
	}
}

// runSync executes the sync engine inline; sync passes are sequential and
// bounded by the task's tree size, so they do not go through the job queue.
func (s *Scheduler) runSync(ctx context.Context, task *entities.ScheduledTask) error {
	run, err := s.tasksRepo.StartRun(task.ID, "")
	if err != nil {
		return fmt.Errorf("failed to start run record: %w", err)
	}

	summary, err := s.engine.Run(ctx, task)
	if err != nil {
		if finErr := s.tasksRepo.FinishRun(run.ID, entities.RunStatusFailed, 0, 0, 0, err.Error()); finErr != nil {
			log.Printf("[SCHEDULER] failed to finish run %d: %v", run.ID, finErr)
		}
		return err
	}

	log.Printf("[SCHEDULER] task %d sync pass: scanned=%d copied=%d skipped=%d failed=%d conflicts=%d",
		task.ID, summary.FilesScanned, summary.FilesCopied, summary.FilesSkipped, summary.FilesFailed, summary.ConflictsFound)

	status := entities.RunStatusCompleted
	errMsg := ""
	if summary.FilesFailed > 0 {
		status = entities.RunStatusFailed
		errMsg = fmt.Sprintf("%d of %d files failed", summary.FilesFailed, summary.FilesScanned)
	}
	return s.tasksRepo.FinishRun(run.ID, status, summary.FilesCopied, summary.FilesSkipped, summary.FilesFailed, errMsg)
}

// Resume reactivates a paused task and recomputes its next run from now so
// the backlog of missed slots is not replayed.
func (s *Scheduler) Resume(taskID uint) error {
	task, err := s.tasksRepo.Get(taskID)
	if err != nil {
		return err
	}
	next, err := NextRun(task, time.Now())
	if err != nil {
		return fmt.Errorf("failed to compute next run: %w", err)
	}
	if err := s.tasksRepo.SetStatus(taskID, entities.TaskStatusActive); err != nil {
		return err
	}
	return s.tasksRepo.SetNextRun(taskID, next)
}
