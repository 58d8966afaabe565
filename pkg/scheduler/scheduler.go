package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrTaskIDRequired      = errors.New("task ID is required")
	ErrTaskScheduleMissing = errors.New("task schedule is required")
	ErrTaskHandlerMissing  = errors.New("task handler is required")
	ErrTaskExists          = errors.New("task already exists")
	ErrTaskNotFound        = errors.New("task not found")
)

// DefaultTimeout bounds a single task execution.
const DefaultTimeout = 5 * time.Minute

// HandlerFunc is the body of a scheduled task.
type HandlerFunc func(ctx context.Context) error

// Task represents a scheduled task
type Task struct {
	ID       string
	Name     string
	Schedule string // cron expression or descriptor such as "@every 5s"
	Handler  HandlerFunc
	Enabled  bool

	mu        sync.Mutex
	running   sync.Mutex
	entryID   cron.EntryID
	lastRun   time.Time
	nextRun   time.Time
	lastErr   error
	runs      int
	scheduled cron.Schedule
}

// TaskInfo is a point-in-time copy of a task's bookkeeping.
type TaskInfo struct {
	ID        string
	Name      string
	Schedule  string
	Enabled   bool
	LastRun   time.Time
	NextRun   time.Time
	LastError error
	Runs      int
}

func (t *Task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskInfo{
		ID:        t.ID,
		Name:      t.Name,
		Schedule:  t.Schedule,
		Enabled:   t.Enabled,
		LastRun:   t.lastRun,
		NextRun:   t.nextRun,
		LastError: t.lastErr,
		Runs:      t.runs,
	}
}

// Config represents scheduler configuration
type Config struct {
	// Timeout bounds each execution, DefaultTimeout when zero.
	Timeout time.Duration
}

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron    *cron.Cron
	tasks   map[string]*Task
	mu      sync.RWMutex
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// Every renders an interval as a cron descriptor.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// NewScheduler creates a new scheduler
func NewScheduler(config *Config) *Scheduler {
	if config == nil {
		config = &Config{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		tasks:   make(map[string]*Task),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTask adds a task to the scheduler
func (s *Scheduler) AddTask(task *Task) error {
	if task.ID == "" {
		return ErrTaskIDRequired
	}
	if task.Schedule == "" {
		return ErrTaskScheduleMissing
	}
	if task.Handler == nil {
		return ErrTaskHandlerMissing
	}

	schedule, err := parseCronSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}

	task.mu.Lock()
	task.scheduled = schedule
	task.nextRun = schedule.Next(time.Now())
	if task.Enabled {
		task.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.executeTask(task)
		}))
	}
	task.mu.Unlock()

	s.tasks[task.ID] = task

	logger.Info("task added",
		zap.String("taskID", task.ID),
		zap.String("name", task.Name),
		zap.String("schedule", task.Schedule),
		zap.Bool("enabled", task.Enabled))
	return nil
}

// RemoveTask removes a task from the scheduler
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	task.mu.Lock()
	if task.entryID != 0 {
		s.cron.Remove(task.entryID)
		task.entryID = 0
	}
	task.mu.Unlock()

	delete(s.tasks, id)
	logger.Info("task removed", zap.String("taskID", id))
	return nil
}

// GetTask gets a task by ID
func (s *Scheduler) GetTask(id string) (TaskInfo, error) {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return TaskInfo{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task.info(), nil
}

// ListTasks returns all tasks
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task.info())
	}
	return tasks
}

// RunNow executes a task synchronously, regardless of its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	task.running.Lock()
	defer task.running.Unlock()
	return s.runLocked(task)
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started", zap.Int("tasks", len(s.ListTasks())))
}

// Stop stops the scheduler and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Info("scheduler stopped")
}

// executeTask runs a task from the cron loop, skipping the tick when
// the previous run is still in flight.
func (s *Scheduler) executeTask(task *Task) {
	task.mu.Lock()
	enabled := task.Enabled
	task.mu.Unlock()
	if !enabled {
		return
	}
	if !task.running.TryLock() {
		logger.Debug("task still running, tick skipped", zap.String("taskID", task.ID))
		return
	}
	defer task.running.Unlock()
	_ = s.runLocked(task)
}

func (s *Scheduler) runLocked(task *Task) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	err := task.Handler(ctx)
	duration := time.Since(startTime)

	task.mu.Lock()
	now := time.Now()
	task.lastRun = now
	task.lastErr = err
	task.runs++
	if task.scheduled != nil {
		task.nextRun = task.scheduled.Next(now)
	}
	task.mu.Unlock()

	if err != nil {
		logger.Error("task execution failed",
			zap.String("taskID", task.ID),
			zap.String("name", task.Name),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		logger.Debug("task executed",
			zap.String("taskID", task.ID),
			zap.Duration("duration", duration))
	}
	return err
}

// parseCronSchedule parses cron expression supporting both 5 and 6 field formats
func parseCronSchedule(schedule string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(schedule)
	if err == nil {
		return sched, nil
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err = parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron expression: %w", err)
	}
	return sched, nil
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Lg.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Lg.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
