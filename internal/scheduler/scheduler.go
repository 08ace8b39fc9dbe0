// Package scheduler registers every time-triggered job of the trading
// day against a KST cron and tracks per-job run history.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/logger"
)

// JobRecord is one job's run bookkeeping, exposed via the ops API.
type JobRecord struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_err"`
}

// Scheduler wraps the cron runner. All specs are evaluated in KST.
// ⭐ SSOT: 시간 트리거 잡은 전부 여기서 등록
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*JobRecord
}

// New creates an empty scheduler.
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(market.KST)),
		logger:  log.WithComponent("scheduler"),
		now:     market.Now,
		records: make(map[string]*JobRecord),
	}
}

// Register adds one job. The body gets a background context; failures
// are recorded and logged, never fatal to the process.
func (s *Scheduler) Register(name, spec string, body func(ctx context.Context) error) error {
	s.mu.Lock()
	s.records[name] = &JobRecord{Name: name, Spec: spec}
	s.mu.Unlock()

	_, err := s.cron.AddFunc(spec, func() {
		start := s.now()
		err := body(context.Background())

		s.mu.Lock()
		rec := s.records[name]
		rec.Runs++
		rec.LastRun = start
		rec.LastErr = ""
		if err != nil {
			rec.Failures++
			rec.LastErr = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.WithError(err).WithField("job", name).Error("Job failed")
			return
		}
		s.logger.WithFields(map[string]interface{}{
			"job":  name,
			"took": s.now().Sub(start).String(),
		}).Info("Job finished")
	})
	return err
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("jobs", len(s.records)).Info("Scheduler started")
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Status returns every job record, sorted by name.
func (s *Scheduler) Status() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
