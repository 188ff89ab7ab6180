package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/model"
	"agency-service/prometheus"
)

// Processor marks due reminders as sent. It runs across every agency in a
// single statement, which keeps the sweep atomic and avoids per-tenant
// iteration.
type Processor struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewProcessor creates a reminder processor
func NewProcessor(db *gorm.DB, log *zap.Logger) *Processor {
	return &Processor{db: db, log: log}
}

// ProcessDue transitions pending reminders whose remind_at has passed to the
// sent status and returns how many rows changed.
func (p *Processor) ProcessDue(now time.Time) (int64, error) {
	defer prometheus.TrackDBOperation("update")(time.Now())

	result := p.db.Model(&model.Reminder{}).
		Where("status = ? AND remind_at <= ?", model.ReminderPending, now).
		Updates(map[string]interface{}{"status": model.ReminderSent, "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		prometheus.RecordRemindersProcessed(result.RowsAffected)
		p.log.Info("Marked due reminders as sent", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// Scheduler runs the processor on a cron schedule in-process
type Scheduler struct {
	cron      *cron.Cron
	processor *Processor
	log       *zap.Logger
}

// NewScheduler creates a scheduler for the given cron expression. The
// expression uses the standard five-field format.
func NewScheduler(processor *Processor, schedule string, log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		processor: processor,
		log:       log,
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.processor.ProcessDue(time.Now()); err != nil {
			s.log.Error("Scheduled reminder processing failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running scheduled jobs in their own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
