package idempotency

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Janitor purges expired records on a fixed interval.
type Janitor struct {
	purger   Purger
	interval time.Duration
	sched    gocron.Scheduler
}

func NewJanitor(p Purger, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{purger: p, interval: interval}
}

func (j *Janitor) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.run),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	j.sched = sched
	sched.Start()
	log.WithField("interval", j.interval).Debug("[IDEMPOTENCY] Janitor started")
	return nil
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()
	n, err := j.purger.Purge(ctx)
	if err != nil {
		log.WithError(err).Warn("[IDEMPOTENCY] Purge failed")
		return
	}
	if n > 0 {
		log.WithField("records", n).Debug("[IDEMPOTENCY] Purged expired records")
	}
}

func (j *Janitor) Stop() error {
	if j.sched == nil {
		return nil
	}
	err := j.sched.Shutdown()
	j.sched = nil
	return err
}
