package tasks

import (
	"context"
	"fmt"
	"time"
)

// Schedule declares one recurring task (spec.md §4.7's fixed list:
// liquidity check 5min, risk indicators 1min, deviation check hourly,
// liquidity forecast hourly, overdue-liability batch daily, plus
// daily/weekly/monthly reports). The Approval Engine's SLA jobs are
// deliberately NOT modeled here: per spec.md §9's design note, those are
// per-ticket deferred tasks enqueued with an absolute NotBefore, not a
// fixed-interval schedule.
type Schedule struct {
	Kind     string
	Priority Priority
	Interval time.Duration
}

// DefaultSchedules is the fixed schedule table from spec.md §4.7.
var DefaultSchedules = []Schedule{
	{Kind: "liquidity_check", Priority: High, Interval: 5 * time.Minute},
	{Kind: "risk_indicators", Priority: High, Interval: time.Minute},
	{Kind: "deviation_check", Priority: Normal, Interval: time.Hour},
	{Kind: "liquidity_forecast", Priority: Normal, Interval: time.Hour},
	{Kind: "overdue_liability_batch", Priority: Normal, Interval: 24 * time.Hour},
	{Kind: "daily_report", Priority: Low, Interval: 24 * time.Hour},
	{Kind: "weekly_report", Priority: Low, Interval: 7 * 24 * time.Hour},
	{Kind: "monthly_report", Priority: Low, Interval: 30 * 24 * time.Hour},
}

// RunScheduler enqueues one task per Schedule entry every Interval until
// ctx is done. Each tick's idempotency key incorporates the tick time so
// redelivery within the same tick is deduplicated but distinct ticks are
// not.
func (r *Runtime) RunScheduler(ctx context.Context, schedules []Schedule) {
	for _, sched := range schedules {
		go r.runOne(ctx, sched)
	}
}

func (r *Runtime) runOne(ctx context.Context, sched Schedule) {
	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			r.Enqueue(Task{
				ID:             fmt.Sprintf("%s-%d", sched.Kind, tick.Unix()),
				Kind:           sched.Kind,
				Priority:       sched.Priority,
				IdempotencyKey: fmt.Sprintf("%s:%d", sched.Kind, tick.Truncate(sched.Interval).Unix()),
			})
		}
	}
}
