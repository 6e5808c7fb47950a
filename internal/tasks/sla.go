package tasks

import (
	"strconv"
	"time"
)

// SLA task kinds dispatched by the Approval Engine's deferred jobs
// (spec.md §4.4 / §9: "the Approval Engine never spawns its own threads
// for timers; it registers deferred tasks").
const (
	KindSLAWarning    = "sla_warning"
	KindSLAEscalation = "sla_escalation"
	KindSLADeadline   = "sla_deadline"
)

// ScheduleSLAJobs enqueues the three deferred jobs for a freshly created
// ticket, each carrying its own absolute fire time as NotBefore so a
// runtime restart reconstructs them from the ticket row rather than
// losing them (spec.md §9's design note on SLA timers surviving
// restarts — callers re-derive these from persisted
// sla_warning_at/escalation_at/sla_deadline_at rather than relying on
// this call alone).
func (r *Runtime) ScheduleSLAJobs(ticketID uint64, warningAt, escalationAt, deadlineAt time.Time) {
	r.Enqueue(Task{
		ID:             ticketKindKey(ticketID, KindSLAWarning),
		Kind:           KindSLAWarning,
		Priority:       High,
		Payload:        ticketID,
		NotBefore:      warningAt,
		IdempotencyKey: ticketKindKey(ticketID, KindSLAWarning),
	})
	r.Enqueue(Task{
		ID:             ticketKindKey(ticketID, KindSLAEscalation),
		Kind:           KindSLAEscalation,
		Priority:       High,
		Payload:        ticketID,
		NotBefore:      escalationAt,
		IdempotencyKey: ticketKindKey(ticketID, KindSLAEscalation),
	})
	r.Enqueue(Task{
		ID:             ticketKindKey(ticketID, KindSLADeadline),
		Kind:           KindSLADeadline,
		Priority:       Critical,
		Payload:        ticketID,
		NotBefore:      deadlineAt,
		IdempotencyKey: ticketKindKey(ticketID, KindSLADeadline),
	})
}

func ticketKindKey(ticketID uint64, kind string) string {
	return kind + ":" + strconv.FormatUint(ticketID, 10)
}
