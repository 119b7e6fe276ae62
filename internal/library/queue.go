package library

import (
	"capture-library/internal/logging"
	"capture-library/internal/metrics"

	"golang.org/x/sync/semaphore"
)

// Admission capacities.
const (
	GeneralQueueCapacity  = 8
	IndexingQueueCapacity = 2
)

// Queue names, used in logs and metric labels.
const (
	GeneralQueue  = "general"
	IndexingQueue = "indexing"
)

// queue is a bounded admission gate. A request beyond capacity is rejected
// at once rather than waiting for a slot.
type queue struct {
	name string
	sem  *semaphore.Weighted
}

func newQueue(name string, capacity int64) *queue {
	return &queue{name: name, sem: semaphore.NewWeighted(capacity)}
}

// admit takes a slot. The returned release must be called exactly once when
// ok is true.
func (q *queue) admit() (release func(), ok bool) {
	if !q.sem.TryAcquire(1) {
		metrics.JobAdmissionsTotal.WithLabelValues(q.name, "rejected").Inc()
		logging.Warn("%s queue full, request dropped", q.name)
		return nil, false
	}
	metrics.JobAdmissionsTotal.WithLabelValues(q.name, "accepted").Inc()
	metrics.JobsInFlight.WithLabelValues(q.name).Inc()
	return func() {
		metrics.JobsInFlight.WithLabelValues(q.name).Dec()
		q.sem.Release(1)
	}, true
}
