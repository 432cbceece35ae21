package events

import (
	"container/heap"
	"time"
)

// scheduledEvent is a descriptor queued for a specific execution time.
type scheduledEvent struct {
	ExecuteAt  time.Time
	Descriptor *Descriptor
	index      int
}

// scheduleQueue is a min-heap ordered by ExecuteAt.
type scheduleQueue []*scheduledEvent

func (q scheduleQueue) Len() int { return len(q) }

func (q scheduleQueue) Less(i, j int) bool {
	return q[i].ExecuteAt.Before(q[j].ExecuteAt)
}

func (q scheduleQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *scheduleQueue) Push(x interface{}) {
	item := x.(*scheduledEvent)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *scheduleQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	item.index = -1
	*q = old[0 : n-1]
	return item
}

// drainDue pops every entry with ExecuteAt <= now, in order.
func (q *scheduleQueue) drainDue(now time.Time) []*scheduledEvent {
	var due []*scheduledEvent
	for q.Len() > 0 {
		next := (*q)[0]
		if next.ExecuteAt.After(now) {
			break
		}
		due = append(due, heap.Pop(q).(*scheduledEvent))
	}
	return due
}
