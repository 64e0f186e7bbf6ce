package execution

import (
	"sync"
	"time"
)

// EventType categorizes what happened during a submission.
type EventType string

const (
	// EventAnswerRecorded is emitted once the answer is stored on the state.
	EventAnswerRecorded EventType = "answer.recorded"
	// EventBranchEvaluated is emitted after each branch comparison.
	EventBranchEvaluated EventType = "branch.evaluated"
	// EventEffectExecuted is emitted after an effect ran, whatever its outcome.
	EventEffectExecuted EventType = "effect.executed"
	// EventAwaitingInput is emitted when traversal parks on a question.
	EventAwaitingInput EventType = "execution.awaiting_input"
	// EventDeadEnd is emitted when no next node could be resolved.
	EventDeadEnd EventType = "execution.dead_end"
	// EventReset is emitted when an execution is reset.
	EventReset EventType = "execution.reset"
)

// Event is a notification about one step of an execution.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SubjectID string
	FlowID    string
	NodeID    string
	// Metadata carries event-specific detail: the branch outcome, the
	// action result or the dead-end reason.
	Metadata map[string]interface{}
}

// EventFilter selects events for a subscription. Empty fields match
// everything.
type EventFilter struct {
	Types     []EventType
	SubjectID string
	FlowID    string
}

// Matches returns true if the event matches the filter criteria.
func (f *EventFilter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.SubjectID != "" && event.SubjectID != f.SubjectID {
		return false
	}
	if f.FlowID != "" && event.FlowID != f.FlowID {
		return false
	}
	return true
}

type subscription struct {
	ch     chan Event
	filter *EventFilter // nil means no filtering
}

// monitor broadcasts events to subscribers without ever blocking the
// engine.
type monitor struct {
	mu          sync.RWMutex
	subscribers []*subscription
	closed      bool
}

const subscriberBuffer = 200

func (m *monitor) subscribe(filter *EventFilter) <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, subscriberBuffer)
	m.subscribers = append(m.subscribers, &subscription{ch: ch, filter: filter})
	return ch
}

func (m *monitor) unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub.ch == ch {
			close(sub.ch)
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			break
		}
	}
}

// emit sends event to every matching subscriber. Events are dropped for
// subscribers whose buffer is full.
func (m *monitor) emit(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range m.subscribers {
		if sub.filter != nil && !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (m *monitor) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, sub := range m.subscribers {
		close(sub.ch)
	}
	m.subscribers = nil
}
