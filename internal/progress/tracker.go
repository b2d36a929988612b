// Package progress tracks pipeline execution state and fans typed lifecycle
// events out to subscribed observers.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies the kind of lifecycle transition an event reports.
type EventType string

const (
	EventPipelineStart    EventType = "pipeline_start"
	EventPipelineComplete EventType = "pipeline_complete"
	EventPipelineFail     EventType = "pipeline_fail"
	EventStepStart        EventType = "step_start"
	EventStepProgress     EventType = "step_progress"
	EventStepComplete     EventType = "step_complete"
	EventStepFail         EventType = "step_fail"
	EventLog              EventType = "log"
)

// State is the tracker's execution state. Monotonic within a run except for
// an explicit Clear.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Info reports incremental progress within a step.
type Info struct {
	Current    int            `json:"current"`
	Total      int            `json:"total"`
	Percentage float64        `json:"percentage"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Event is an immutable progress event. Events are appended to the in-memory
// log and delivered to observers synchronously in subscription order.
type Event struct {
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	StepName  string         `json:"step_name,omitempty"`
	Progress  *Info          `json:"progress,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Observer receives progress events.
type Observer func(Event)

// Summary is a point-in-time snapshot of the tracker.
type Summary struct {
	State           State           `json:"state"`
	TotalSteps      int             `json:"total_steps"`
	CompletedSteps  int             `json:"completed_steps"`
	FailedSteps     int             `json:"failed_steps"`
	CurrentStep     string          `json:"current_step,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Steps           map[string]Info `json:"steps"`
}

// Tracker records pipeline progress for a single run. It is in-memory only
// and safe for concurrent use; the mutex covers the event log and observer
// fan-out so a parallel executor would not corrupt either.
type Tracker struct {
	mu           sync.Mutex
	state        State
	totalSteps   int
	completed    int
	failed       int
	currentStep  string
	stepProgress map[string]Info
	startTime    time.Time
	endTime      time.Time
	observers    []Observer
	events       []Event
	nextID       int
	observerIDs  []int
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:        StateIdle,
		stepProgress: make(map[string]Info),
	}
}

// Subscribe registers an observer and returns an ID usable with Unsubscribe.
func (t *Tracker) Subscribe(obs Observer) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.observers = append(t.observers, obs)
	t.observerIDs = append(t.observerIDs, t.nextID)
	return t.nextID
}

// Unsubscribe removes a previously registered observer.
func (t *Tracker) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, oid := range t.observerIDs {
		if oid == id {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			t.observerIDs = append(t.observerIDs[:i], t.observerIDs[i+1:]...)
			return
		}
	}
}

// emit appends an event and notifies observers in subscription order. A
// panicking observer must not prevent delivery to the others or abort the
// emitting call.
func (t *Tracker) emit(evt Event) {
	evt.Timestamp = time.Now()
	t.events = append(t.events, evt)

	for _, obs := range t.observers {
		t.notify(obs, evt)
	}
}

func (t *Tracker) notify(obs Observer, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("progress: observer panicked", zap.Any("panic", r))
		}
	}()
	obs(evt)
}

// StartPipeline moves the tracker to running and resets counters.
func (t *Tracker) StartPipeline(totalSteps int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateRunning
	t.totalSteps = totalSteps
	t.completed = 0
	t.failed = 0
	t.startTime = time.Now()
	t.endTime = time.Time{}

	t.emit(Event{
		Type:     EventPipelineStart,
		Message:  "Pipeline started",
		Metadata: map[string]any{"total_steps": totalSteps},
	})
}

// CompletePipeline marks the run completed.
func (t *Tracker) CompletePipeline() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateCompleted
	t.endTime = time.Now()

	t.emit(Event{
		Type:    EventPipelineComplete,
		Message: "Pipeline completed",
		Metadata: map[string]any{
			"total_steps":      t.totalSteps,
			"completed_steps":  t.completed,
			"failed_steps":     t.failed,
			"duration_seconds": t.endTime.Sub(t.startTime).Seconds(),
		},
	})
}

// FailPipeline marks the run failed.
func (t *Tracker) FailPipeline(errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateFailed
	t.endTime = time.Now()

	t.emit(Event{
		Type:    EventPipelineFail,
		Message: "Pipeline failed: " + errMsg,
		Error:   errMsg,
		Metadata: map[string]any{
			"completed_steps": t.completed,
			"failed_steps":    t.failed,
		},
	})
}

// StartStep records the given step as current.
func (t *Tracker) StartStep(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentStep = name
	t.emit(Event{
		Type:     EventStepStart,
		Message:  "Starting step: " + name,
		StepName: name,
	})
}

// CompleteStep increments the completed counter.
func (t *Tracker) CompleteStep(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	if t.currentStep == name {
		t.currentStep = ""
	}
	t.emit(Event{
		Type:     EventStepComplete,
		Message:  "Step completed: " + name,
		StepName: name,
		Metadata: map[string]any{
			"completed_steps": t.completed,
			"total_steps":     t.totalSteps,
		},
	})
}

// FailStep increments the failed counter.
func (t *Tracker) FailStep(name, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failed++
	if t.currentStep == name {
		t.currentStep = ""
	}
	t.emit(Event{
		Type:     EventStepFail,
		Message:  "Step failed: " + name,
		StepName: name,
		Error:    errMsg,
		Metadata: map[string]any{"failed_steps": t.failed},
	})
}

// ReportProgress records incremental progress for the current step.
func (t *Tracker) ReportProgress(current, total int, message string, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	info := Info{
		Current:    current,
		Total:      total,
		Percentage: pct,
		Message:    message,
		Metadata:   metadata,
	}
	if t.currentStep != "" {
		t.stepProgress[t.currentStep] = info
	}

	msg := message
	if msg == "" {
		msg = "Progress"
	}
	t.emit(Event{
		Type:     EventStepProgress,
		Message:  msg,
		StepName: t.currentStep,
		Progress: &info,
		Metadata: metadata,
	})
}

// Log emits a free-form log event.
func (t *Tracker) Log(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(Event{Type: EventLog, Message: message})
}

// Summary returns a snapshot of the tracker state.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		State:          t.state,
		TotalSteps:     t.totalSteps,
		CompletedSteps: t.completed,
		FailedSteps:    t.failed,
		CurrentStep:    t.currentStep,
		Steps:          make(map[string]Info, len(t.stepProgress)),
	}
	for name, info := range t.stepProgress {
		s.Steps[name] = info
	}
	if !t.startTime.IsZero() {
		end := t.endTime
		if end.IsZero() {
			end = time.Now()
		}
		dur := end.Sub(t.startTime).Seconds()
		s.DurationSeconds = &dur
	}
	return s
}

// Events returns a copy of the event log, optionally filtered by type.
func (t *Tracker) Events(types ...EventType) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(types) == 0 {
		out := make([]Event, len(t.events))
		copy(out, t.events)
		return out
	}

	wanted := make(map[EventType]bool, len(types))
	for _, et := range types {
		wanted[et] = true
	}
	var out []Event
	for _, evt := range t.events {
		if wanted[evt.Type] {
			out = append(out, evt)
		}
	}
	return out
}

// Clear resets the tracker to idle and drops all events and counters.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateIdle
	t.totalSteps = 0
	t.completed = 0
	t.failed = 0
	t.currentStep = ""
	t.stepProgress = make(map[string]Info)
	t.startTime = time.Time{}
	t.endTime = time.Time{}
	t.events = nil
}
