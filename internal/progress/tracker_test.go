package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()

	tr.StartPipeline(3)
	tr.StartStep("merge")
	tr.ReportProgress(50, 100, "halfway", nil)
	tr.CompleteStep("merge")
	tr.StartStep("validate")
	tr.FailStep("validate", "boom")
	tr.CompletePipeline()

	s := tr.Summary()
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, 3, s.TotalSteps)
	assert.Equal(t, 1, s.CompletedSteps)
	assert.Equal(t, 1, s.FailedSteps)
	assert.Empty(t, s.CurrentStep)
	require.NotNil(t, s.DurationSeconds)

	info, ok := s.Steps["merge"]
	require.True(t, ok)
	assert.Equal(t, 50, info.Current)
	assert.Equal(t, 50.0, info.Percentage)
}

func TestTracker_ObserverReceivesEventsInOrder(t *testing.T) {
	tr := NewTracker()

	var got []EventType
	tr.Subscribe(func(evt Event) {
		got = append(got, evt.Type)
	})

	tr.StartPipeline(1)
	tr.StartStep("a")
	tr.CompleteStep("a")
	tr.CompletePipeline()

	assert.Equal(t, []EventType{
		EventPipelineStart,
		EventStepStart,
		EventStepComplete,
		EventPipelineComplete,
	}, got)
}

func TestTracker_PanickingObserverIsolated(t *testing.T) {
	tr := NewTracker()

	var after int
	tr.Subscribe(func(Event) { panic("bad observer") })
	tr.Subscribe(func(Event) { after++ })

	require.NotPanics(t, func() {
		tr.StartPipeline(1)
		tr.StartStep("a")
	})

	// Both events still reached the healthy observer.
	assert.Equal(t, 2, after)
}

func TestTracker_Unsubscribe(t *testing.T) {
	tr := NewTracker()

	var count int
	id := tr.Subscribe(func(Event) { count++ })

	tr.Log("one")
	tr.Unsubscribe(id)
	tr.Log("two")

	assert.Equal(t, 1, count)
}

func TestTracker_EventsFilter(t *testing.T) {
	tr := NewTracker()

	tr.StartPipeline(2)
	tr.StartStep("a")
	tr.FailStep("a", "err")
	tr.StartStep("b")
	tr.CompleteStep("b")

	all := tr.Events()
	assert.Len(t, all, 5)

	fails := tr.Events(EventStepFail)
	require.Len(t, fails, 1)
	assert.Equal(t, "a", fails[0].StepName)
	assert.Equal(t, "err", fails[0].Error)

	starts := tr.Events(EventStepStart, EventPipelineStart)
	assert.Len(t, starts, 3)
}

func TestTracker_FailPipeline(t *testing.T) {
	tr := NewTracker()
	tr.StartPipeline(1)
	tr.FailPipeline("stop requested")

	s := tr.Summary()
	assert.Equal(t, StateFailed, s.State)

	evts := tr.Events(EventPipelineFail)
	require.Len(t, evts, 1)
	assert.Equal(t, "stop requested", evts[0].Error)
}

func TestTracker_Clear(t *testing.T) {
	tr := NewTracker()
	tr.StartPipeline(2)
	tr.StartStep("a")
	tr.CompleteStep("a")
	tr.Clear()

	s := tr.Summary()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 0, s.TotalSteps)
	assert.Equal(t, 0, s.CompletedSteps)
	assert.Empty(t, tr.Events())
	assert.Nil(t, s.DurationSeconds)
}
