package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduleEvent(t *testing.T, venue string, at time.Time) *SportsEvent {
	t.Helper()
	e, err := ScheduleSportsEvent(ScheduleEventParams{
		Name:      "Man Utd vs Liverpool",
		Category:  CategoryFootball,
		EventDate: at,
		Venue:     venue,
		Teams:     []string{"Manchester United", "Liverpool"},
	}, t0)
	require.NoError(t, err)
	return e
}

func TestScheduleSportsEvent(t *testing.T) {
	e := scheduleEvent(t, "Old Trafford", t0.Add(48*time.Hour))

	assert.Equal(t, DefaultEventDuration, e.Duration())
	require.Len(t, e.PendingEvents(), 1)
	assert.Equal(t, EventSportEventScheduled, e.PendingEvents()[0].EventType)

	_, err := ScheduleSportsEvent(ScheduleEventParams{Name: "x", EventDate: t0}, t0)
	assert.True(t, IsValidationError(err), "venue is required")

	_, err = ScheduleSportsEvent(ScheduleEventParams{Name: "x", Venue: "y", EventDate: t0, Category: "curling"}, t0)
	assert.True(t, IsValidationError(err))
}

func TestSportsEvent_HighDemandFlag(t *testing.T) {
	e := scheduleEvent(t, "Old Trafford", t0.Add(48*time.Hour))
	e.DrainEvents()

	assert.True(t, e.MarkAsHighDemand(0.8, 20, t0))
	assert.False(t, e.MarkAsHighDemand(0.9, 20, t0))
	assert.True(t, e.IsHighDemand())

	assert.True(t, e.UnmarkAsHighDemand(0.4, 20, t0))
	assert.False(t, e.UnmarkAsHighDemand(0.3, 20, t0))

	events := e.DrainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventSportEventMarkedAsHighDemand, events[0].EventType)
	assert.Equal(t, EventSportEventUnmarkedAsHighDemand, events[1].EventType)
	assert.Equal(t, 2, events[0].Version)
	assert.Equal(t, 3, events[1].Version)
}

func TestSportsEvent_Reschedule(t *testing.T) {
	e := scheduleEvent(t, "Old Trafford", t0.Add(48*time.Hour))
	e.DrainEvents()

	require.NoError(t, e.Reschedule(t0.Add(72*time.Hour), t0))
	require.Len(t, e.PendingEvents(), 1)

	assert.True(t, e.AttachTickets(t0))
	assert.False(t, e.AttachTickets(t0))
	err := e.Reschedule(t0.Add(96*time.Hour), t0)
	assert.True(t, errors.Is(err, ErrEventDateLocked))
	assert.Equal(t, t0.Add(72*time.Hour), e.EventDate())
}

func TestEventSchedule_AddEvent(t *testing.T) {
	schedule, err := NewEventSchedule(t0, t0.Add(30*24*time.Hour))
	require.NoError(t, err)

	first := scheduleEvent(t, "Old Trafford", t0.Add(48*time.Hour))
	require.NoError(t, schedule.AddEvent(first))

	t.Run("overlap at same venue conflicts", func(t *testing.T) {
		clash := scheduleEvent(t, "  old   TRAFFORD ", t0.Add(50*time.Hour))
		err := schedule.AddEvent(clash)

		var conflict *SchedulingConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, first.ID(), conflict.ConflictingEventID)
		assert.True(t, errors.Is(err, ErrSchedulingConflict))
	})

	t.Run("back to back is fine", func(t *testing.T) {
		next := scheduleEvent(t, "Old Trafford", first.EndsAt())
		assert.NoError(t, schedule.AddEvent(next))
	})

	t.Run("same time other venue is fine", func(t *testing.T) {
		other := scheduleEvent(t, "Anfield", t0.Add(48*time.Hour))
		assert.NoError(t, schedule.AddEvent(other))
	})

	t.Run("outside window", func(t *testing.T) {
		late := scheduleEvent(t, "Etihad", t0.Add(31*24*time.Hour))
		assert.True(t, IsValidationError(schedule.AddEvent(late)))
	})

	t.Run("duplicate", func(t *testing.T) {
		assert.True(t, IsValidationError(schedule.AddEvent(first)))
	})

	assert.Len(t, schedule.Events(), 3)
	assert.Len(t, schedule.EventsAtVenue("old trafford"), 2)
}

func TestNewEventSchedule_InvalidWindow(t *testing.T) {
	_, err := NewEventSchedule(t0, t0)
	assert.True(t, IsValidationError(err))
}
