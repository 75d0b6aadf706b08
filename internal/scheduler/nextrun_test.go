package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/skyferry/internal/entities"
)

// fixed reference: Wednesday 2026-03-11 10:30:00 UTC
var wednesday = time.Date(2026, 3, 11, 10, 30, 0, 0, time.UTC)

func TestNextRun_Hourly(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyHourly, Minute: 45}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 10, 45, 0, 0, time.UTC), next)

	// Minute already passed this hour rolls to the next hour.
	task.Minute = 15
	next, err = NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 11, 15, 0, 0, time.UTC), next)
}

func TestNextRun_Daily(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyDaily, Hour: 23, Minute: 0}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC), next)

	// Time already passed today rolls to tomorrow.
	task.Hour = 6
	next, err = NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 6, 0, 0, 0, time.UTC), next)
}

func TestNextRun_Weekly(t *testing.T) {
	// Friday = 5; two days after the reference Wednesday.
	task := &entities.ScheduledTask{Frequency: entities.FrequencyWeekly, DayOfWeek: 5, Hour: 9, Minute: 0}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())

	// Same weekday with the time already passed waits a full week.
	task.DayOfWeek = 3
	task.Hour = 8
	next, err = NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 18, 8, 0, 0, 0, time.UTC), next)
}

func TestNextRun_Monthly(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyMonthly, DayOfMonth: 15, Hour: 12, Minute: 0}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), next)

	// Day already passed this month rolls to the next month.
	task.DayOfMonth = 5
	next, err = NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 5, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRun_Monthly_ClampsToMonthLength(t *testing.T) {
	// April has 30 days; day 31 clamps to the 30th.
	task := &entities.ScheduledTask{Frequency: entities.FrequencyMonthly, DayOfMonth: 31, Hour: 0, Minute: 0}
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	next, err := NextRun(task, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), next)
}

func TestNextRun_CustomDays(t *testing.T) {
	// Monday and Thursday; reference is Wednesday, so Thursday wins.
	task := &entities.ScheduledTask{Frequency: entities.FrequencyCustom, Days: "1,4", Hour: 7, Minute: 30}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 7, 30, 0, 0, time.UTC), next)
	assert.Equal(t, time.Thursday, next.Weekday())
}

func TestNextRun_CustomDays_EmptySetRunsTomorrow(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyCustom, Days: "", Hour: 7, Minute: 0}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 7, 0, 0, 0, time.UTC), next)
}

func TestNextRun_Cron(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyCron, CronExpr: "0 */6 * * *"}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRun_Cron_InvalidExpression(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyCron, CronExpr: "not a cron"}

	_, err := NextRun(task, wednesday)
	assert.Error(t, err)
}

func TestNextRun_Timezone(t *testing.T) {
	// 09:00 in New York on the reference day is 13:00 UTC (EDT).
	task := &entities.ScheduledTask{
		Frequency: entities.FrequencyDaily,
		Hour:      9,
		Minute:    0,
		Timezone:  "America/New_York",
	}

	next, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRun_StrictlyFuture(t *testing.T) {
	tasks := []*entities.ScheduledTask{
		{Frequency: entities.FrequencyHourly, Minute: 30},
		{Frequency: entities.FrequencyDaily, Hour: 10, Minute: 30},
		{Frequency: entities.FrequencyWeekly, DayOfWeek: 3, Hour: 10, Minute: 30},
		{Frequency: entities.FrequencyMonthly, DayOfMonth: 11, Hour: 10, Minute: 30},
		{Frequency: entities.FrequencyCustom, Days: "3", Hour: 10, Minute: 30},
	}

	// now coincides exactly with each task's slot; the result must be the
	// following slot, never now itself.
	for _, task := range tasks {
		next, err := NextRun(task, wednesday)
		require.NoError(t, err)
		assert.True(t, next.After(wednesday), "frequency %s returned %s", task.Frequency, next)
	}
}

func TestNextRun_Idempotent(t *testing.T) {
	task := &entities.ScheduledTask{Frequency: entities.FrequencyDaily, Hour: 4, Minute: 15}

	first, err := NextRun(task, wednesday)
	require.NoError(t, err)
	second, err := NextRun(task, wednesday)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
