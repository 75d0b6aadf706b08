package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mrlokans/skyferry/internal/entities"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the task's next run time after now. Pure function of
// (now, recurrence spec): repeated calls with the same now yield the same
// result, and the result is always strictly in the future. All arithmetic
// happens in the task's stored timezone.
func NextRun(task *entities.ScheduledTask, now time.Time) (time.Time, error) {
	loc := task.Location()
	local := now.In(loc)

	switch task.Frequency {
	case entities.FrequencyHourly:
		candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), task.Minute, 0, 0, loc)
		if !candidate.After(local) {
			candidate = candidate.Add(time.Hour)
		}
		return candidate, nil

	case entities.FrequencyDaily:
		candidate := atTime(local, task.Hour, task.Minute, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil

	case entities.FrequencyWeekly:
		target := time.Weekday(task.DayOfWeek)
		daysAhead := (int(target) - int(local.Weekday()) + 7) % 7
		candidate := atTime(local.AddDate(0, 0, daysAhead), task.Hour, task.Minute, loc)
		if !candidate.After(local) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate, nil

	case entities.FrequencyMonthly:
		candidate := onDayOfMonth(local.Year(), local.Month(), task.DayOfMonth, task.Hour, task.Minute, loc)
		if !candidate.After(local) {
			candidate = onDayOfMonth(local.Year(), local.Month()+1, task.DayOfMonth, task.Hour, task.Minute, loc)
		}
		return candidate, nil

	case entities.FrequencyCustom:
		days := task.CustomDays()
		if len(days) == 0 {
			// No days configured: default to tomorrow at the set time.
			return atTime(local.AddDate(0, 0, 1), task.Hour, task.Minute, loc), nil
		}
		set := make(map[time.Weekday]bool, len(days))
		for _, d := range days {
			set[d] = true
		}
		for ahead := 0; ahead <= 7; ahead++ {
			day := local.AddDate(0, 0, ahead)
			if !set[day.Weekday()] {
				continue
			}
			candidate := atTime(day, task.Hour, task.Minute, loc)
			if candidate.After(local) {
				return candidate, nil
			}
		}
		return atTime(local.AddDate(0, 0, 1), task.Hour, task.Minute, loc), nil

	case entities.FrequencyCron:
		schedule, err := cronParser.Parse(task.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", task.CronExpr, err)
		}
		return schedule.Next(local), nil

	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", task.Frequency)
	}
}

func atTime(day time.Time, hour, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}

// onDayOfMonth clamps the configured day to the month's length so a task
// set for the 31st still fires in February.
func onDayOfMonth(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		day = lastDay
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}
