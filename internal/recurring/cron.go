package recurring

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Quorum/internal/domain"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время запуска определения.
// Для интервалов просто добавляет IntervalSec к from.
//
// Учитывает timezone определения.
func CalculateNextDue(def *domain.RecurringJob, from time.Time) (time.Time, error) {
	loc := time.UTC
	if def.Timezone != "" {
		if l, err := time.LoadLocation(def.Timezone); err == nil {
			loc = l
		}
	}

	fromInTz := from.In(loc)

	if def.IsCron() {
		return calculateNextCron(def.CronExpr, fromInTz)
	}

	if def.IsInterval() {
		return calculateNextInterval(def.IntervalSec, fromInTz), nil
	}

	return time.Time{}, fmt.Errorf("%w: %s has neither cron nor interval_sec", ErrInvalidDefinition, def.Name)
}

func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from).UTC(), nil
}

func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	return from.Add(time.Duration(intervalSec) * time.Second).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// Validate проверяет определение.
func Validate(def *domain.RecurringJob) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.Kind == "" {
		return fmt.Errorf("%w: %s: kind is required", ErrInvalidDefinition, def.Name)
	}
	if def.IsCron() {
		if err := ValidateCronExpr(def.CronExpr); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.Name, err)
		}
	} else if !def.IsInterval() {
		return fmt.Errorf("%w: %s: cron or positive interval_sec is required", ErrInvalidDefinition, def.Name)
	}
	if def.Timezone != "" {
		if _, err := time.LoadLocation(def.Timezone); err != nil {
			return fmt.Errorf("%w: %s: timezone %q: %w", ErrInvalidDefinition, def.Name, def.Timezone, err)
		}
	}
	return nil
}
