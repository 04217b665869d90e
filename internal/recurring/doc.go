// Package recurring ставит периодические задачи от имени лидера.
//
// Определения (cron-выражение или интервал) задаются в конфигурации
// и одинаковы на всех узлах. Runner тикает только пока узел лидер:
// на каждом тике due-определения превращаются в обычные задачи через
// jobs.Scheduler.Schedule, после чего next_due сдвигается вперёд.
//
// Структура:
//   - runner.go — Runner (Attach, Tick, Definitions)
//   - cron.go   — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	runner, err := recurring.New(recurring.Config{
//	    Definitions: cfg.Recurring,
//	    Logger:      logger,
//	}, scheduler, registry)
//	if err != nil {
//	    return err
//	}
//	runner.Attach(elector)
//	defer runner.Stop()
//
// При смене лидера next_due пересчитывается от текущего времени нового
// лидера, пропущенные за время выборов запуски не догоняются.
package recurring
