// Package broadcast реализует реестр широковещательных сообщений кластера.
//
// Broadcast — fan-out сообщение, которое получают все живые узлы.
// Через него распространяются CancelJob, RescheduleJob и уведомления
// о смене лидера.
//
// Конверт сообщения:
//
//	{"id": 1, "data": {"id": 42}}
//
// id — небольшое целое число, под которым тип сообщения зарегистрирован
// в Registry. Имена типов между узлами не передаются.
//
// Реестр заполняется один раз при старте, затем замораживается (Freeze).
// После заморозки он только читается, поэтому доступ из consumer'ов
// не требует блокировок:
//
//	reg := broadcast.NewRegistry(logger)
//	broadcast.Register(reg, broadcast.MsgCancelJob, "CancelJob",
//		func(ctx context.Context, m broadcast.CancelJob) error { ... })
//	reg.Freeze()
//
//	// в consumer'е
//	reg.Dispatch(ctx, env)
package broadcast
