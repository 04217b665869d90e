// Package kinds содержит встроенные kinds задач Quorum.
//
//   - log: LogJob пишет сообщение в лог узла, выполнившего задачу.
//   - webhook: WebhookJob выполняет HTTP-запрос; ответ не 2xx считается
//     ошибкой выполнения.
//
// Регистрация выполняется до заморозки реестра:
//
//	reg := jobs.NewRegistry()
//	if err := kinds.Register(reg, kinds.Config{Logger: logger}); err != nil {
//	    return err
//	}
//	reg.Freeze()
//
// Задачи выполняются не более одного раза, повторов нет. Получатель
// webhook может дедуплицировать запросы по заголовку X-Quorum-Job-ID;
// X-Quorum-Redelivered: true означает, что задача могла уже выполняться
// на другом узле.
package kinds
