// Package jobs реализует распределённый планировщик отложенных задач.
//
// Жизненный цикл задачи:
//
//	Schedule ──► строка в Store + анонс в очередь queue_<name>
//	               │
//	               ▼
//	         узел-получатель держит анонс без ack
//	         и взводит таймер на run_at (waiting entry)
//	               │
//	   ┌───────────┼─────────────────────┐
//	   ▼           ▼                     ▼
//	 Cancel     Reschedule            таймер сработал
//	 (stop+ack)  (CAS на новую запись)  (CompareAndDelete ─► выполнение ─► ack + delete)
//
// Все изменения карты ожидающих задач — одиночные атомарные операции
// sync.Map. Гонка таймера и отмены разрешается однозначно: кто первым
// удалил запись, тот и владеет анонсом.
//
// Cancel и Reschedule с broadcast=true рассылают CancelJob/RescheduleJob
// всем узлам; узел, держащий задачу, применяет их локально.
//
// Гарантия — at-most-once при штатной работе. Если узел падает до ack,
// брокер выдаёт анонс повторно, и задача может выполниться дважды;
// Execution.Redelivered позволяет обработчику это обнаружить.
package jobs
