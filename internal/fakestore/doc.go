// Package fakestore содержит реализации хранилищ и шины в памяти.
//
// Используются в тестах election, jobs, recurring и api, а также
// узлом quorum-node при LEASE_BACKEND=memory для локальной разработки
// одного узла.
//
//   - LeaseStore — общая запись lease; каждый узел получает свой
//     LeaseClient, у которого можно включить отказ хранилища.
//   - JobStore — строки задач.
//   - Bus — брокер: очереди с одним получателем на сообщение,
//     ручным ack и повторной доставкой при падении узла, плюс fan-out.
package fakestore
