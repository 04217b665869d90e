// Package election реализует выбор лидера среди узлов кластера
// через общую запись lease в хранилище координации.
//
// Узел-лидер периодически продлевает lease (RenewTime). Остальные узлы
// ждут истечения lease и перехватывают его, увеличивая Transitions.
// Все записи идут через compare-and-swap по ResourceVersion, поэтому
// из двух узлов, одновременно увидевших истёкший lease, побеждает один.
//
// Лидер, не сумевший продлить lease, сам снимает с себя лидерство за
// ClockSkewTolerance до истечения, чтобы не пересечься с новым лидером.
//
// События (OnStartLeading, OnStoppedLeading, OnNewLeader) доставляются
// по порядку отдельной горутиной: callbacks одного события выполняются
// параллельно, следующее событие ждёт их завершения.
//
// Реализации LeaseStore: repo.LeaseRepo (PostgreSQL),
// redisstore.LeaseStore (Redis), fakestore.LeaseStore (память).
package election
