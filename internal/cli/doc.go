// Package cli реализует инструмент командной строки Quorum.
//
// CLI работает с admin API узла по HTTP и не импортирует внутренние
// пакеты системы. Любой узел кластера принимает команды: отмена и
// перенос рассылаются всем узлам.
//
// # Client
//
//	client := cli.NewClient("http://localhost:8080")
//	status, err := client.ClusterStatus()
//
// # Output
//
// Таблицы (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные выводятся в stdout, сообщения (Success/Error) в stderr:
// quorum cluster status --json | jq .leader
//
// # Commands
//
//   - job: schedule, show, cancel, reschedule
//   - cluster: status
//
// Группы создаются фабриками (NewJobCmd, NewClusterCmd), принимающими
// clientFn и outputFn: Client и Output создаются после разбора
// PersistentFlags.
package cli
