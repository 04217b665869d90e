package kinds

import (
	"log/slog"
	"net/http"

	"github.com/shaiso/Quorum/internal/jobs"
)

// Config — зависимости встроенных kinds.
type Config struct {
	// Client — HTTP-клиент для webhook. По умолчанию &http.Client{}.
	Client *http.Client

	// Logger используется, если в контексте задачи нет логгера.
	Logger *slog.Logger
}

// Register регистрирует log и webhook в реестре.
func Register(reg *jobs.Registry, cfg Config) error {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := jobs.Register(reg, logHandler(cfg.Logger)); err != nil {
		return err
	}
	w := &webhook{client: cfg.Client}
	return jobs.Register(reg, w.handle)
}
