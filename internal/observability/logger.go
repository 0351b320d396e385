package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/w1ctl/internal/logging"
)

// InitLogger installs cfg as the global logger and tags every event with app.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	logger := logging.Apply(cfg).With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
