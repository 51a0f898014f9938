package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a sub-logger of the global logger tagged with the
// owning component, e.g. "session" or "transport".
func ComponentLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
