package logging

import (
	"go.uber.org/zap"
)

// New builds the process-wide zap logger. Local and development
// environments get the human-readable console encoder; everything else logs
// JSON at info level.
func New(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
