package usecase

import "github.com/rs/zerolog"

func componentLogger(logger *zerolog.Logger, component string) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	l := logger.With().Str("component", component).Logger()
	return &l
}
