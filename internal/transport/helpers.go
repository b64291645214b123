package transport

import (
	"errors"
	"io"
	"log"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
)

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrCommon500):
		return 500
	case errors.Is(err, model.ErrConflict):
		return 409
	case errors.Is(err, model.ErrJobNotFound),
		errors.Is(err, model.ErrAttemptNotFound),
		errors.Is(err, model.ErrResultNotReady):
		return 404
	case errors.Is(err, model.ErrIncorrectID),
		errors.Is(err, model.ErrIncorrectKind),
		errors.Is(err, model.ErrIncorrectParams),
		errors.Is(err, model.ErrEmptySource),
		errors.Is(err, model.ErrSourceNotReady),
		errors.Is(err, model.ErrUnsupportedFormat):
		return 400
	default:
		return 500
	}
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		log.Println("Handler failed to close fileflow:", err)
	}
}
