package monitor

import (
	"errors"

	"github.com/hazyhaar/argus/monitor/internal/orchestrator"
)

// ErrInvalidInput is returned when a watch request fails validation.
var ErrInvalidInput = errors.New("monitor: invalid input")

// ErrNotFound is returned when cancelling a watch that does not exist.
var ErrNotFound = errors.New("monitor: watch not found")

// ErrConflict is returned when the client already watches the document.
var ErrConflict = orchestrator.ErrConflict
