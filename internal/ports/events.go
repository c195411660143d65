package ports

import (
	"github.com/eleven-am/conduit/internal/domain"
)

// EventSink receives every engine state transition. Emit must not block
// for long; slow consumers should buffer.
type EventSink interface {
	Emit(event domain.Event)
}

type EventHandler func(event domain.Event)

type EventManager interface {
	EventSink
	Subscribe(pattern string, handler EventHandler) (string, func())
	AddSink(sink EventSink)
	Recent(limit int) []domain.Event
}
