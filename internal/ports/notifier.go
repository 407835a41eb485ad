package ports

import "context"

// Tipos de evento de notificación.
const (
	EventPositionOpened     = "position_opened"
	EventPositionClosed     = "position_closed"
	EventPersistenceFailure = "persistence_failure"
	EventDrawdownHalt       = "drawdown_halt"
	EventCycleSummary       = "cycle_summary"
)

// Notifier avisa al operador de eventos del engine.
// El engine lo usa fire-and-forget: un fallo nunca afecta al ciclo.
type Notifier interface {
	Notify(ctx context.Context, event, symbol, message string) error
}
