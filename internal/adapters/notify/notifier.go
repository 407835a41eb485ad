// Package notify reparte los eventos del engine entre varios canales (consola,
// Telegram) y pinta los reportes de consola.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender es un canal de notificación.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier implementa ports.Notifier repartiendo a todos los senders.
// Solo pasan los eventos de la lista configurada; lista vacía deja pasar todo.
type Notifier struct {
	senders []Sender
	events  map[string]bool
}

// NewNotifier crea el notifier con los senders y el filtro de eventos dados.
func NewNotifier(senders []Sender, events []string) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{senders: senders, events: allowed}
}

// Notify envía el evento a todos los senders. Un sender que falla no impide
// la entrega al resto; los errores se devuelven agregados.
func (n *Notifier) Notify(ctx context.Context, event, symbol, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		slog.Debug("notify: event filtered out", "event", event, "symbol", symbol)
		return nil
	}

	title := event
	if symbol != "" {
		title = fmt.Sprintf("%s %s", event, symbol)
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			slog.Warn("notify: sender failed", "sender", s.Name(), "event", event, "err", err)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
