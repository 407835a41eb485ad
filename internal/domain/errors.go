package domain

import (
	"errors"
	"fmt"
)

// RejectReason es el motivo por el que se rechazó una operación concreta.
// Un rechazo no es un fallo: no hay cambio de estado y el ciclo sigue.
type RejectReason string

const (
	ReasonInvalidInput         RejectReason = "InvalidInput"
	ReasonCapitalInsufficient  RejectReason = "CapitalInsufficient"
	ReasonPositionLimitReached RejectReason = "PositionLimitReached"
	ReasonPositionExists       RejectReason = "PositionExists"
	ReasonPositionNotFound     RejectReason = "PositionNotFound"
	ReasonManualPosition       RejectReason = "ManualPosition"
	ReasonGuardRejected        RejectReason = "GuardRejected"
	ReasonDrawdownHalt         RejectReason = "DrawdownHalt"
	ReasonBelowMinimumSize     RejectReason = "BelowMinimumSize"
	ReasonConcurrencyConflict  RejectReason = "ConcurrencyConflict"
	ReasonShortFilter          RejectReason = "ShortFilter"
)

// Rejection es el error devuelto para el brazo Rejected(reason).
type Rejection struct {
	Reason RejectReason
	Detail string
}

// Reject construye un *Rejection con detalle formateado.
func Reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
}

// Is permite errors.Is(err, domain.ErrPositionLimitReached) comparando solo el motivo.
func (r *Rejection) Is(target error) bool {
	var t *Rejection
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == r.Reason
}

// Sentinels para errors.Is.
var (
	ErrInvalidInput         = &Rejection{Reason: ReasonInvalidInput}
	ErrCapitalInsufficient  = &Rejection{Reason: ReasonCapitalInsufficient}
	ErrPositionLimitReached = &Rejection{Reason: ReasonPositionLimitReached}
	ErrPositionExists       = &Rejection{Reason: ReasonPositionExists}
	ErrPositionNotFound     = &Rejection{Reason: ReasonPositionNotFound}
	ErrManualPosition       = &Rejection{Reason: ReasonManualPosition}
	ErrGuardRejected        = &Rejection{Reason: ReasonGuardRejected}
	ErrDrawdownHalt         = &Rejection{Reason: ReasonDrawdownHalt}
	ErrBelowMinimumSize     = &Rejection{Reason: ReasonBelowMinimumSize}
	ErrConcurrencyConflict  = &Rejection{Reason: ReasonConcurrencyConflict}
)

// Fallos (brazo Failed(kind)).
var (
	// ErrDataUnavailable: no se pudo obtener el snapshot de un símbolo. Se salta ese símbolo.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrPersistence: fallo del almacenamiento. El estado en memoria sigue siendo la verdad.
	ErrPersistence = errors.New("persistence failure")
	// ErrFatal: estado persistido corrupto al arrancar. No se debe operar.
	ErrFatal = errors.New("fatal")
	// ErrNotFound: el almacenamiento o la cache no tienen la clave.
	ErrNotFound = errors.New("not found")
)

// IsRejection indica si err es un rechazo (skip) y no un fallo.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// RejectionReason extrae el motivo del rechazo, o "" si err no es un rechazo.
func RejectionReason(err error) RejectReason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}
