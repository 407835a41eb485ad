package domain

import "github.com/shopspring/decimal"

// SizingStep registra un paso del algoritmo de sizing para auditoría.
type SizingStep struct {
	Name    string
	Before  decimal.Decimal
	After   decimal.Decimal
	Changed bool
	Reason  string
}

// SizingDecision es el resultado puro del Risk & Sizing Engine.
type SizingDecision struct {
	Book       Book
	Symbol     string
	Confidence float64
	Amount     decimal.Decimal // capital a invertir
	Quantity   decimal.Decimal // Amount / price, truncado
	Fraction   float64         // fracción Kelly aplicada (tras escala y clamp)
	Approved   bool
	Reason     string // motivo del rechazo si !Approved
	Steps      []SizingStep
}
