package domain

import "fmt"

// Book identifica un sub-portfolio con capital y límites propios.
type Book string

const (
	BookEquity Book = "EQUITY"
	BookCrypto Book = "CRYPTO"
)

// Books devuelve los dos books en orden estable (equity primero).
func Books() []Book { return []Book{BookEquity, BookCrypto} }

// ParseBook acepta el nombre del book sin distinguir mayúsculas.
func ParseBook(s string) (Book, error) {
	switch s {
	case "EQUITY", "equity", "stock", "stocks":
		return BookEquity, nil
	case "CRYPTO", "crypto":
		return BookCrypto, nil
	}
	return "", fmt.Errorf("domain.ParseBook: unknown book %q", s)
}

// Side indica la dirección de la exposición.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ParseSide acepta LONG/SHORT en cualquier capitalización.
func ParseSide(s string) (Side, error) {
	switch s {
	case "LONG", "long", "buy", "BUY":
		return SideLong, nil
	case "SHORT", "short", "sell", "SELL":
		return SideShort, nil
	}
	return "", fmt.Errorf("domain.ParseSide: unknown side %q", s)
}

// Source distingue posiciones abiertas por el ciclo automático de las del operador.
type Source string

const (
	SourceAutomated Source = "AUTOMATED"
	SourceManual    Source = "MANUAL"
)
