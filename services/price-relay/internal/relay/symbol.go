package relay

import (
	"errors"
	"strings"
)

// Symbol — нормализованный (lowercase) идентификатор инструмента, например "btcusdt".
type Symbol string

var (
	ErrEmptySymbol   = errors.New("symbol is empty")
	ErrInvalidSymbol = errors.New("symbol must contain only latin letters and digits")
)

const maxSymbolLen = 32

// NormalizeSymbol приводит ввод клиента к ключу реестра.
func NormalizeSymbol(raw string) (Symbol, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrEmptySymbol
	}
	if len(s) > maxSymbolLen {
		return "", ErrInvalidSymbol
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "", ErrInvalidSymbol
		}
	}
	return Symbol(s), nil
}

// TradeStream — имя trade-стрима апстрима для символа.
func (s Symbol) TradeStream() string { return string(s) + "@trade" }

func (s Symbol) normalized() Symbol {
	return Symbol(strings.ToLower(strings.TrimSpace(string(s))))
}
