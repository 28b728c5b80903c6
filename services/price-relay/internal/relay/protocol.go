package relay

import (
	"encoding/json"
	"fmt"
)

// Типы сообщений клиентского протокола.
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypeGetSubscriptions = "get_subscriptions"

	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeSubscriptions = "subscriptions"
	TypeCryptoUpdate  = "crypto_update"
	TypeError         = "error"
	TypeConnected     = "connected"
)

// Тексты ошибок, которые видит клиент.
const (
	ErrMsgInvalidFormat  = "Invalid message format"
	ErrMsgSymbolRequired = "Symbol is required"
	ErrMsgRateLimited    = "Rate limit exceeded"
)

// ClientMessage — входящий кадр от браузера.
type ClientMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// Tick — одна сделка апстрима в том виде, в котором она уходит клиентам.
type Tick struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	Timestamp  int64   `json:"timestamp"` // trade time, Unix ms
	BuyerMaker bool    `json:"buyerMaker"`
}

// Key — ключ реестра, по которому ищутся подписчики.
func (t Tick) Key() Symbol { return Symbol(t.Symbol).normalized() }

type symbolFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type subscriptionsFrame struct {
	Type    string   `json:"type"`
	Symbols []Symbol `json:"symbols"`
}

type messageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type updateFrame struct {
	Type string `json:"type"`
	Data Tick   `json:"data"`
}

func mustEncode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// кадры состоят только из строк, чисел и bool
		panic(fmt.Sprintf("relay: encode frame: %v", err))
	}
	return b
}

// SubscribedFrame подтверждает подписку, повторяя символ в написании клиента.
func SubscribedFrame(symbol string) []byte {
	return mustEncode(symbolFrame{Type: TypeSubscribed, Symbol: symbol})
}

// UnsubscribedFrame подтверждает отписку.
func UnsubscribedFrame(symbol string) []byte {
	return mustEncode(symbolFrame{Type: TypeUnsubscribed, Symbol: symbol})
}

// SubscriptionsFrame перечисляет активные символы; пустой список кодируется как [].
func SubscriptionsFrame(symbols []Symbol) []byte {
	if symbols == nil {
		symbols = []Symbol{}
	}
	return mustEncode(subscriptionsFrame{Type: TypeSubscriptions, Symbols: symbols})
}

// ErrorFrame сообщает клиенту об ошибке без закрытия соединения.
func ErrorFrame(message string) []byte {
	return mustEncode(messageFrame{Type: TypeError, Message: message})
}

// ConnectedFrame — приветствие после успешной аутентификации.
func ConnectedFrame(message string) []byte {
	return mustEncode(messageFrame{Type: TypeConnected, Message: message})
}

// UpdateFrame кодирует тик в crypto_update.
func UpdateFrame(t Tick) ([]byte, error) {
	return json.Marshal(updateFrame{Type: TypeCryptoUpdate, Data: t})
}
