package relay

import "sort"

// ClientID — идентификатор подключённого клиента.
type ClientID string

// Upstream получает переходы символа ABSENT→ACTIVE и ACTIVE→ABSENT.
type Upstream interface {
	Subscribe(symbol Symbol)
	Unsubscribe(symbol Symbol)
}

// Registry хранит подписки symbol → clients и обратный индекс client → symbols.
//
// Registry не потокобезопасен: им владеет единственная goroutine Hub.Run.
// Символ является ключом тогда и только тогда, когда у него есть подписчик.
type Registry struct {
	upstream Upstream
	symbols  map[Symbol]map[ClientID]struct{}
	clients  map[ClientID]map[Symbol]struct{}
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(up Upstream) *Registry {
	return &Registry{
		upstream: up,
		symbols:  make(map[Symbol]map[ClientID]struct{}),
		clients:  make(map[ClientID]map[Symbol]struct{}),
	}
}

// Subscribe добавляет клиента к символу. Первый подписчик вызывает
// Upstream.Subscribe. Возвращает false, если подписка уже была.
func (r *Registry) Subscribe(id ClientID, symbol Symbol) bool {
	symbol = symbol.normalized()
	subs, ok := r.symbols[symbol]
	if !ok {
		subs = make(map[ClientID]struct{})
		r.symbols[symbol] = subs
		r.upstream.Subscribe(symbol)
	}
	if _, dup := subs[id]; dup {
		return false
	}
	subs[id] = struct{}{}

	own, ok := r.clients[id]
	if !ok {
		own = make(map[Symbol]struct{})
		r.clients[id] = own
	}
	own[symbol] = struct{}{}
	return true
}

// Unsubscribe убирает клиента из символа. Последний подписчик вызывает
// Upstream.Unsubscribe. Возвращает false, если подписки не было.
func (r *Registry) Unsubscribe(id ClientID, symbol Symbol) bool {
	symbol = symbol.normalized()
	subs, ok := r.symbols[symbol]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	r.detach(id, symbol, subs)
	return true
}

// RemoveClient снимает все подписки клиента и возвращает символы,
// ставшие неактивными.
func (r *Registry) RemoveClient(id ClientID) []Symbol {
	own, ok := r.clients[id]
	if !ok {
		return nil
	}
	var emptied []Symbol
	for _, symbol := range sortedSymbols(own) {
		subs := r.symbols[symbol]
		if r.detach(id, symbol, subs) {
			emptied = append(emptied, symbol)
		}
	}
	return emptied
}

// detach удаляет пару (id, symbol) из обоих индексов; true — символ стал ABSENT.
func (r *Registry) detach(id ClientID, symbol Symbol, subs map[ClientID]struct{}) bool {
	delete(subs, id)
	if own, ok := r.clients[id]; ok {
		delete(own, symbol)
		if len(own) == 0 {
			delete(r.clients, id)
		}
	}
	if len(subs) > 0 {
		return false
	}
	delete(r.symbols, symbol)
	r.upstream.Unsubscribe(symbol)
	return true
}

// ActiveSymbols возвращает отсортированные символы клиента.
func (r *Registry) ActiveSymbols(id ClientID) []Symbol {
	return sortedSymbols(r.clients[id])
}

// IsSubscribed сообщает, подписан ли клиент на символ.
func (r *Registry) IsSubscribed(id ClientID, symbol Symbol) bool {
	_, ok := r.symbols[symbol.normalized()][id]
	return ok
}

// Subscribers возвращает копию множества подписчиков символа.
func (r *Registry) Subscribers(symbol Symbol) []ClientID {
	subs := r.symbols[symbol.normalized()]
	out := make([]ClientID, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Symbols возвращает все активные символы (ключи реестра).
func (r *Registry) Symbols() []Symbol {
	out := make([]Symbol, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len — число активных символов.
func (r *Registry) Len() int { return len(r.symbols) }

// Clients — число клиентов хотя бы с одной подпиской.
func (r *Registry) Clients() int { return len(r.clients) }

// forEachSubscriber обходит подписчиков без копирования (только для Hub).
func (r *Registry) forEachSubscriber(symbol Symbol, fn func(ClientID)) {
	for id := range r.symbols[symbol] {
		fn(id)
	}
}

func sortedSymbols(set map[Symbol]struct{}) []Symbol {
	out := make([]Symbol, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
