package cache

import (
	"strings"
	"sync"

	"marketmux/models"
)

// Arbitrator tracks which exchanges currently report each canonical symbol.
// A symbol is publishable only while at least two exchanges report it;
// single-venue listings are suppressed as noise. Membership is recorded
// incrementally on every cache write and rebuilt wholesale on the sweep
// interval so it self-heals after one-sided eviction.
type Arbitrator struct {
	mu       sync.RWMutex
	bySymbol map[string]map[string]struct{}
}

func NewArbitrator() *Arbitrator {
	return &Arbitrator{bySymbol: make(map[string]map[string]struct{})}
}

// Observe records that exchange is currently reporting symbol.
func (a *Arbitrator) Observe(symbol, exchange string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observeLocked(symbol, exchange)
}

func (a *Arbitrator) observeLocked(symbol, exchange string) {
	set, ok := a.bySymbol[symbol]
	if !ok {
		set = make(map[string]struct{}, 2)
		a.bySymbol[symbol] = set
	}
	set[strings.ToLower(exchange)] = struct{}{}
}

// Publishable reports whether symbol is seen on two or more exchanges.
func (a *Arbitrator) Publishable(symbol string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.bySymbol[symbol]) >= 2
}

// Exchanges returns how many exchanges report symbol.
func (a *Arbitrator) Exchanges(symbol string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.bySymbol[symbol])
}

// Rebuild replaces the membership sets from the current contents of both
// cache stores.
func (a *Arbitrator) Rebuild(prices, books []models.MarketTick) {
	fresh := make(map[string]map[string]struct{})
	record := func(t models.MarketTick) {
		set, ok := fresh[t.Symbol]
		if !ok {
			set = make(map[string]struct{}, 2)
			fresh[t.Symbol] = set
		}
		set[strings.ToLower(t.Exchange)] = struct{}{}
	}
	for _, t := range prices {
		record(t)
	}
	for _, t := range books {
		record(t)
	}

	a.mu.Lock()
	a.bySymbol = fresh
	a.mu.Unlock()
}
