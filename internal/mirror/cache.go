package mirror

import (
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/quantfold/driftcore/internal/drift"
	"github.com/quantfold/driftcore/internal/driftidl"
	"github.com/quantfold/driftcore/internal/solrpc"
)

// DecodedAccount couples the raw envelope with its typed record and identity
// hash. Values handed out by the cache are snapshots.
type DecodedAccount struct {
	Account *solrpc.Account
	Record  Record
	Hash    uint64
}

// Cache is the unified indexed view over markets, users, and oracles. One
// lock covers all indices so they move atomically. Entries are overwritten,
// never removed; a key's slot only moves forward.
type Cache struct {
	mu            sync.RWMutex
	byKey         map[solana.PublicKey]*DecodedAccount
	byPerpIndex   map[uint16]solana.PublicKey
	bySpotIndex   map[uint16]solana.PublicKey
	oracleSources map[solana.PublicKey]driftidl.OracleSource
	waiters       map[solana.PublicKey][]chan struct{}
	latestSlot    uint64

	decoder *Decoder
	logger  *slog.Logger

	// OnOracleDiscovered, when set, observes oracle keys the first time a
	// market record names them. Set before updates start flowing; invoked
	// outside the cache lock.
	OnOracleDiscovered func(keys []solana.PublicKey)
}

func NewCache(logger *slog.Logger) *Cache {
	return &Cache{
		byKey:         make(map[solana.PublicKey]*DecodedAccount),
		byPerpIndex:   make(map[uint16]solana.PublicKey),
		bySpotIndex:   make(map[uint16]solana.PublicKey),
		oracleSources: make(map[solana.PublicKey]driftidl.OracleSource),
		waiters:       make(map[solana.PublicKey][]chan struct{}),
		decoder:       NewDecoder(),
		logger:        logger,
	}
}

// Apply folds one account observation into the cache. Stale slots are
// dropped, decode failures are logged and dropped without touching the
// existing entry. Returns true when the entry was committed.
func (c *Cache) Apply(account *solrpc.Account) bool {
	if account == nil {
		return false
	}
	committed, discovered := c.applyLocked(account)
	if len(discovered) > 0 && c.OnOracleDiscovered != nil {
		c.OnOracleDiscovered(discovered)
	}
	return committed
}

func (c *Cache) applyLocked(account *solrpc.Account) (bool, []solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prior, ok := c.byKey[account.Key]; ok && prior.Account.Slot > account.Slot {
		return false, nil
	}

	record, err := c.decodeLocked(account)
	if err != nil {
		c.logger.Warn("dropping undecodable account update",
			"key", account.Key, "slot", account.Slot, "error", err)
		return false, nil
	}

	c.byKey[account.Key] = &DecodedAccount{
		Account: account,
		Record:  record,
		Hash:    account.Hash(),
	}

	var discovered []solana.PublicKey
	switch record.Kind {
	case KindPerpMarket:
		c.byPerpIndex[record.PerpMarket.MarketIndex] = account.Key
		if c.registerOracleLocked(record.PerpMarket.Amm.Oracle, record.PerpMarket.Amm.OracleSource) {
			discovered = append(discovered, record.PerpMarket.Amm.Oracle)
		}
	case KindSpotMarket:
		c.bySpotIndex[record.SpotMarket.MarketIndex] = account.Key
		if c.registerOracleLocked(record.SpotMarket.Oracle, record.SpotMarket.OracleSource) {
			discovered = append(discovered, record.SpotMarket.Oracle)
		}
	}

	if account.Slot > c.latestSlot {
		c.latestSlot = account.Slot
	}

	for _, waiter := range c.waiters[account.Key] {
		close(waiter)
	}
	delete(c.waiters, account.Key)
	return true, discovered
}

func (c *Cache) decodeLocked(account *solrpc.Account) (Record, error) {
	if source, ok := c.oracleSources[account.Key]; ok {
		price, err := drift.ParseOraclePrice(source, account.Data)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindOracle, Oracle: price}, nil
	}
	return c.decoder.Decode(account.Data)
}

// registerOracleLocked records the oracle binding and reports whether the
// key is newly seen.
func (c *Cache) registerOracleLocked(key solana.PublicKey, source driftidl.OracleSource) bool {
	if key.IsZero() {
		return false
	}
	_, known := c.oracleSources[key]
	c.oracleSources[key] = source
	return !known
}

// Get returns a snapshot of the entry for key.
func (c *Cache) Get(key solana.PublicKey) (DecodedAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byKey[key]
	if !ok {
		return DecodedAccount{}, false
	}
	return *entry, true
}

// PerpMarketByIndex returns a copy of the perp market record at index.
func (c *Cache) PerpMarketByIndex(index uint16) (*driftidl.PerpMarket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byPerpIndex[index]
	if !ok {
		return nil, false
	}
	entry, ok := c.byKey[key]
	if !ok || entry.Record.Kind != KindPerpMarket {
		return nil, false
	}
	clone := *entry.Record.PerpMarket
	return &clone, true
}

// SpotMarketByIndex returns a copy of the spot market record at index.
func (c *Cache) SpotMarketByIndex(index uint16) (*driftidl.SpotMarket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.bySpotIndex[index]
	if !ok {
		return nil, false
	}
	entry, ok := c.byKey[key]
	if !ok || entry.Record.Kind != KindSpotMarket {
		return nil, false
	}
	clone := *entry.Record.SpotMarket
	return &clone, true
}

// User returns a copy of the user record at key.
func (c *Cache) User(key solana.PublicKey) (*driftidl.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byKey[key]
	if !ok || entry.Record.Kind != KindUser {
		return nil, false
	}
	clone := *entry.Record.User
	return &clone, true
}

// OraclePrice returns the latest decoded observation for an oracle key.
func (c *Cache) OraclePrice(key solana.PublicKey) (*drift.OraclePriceData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byKey[key]
	if !ok || entry.Record.Kind != KindOracle {
		return nil, false
	}
	clone := *entry.Record.Oracle
	return &clone, true
}

// MarketInfo joins the cached perp market at perpIndex with its quote spot
// market and both oracle observations.
func (c *Cache) MarketInfo(perpIndex uint16) (drift.MarketInfo, bool) {
	perp, ok := c.PerpMarketByIndex(perpIndex)
	if !ok {
		return drift.MarketInfo{}, false
	}
	spot, ok := c.SpotMarketByIndex(perp.QuoteSpotMarketIndex)
	if !ok {
		return drift.MarketInfo{}, false
	}
	perpPrice, _ := c.OraclePrice(perp.Amm.Oracle)
	spotPrice, _ := c.OraclePrice(spot.Oracle)
	return drift.NewMarketInfo(perp, spot, perpPrice, spotPrice), true
}

// PerpMarketIndexes lists the perp indices currently cached, unordered.
func (c *Cache) PerpMarketIndexes() []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint16, 0, len(c.byPerpIndex))
	for index := range c.byPerpIndex {
		out = append(out, index)
	}
	return out
}

// OracleKeys lists every oracle key learned from cached market records.
func (c *Cache) OracleKeys() []solana.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]solana.PublicKey, 0, len(c.oracleSources))
	for key := range c.oracleSources {
		out = append(out, key)
	}
	return out
}

// LatestSlot is the highest slot observed across all committed updates.
func (c *Cache) LatestSlot() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestSlot
}

// ObserveSlot folds in a slot heard from the stream's slot subscription.
func (c *Cache) ObserveSlot(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot > c.latestSlot {
		c.latestSlot = slot
	}
}

// Waiter returns a channel closed by the next committed update for key.
func (c *Cache) Waiter(key solana.PublicKey) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.waiters[key] = append(c.waiters[key], ch)
	return ch
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}
