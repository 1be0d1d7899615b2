package drift

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/quantfold/driftcore/internal/driftidl"
)

// MarketSource is the cached market view the resolver consults first. The
// account cache implements it.
type MarketSource interface {
	PerpMarketByIndex(index uint16) (*driftidl.PerpMarket, bool)
	SpotMarketByIndex(index uint16) (*driftidl.SpotMarket, bool)
}

// MarketFetcher resolves markets missing from the cache with a synchronous
// chain read.
type MarketFetcher interface {
	FetchPerpMarket(ctx context.Context, index uint16) (*driftidl.PerpMarket, error)
	FetchSpotMarket(ctx context.Context, index uint16) (*driftidl.SpotMarket, error)
}

// RemainingAccountsParams selects the markets an instruction will touch.
// User positions contribute their markets as readable; the explicit lists
// are merged on top, writable dominating.
type RemainingAccountsParams struct {
	UserAccounts        []*driftidl.User
	ReadablePerpMarkets []uint16
	WritablePerpMarkets []uint16
	ReadableSpotMarkets []uint16
	WritableSpotMarkets []uint16
	// UseLastSlotCache trusts the cache as-is; when false, markets absent
	// from the cache are fetched synchronously.
	UseLastSlotCache bool
}

// ResolveRemainingAccounts computes the ordered account list the program
// requires beyond an instruction's fixed accounts: oracles first (sorted by
// pubkey), then perp markets ascending by index, then spot markets ascending
// by index. Oracles are always readable; a market is writable when any input
// marked it writable.
func ResolveRemainingAccounts(ctx context.Context, source MarketSource, fetcher MarketFetcher, params RemainingAccountsParams) ([]*solana.AccountMeta, error) {
	perpWritable := make(map[uint16]bool)
	spotWritable := make(map[uint16]bool)

	markReadable := func(set map[uint16]bool, index uint16) {
		if _, ok := set[index]; !ok {
			set[index] = false
		}
	}

	for _, user := range params.UserAccounts {
		for _, position := range user.PerpPositions {
			if PerpPositionOpen(position) {
				markReadable(perpWritable, position.MarketIndex)
			}
		}
		for _, position := range user.SpotPositions {
			if SpotPositionOpen(position) {
				markReadable(spotWritable, position.MarketIndex)
			}
		}
	}
	for _, index := range params.ReadablePerpMarkets {
		markReadable(perpWritable, index)
	}
	for _, index := range params.ReadableSpotMarkets {
		markReadable(spotWritable, index)
	}
	for _, index := range params.WritablePerpMarkets {
		perpWritable[index] = true
	}
	for _, index := range params.WritableSpotMarkets {
		spotWritable[index] = true
	}

	type marketEntry struct {
		key      solana.PublicKey
		oracle   solana.PublicKey
		index    uint16
		writable bool
	}

	perps := make([]marketEntry, 0, len(perpWritable))
	for index, writable := range perpWritable {
		market, err := perpMarket(ctx, source, fetcher, index, params.UseLastSlotCache)
		if err != nil {
			return nil, err
		}
		perps = append(perps, marketEntry{
			key:      market.Pubkey,
			oracle:   market.Amm.Oracle,
			index:    index,
			writable: writable,
		})
	}
	spots := make([]marketEntry, 0, len(spotWritable))
	for index, writable := range spotWritable {
		market, err := spotMarket(ctx, source, fetcher, index, params.UseLastSlotCache)
		if err != nil {
			return nil, err
		}
		spots = append(spots, marketEntry{
			key:      market.Pubkey,
			oracle:   market.Oracle,
			index:    index,
			writable: writable,
		})
	}

	sort.Slice(perps, func(i, j int) bool { return perps[i].index < perps[j].index })
	sort.Slice(spots, func(i, j int) bool { return spots[i].index < spots[j].index })

	seenOracles := make(map[solana.PublicKey]struct{})
	oracles := make([]solana.PublicKey, 0, len(perps)+len(spots))
	addOracle := func(key solana.PublicKey) {
		if key.IsZero() {
			return
		}
		if _, ok := seenOracles[key]; ok {
			return
		}
		seenOracles[key] = struct{}{}
		oracles = append(oracles, key)
	}
	for _, entry := range perps {
		addOracle(entry.oracle)
	}
	for _, entry := range spots {
		addOracle(entry.oracle)
	}
	sort.Slice(oracles, func(i, j int) bool {
		return oracles[i].String() < oracles[j].String()
	})

	metas := make([]*solana.AccountMeta, 0, len(oracles)+len(perps)+len(spots))
	for _, key := range oracles {
		metas = append(metas, solana.Meta(key))
	}
	for _, entry := range perps {
		meta := solana.Meta(entry.key)
		if entry.writable {
			meta = meta.WRITE()
		}
		metas = append(metas, meta)
	}
	for _, entry := range spots {
		meta := solana.Meta(entry.key)
		if entry.writable {
			meta = meta.WRITE()
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func perpMarket(ctx context.Context, source MarketSource, fetcher MarketFetcher, index uint16, cacheOnly bool) (*driftidl.PerpMarket, error) {
	if market, ok := source.PerpMarketByIndex(index); ok {
		return market, nil
	}
	if cacheOnly || fetcher == nil {
		return nil, fmt.Errorf("perp market %d not in cache", index)
	}
	market, err := fetcher.FetchPerpMarket(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("fetch perp market %d: %w", index, err)
	}
	return market, nil
}

func spotMarket(ctx context.Context, source MarketSource, fetcher MarketFetcher, index uint16, cacheOnly bool) (*driftidl.SpotMarket, error) {
	if market, ok := source.SpotMarketByIndex(index); ok {
		return market, nil
	}
	if cacheOnly || fetcher == nil {
		return nil, fmt.Errorf("spot market %d not in cache", index)
	}
	market, err := fetcher.FetchSpotMarket(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("fetch spot market %d: %w", index, err)
	}
	return market, nil
}
