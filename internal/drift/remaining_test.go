package drift

import (
	"context"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/quantfold/driftcore/internal/driftidl"
)

type fakeMarketSource struct {
	perps map[uint16]*driftidl.PerpMarket
	spots map[uint16]*driftidl.SpotMarket
}

func (f *fakeMarketSource) PerpMarketByIndex(index uint16) (*driftidl.PerpMarket, bool) {
	m, ok := f.perps[index]
	return m, ok
}

func (f *fakeMarketSource) SpotMarketByIndex(index uint16) (*driftidl.SpotMarket, bool) {
	m, ok := f.spots[index]
	return m, ok
}

func newPerp(index uint16) *driftidl.PerpMarket {
	return &driftidl.PerpMarket{
		Pubkey:      solana.NewWallet().PublicKey(),
		Amm:         driftidl.Amm{Oracle: solana.NewWallet().PublicKey()},
		MarketIndex: index,
	}
}

func newSpot(index uint16) *driftidl.SpotMarket {
	return &driftidl.SpotMarket{
		Pubkey:      solana.NewWallet().PublicKey(),
		Oracle:      solana.NewWallet().PublicKey(),
		MarketIndex: index,
	}
}

func TestResolveRemainingAccountsOrdering(t *testing.T) {
	source := &fakeMarketSource{
		perps: map[uint16]*driftidl.PerpMarket{0: newPerp(0), 2: newPerp(2)},
		spots: map[uint16]*driftidl.SpotMarket{},
	}

	user := &driftidl.User{}
	user.PerpPositions[0] = driftidl.PerpPosition{MarketIndex: 2, BaseAssetAmount: 100}
	user.PerpPositions[1] = driftidl.PerpPosition{MarketIndex: 0, OpenOrders: 1}

	metas, err := ResolveRemainingAccounts(context.Background(), source, nil, RemainingAccountsParams{
		UserAccounts:        []*driftidl.User{user},
		WritablePerpMarkets: []uint16{0},
		UseLastSlotCache:    true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(metas) != 4 {
		t.Fatalf("metas = %d, want 4 (2 oracles + 2 markets)", len(metas))
	}

	oracle0 := source.perps[0].Amm.Oracle
	oracle2 := source.perps[2].Amm.Oracle
	wantFirst, wantSecond := oracle0, oracle2
	if strings.Compare(oracle2.String(), oracle0.String()) < 0 {
		wantFirst, wantSecond = oracle2, oracle0
	}
	if metas[0].PublicKey != wantFirst || metas[1].PublicKey != wantSecond {
		t.Errorf("oracle order = [%s %s], want [%s %s]",
			metas[0].PublicKey, metas[1].PublicKey, wantFirst, wantSecond)
	}
	if metas[0].IsWritable || metas[1].IsWritable {
		t.Error("oracles must be readable")
	}

	if metas[2].PublicKey != source.perps[0].Pubkey || !metas[2].IsWritable {
		t.Errorf("market 0 meta = %+v, want writable market 0", metas[2])
	}
	if metas[3].PublicKey != source.perps[2].Pubkey || metas[3].IsWritable {
		t.Errorf("market 2 meta = %+v, want readable market 2", metas[3])
	}

	seen := make(map[solana.PublicKey]int)
	for _, meta := range metas {
		seen[meta.PublicKey]++
	}
	for key, count := range seen {
		if count > 1 {
			t.Errorf("duplicate meta for %s", key)
		}
	}
}

func TestResolveRemainingAccountsSharedOracleDeduped(t *testing.T) {
	shared := solana.NewWallet().PublicKey()
	perp := newPerp(1)
	perp.Amm.Oracle = shared
	spot := newSpot(1)
	spot.Oracle = shared

	source := &fakeMarketSource{
		perps: map[uint16]*driftidl.PerpMarket{1: perp},
		spots: map[uint16]*driftidl.SpotMarket{1: spot},
	}

	metas, err := ResolveRemainingAccounts(context.Background(), source, nil, RemainingAccountsParams{
		ReadablePerpMarkets: []uint16{1},
		WritableSpotMarkets: []uint16{1},
		UseLastSlotCache:    true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("metas = %d, want 3 (shared oracle deduped)", len(metas))
	}
	if metas[0].PublicKey != shared {
		t.Errorf("first meta = %s, want shared oracle", metas[0].PublicKey)
	}
	// perps before spots
	if metas[1].PublicKey != perp.Pubkey || metas[1].IsWritable {
		t.Errorf("perp meta = %+v", metas[1])
	}
	if metas[2].PublicKey != spot.Pubkey || !metas[2].IsWritable {
		t.Errorf("spot meta = %+v", metas[2])
	}
}

func TestResolveRemainingAccountsWritableDominates(t *testing.T) {
	source := &fakeMarketSource{
		perps: map[uint16]*driftidl.PerpMarket{3: newPerp(3)},
		spots: map[uint16]*driftidl.SpotMarket{},
	}
	user := &driftidl.User{}
	user.PerpPositions[0] = driftidl.PerpPosition{MarketIndex: 3, BaseAssetAmount: -5}

	metas, err := ResolveRemainingAccounts(context.Background(), source, nil, RemainingAccountsParams{
		UserAccounts:        []*driftidl.User{user},
		WritablePerpMarkets: []uint16{3},
		UseLastSlotCache:    true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	market := metas[len(metas)-1]
	if !market.IsWritable {
		t.Error("market readable from position must become writable when caller requests it")
	}
}

func TestResolveRemainingAccountsMissingMarket(t *testing.T) {
	source := &fakeMarketSource{perps: map[uint16]*driftidl.PerpMarket{}, spots: map[uint16]*driftidl.SpotMarket{}}

	_, err := ResolveRemainingAccounts(context.Background(), source, nil, RemainingAccountsParams{
		ReadablePerpMarkets: []uint16{9},
		UseLastSlotCache:    true,
	})
	if err == nil {
		t.Fatal("expected error for market missing from cache")
	}
}

type fakeFetcher struct {
	perps map[uint16]*driftidl.PerpMarket
	calls int
}

func (f *fakeFetcher) FetchPerpMarket(_ context.Context, index uint16) (*driftidl.PerpMarket, error) {
	f.calls++
	return f.perps[index], nil
}

func (f *fakeFetcher) FetchSpotMarket(_ context.Context, _ uint16) (*driftidl.SpotMarket, error) {
	return nil, nil
}

func TestResolveRemainingAccountsFetchesWhenNotCached(t *testing.T) {
	source := &fakeMarketSource{perps: map[uint16]*driftidl.PerpMarket{}, spots: map[uint16]*driftidl.SpotMarket{}}
	fetcher := &fakeFetcher{perps: map[uint16]*driftidl.PerpMarket{5: newPerp(5)}}

	metas, err := ResolveRemainingAccounts(context.Background(), source, fetcher, RemainingAccountsParams{
		ReadablePerpMarkets: []uint16{5},
		UseLastSlotCache:    false,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls)
	}
	if len(metas) != 2 {
		t.Errorf("metas = %d, want 2", len(metas))
	}
}
