package drift

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/quantfold/driftcore/internal/driftidl"
	"github.com/quantfold/driftcore/internal/solrpc"
)

// MarketInfo joins a perp market with its quote-side spot market and the
// latest oracle observations for both.
type MarketInfo struct {
	Name             string
	PerpIndex        uint16
	SpotIndex        uint16
	PerpOracleKey    solana.PublicKey
	PerpOracleSource driftidl.OracleSource
	PerpPrice        *OraclePriceData
	SpotOracleKey    solana.PublicKey
	SpotOracleSource driftidl.OracleSource
	SpotPrice        *OraclePriceData
}

// NewMarketInfo builds the joined view. Price data may be nil when the
// oracle accounts have not been observed yet.
func NewMarketInfo(perp *driftidl.PerpMarket, spot *driftidl.SpotMarket, perpPrice, spotPrice *OraclePriceData) MarketInfo {
	return MarketInfo{
		Name:             driftidl.DecodeName(perp.Name),
		PerpIndex:        perp.MarketIndex,
		SpotIndex:        spot.MarketIndex,
		PerpOracleKey:    perp.Amm.Oracle,
		PerpOracleSource: perp.Amm.OracleSource,
		PerpPrice:        perpPrice,
		SpotOracleKey:    spot.Oracle,
		SpotOracleSource: spot.OracleSource,
		SpotPrice:        spotPrice,
	}
}

// MarketKeys is the full set of market PDAs the program tracks, derived from
// the State account's counters.
type MarketKeys struct {
	Perp []solana.PublicKey
	Spot []solana.PublicKey
}

// DiscoverMarketKeys reads the program State and enumerates every perp and
// spot market PDA it declares. This avoids a full program-accounts scan.
func DiscoverMarketKeys(ctx context.Context, client *solrpc.Client, programID solana.PublicKey) (MarketKeys, error) {
	statePDA, _, err := DeriveStatePDA(programID)
	if err != nil {
		return MarketKeys{}, fmt.Errorf("derive state PDA: %w", err)
	}
	account, err := client.GetAccount(ctx, statePDA)
	if err != nil {
		return MarketKeys{}, fmt.Errorf("read state account: %w", err)
	}
	state, err := driftidl.ParseAccount_State(account.Data)
	if err != nil {
		return MarketKeys{}, fmt.Errorf("decode state account: %w", err)
	}

	keys := MarketKeys{
		Perp: make([]solana.PublicKey, 0, state.NumberOfMarkets),
		Spot: make([]solana.PublicKey, 0, state.NumberOfSpotMarkets),
	}
	for index := uint16(0); index < state.NumberOfMarkets; index++ {
		pda, _, err := DerivePerpMarketPDA(programID, index)
		if err != nil {
			return MarketKeys{}, fmt.Errorf("derive perp market %d PDA: %w", index, err)
		}
		keys.Perp = append(keys.Perp, pda)
	}
	for index := uint16(0); index < state.NumberOfSpotMarkets; index++ {
		pda, _, err := DeriveSpotMarketPDA(programID, index)
		if err != nil {
			return MarketKeys{}, fmt.Errorf("derive spot market %d PDA: %w", index, err)
		}
		keys.Spot = append(keys.Spot, pda)
	}
	return keys, nil
}

// PerpPositionOpen reports whether a perp position slot carries exposure.
func PerpPositionOpen(p driftidl.PerpPosition) bool {
	return p.BaseAssetAmount != 0 || p.QuoteAssetAmount != 0 || p.OpenOrders != 0 || p.LpShares != 0
}

// SpotPositionOpen reports whether a spot position slot carries a balance.
func SpotPositionOpen(p driftidl.SpotPosition) bool {
	return p.ScaledBalance != 0 || p.OpenOrders != 0 || p.OpenBids != 0 || p.OpenAsks != 0
}
