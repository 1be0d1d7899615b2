package driftidl

import (
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Fixed price precision across the program: 6 decimals.
const (
	PricePrecision = uint64(1_000_000)
	BasePrecision  = uint64(1_000_000_000)
	QuotePrecision = uint64(1_000_000)

	QuoteSpotMarketIndex = uint16(0)
)

type OracleSource uint8

const (
	OracleSource_Pyth OracleSource = iota
	OracleSource_Switchboard
	OracleSource_QuoteAsset
	OracleSource_Pyth1K
	OracleSource_Pyth1M
	OracleSource_PythStableCoin
	OracleSource_Prelaunch
)

func (s OracleSource) String() string {
	switch s {
	case OracleSource_Pyth:
		return "Pyth"
	case OracleSource_Switchboard:
		return "Switchboard"
	case OracleSource_QuoteAsset:
		return "QuoteAsset"
	case OracleSource_Pyth1K:
		return "Pyth1K"
	case OracleSource_Pyth1M:
		return "Pyth1M"
	case OracleSource_PythStableCoin:
		return "PythStableCoin"
	case OracleSource_Prelaunch:
		return "Prelaunch"
	default:
		return "Unknown"
	}
}

type MarketType uint8

const (
	MarketType_Spot MarketType = iota
	MarketType_Perp
)

type SpotBalanceType uint8

const (
	SpotBalanceType_Deposit SpotBalanceType = iota
	SpotBalanceType_Borrow
)

type MarketStatus uint8

const (
	MarketStatus_Initialized MarketStatus = iota
	MarketStatus_Active
	MarketStatus_FundingPaused
	MarketStatus_AmmPaused
	MarketStatus_FillPaused
	MarketStatus_WithdrawPaused
	MarketStatus_ReduceOnly
	MarketStatus_Settlement
	MarketStatus_Delisted
)

type PositionDirection uint8

const (
	PositionDirection_Long PositionDirection = iota
	PositionDirection_Short
)

type OrderType uint8

const (
	OrderType_Market OrderType = iota
	OrderType_Limit
	OrderType_TriggerMarket
	OrderType_TriggerLimit
	OrderType_Oracle
)

type OrderTriggerCondition uint8

const (
	OrderTriggerCondition_Above OrderTriggerCondition = iota
	OrderTriggerCondition_Below
	OrderTriggerCondition_TriggeredAbove
	OrderTriggerCondition_TriggeredBelow
)

type OrderStatus uint8

const (
	OrderStatus_Init OrderStatus = iota
	OrderStatus_Open
	OrderStatus_Filled
	OrderStatus_Canceled
)

// State is the program-wide singleton at the drift_state PDA.
type State struct {
	Admin                 solana.PublicKey
	WhitelistMint         solana.PublicKey
	DiscountMint          solana.PublicKey
	Signer                solana.PublicKey
	SrmVault              solana.PublicKey
	MinPerpAuctionDuration uint8
	DefaultMarketOrderTimeInForce uint8
	DefaultSpotAuctionDuration    uint8
	ExchangeStatus                uint8
	NumberOfMarkets               uint16
	NumberOfSpotMarkets           uint16
	SignerNonce                   uint8
	Padding                       [15]uint8
}

// Amm carries the perp market's oracle binding and pricing state.
type Amm struct {
	Oracle             solana.PublicKey
	LastOraclePrice    int64
	LastOracleSlot     uint64
	QuoteAssetReserve  bin.Uint128
	BaseAssetReserve   bin.Uint128
	OracleSource       OracleSource
	Padding            [7]uint8
}

// PerpMarket is a perpetual-futures venue keyed by MarketIndex.
type PerpMarket struct {
	Pubkey               solana.PublicKey
	Amm                  Amm
	Name                 [32]uint8
	QuoteSpotMarketIndex uint16
	MarketIndex          uint16
	Status               MarketStatus
	Padding              [3]uint8
}

// SpotMarket is a spot venue keyed by MarketIndex.
type SpotMarket struct {
	Pubkey                    solana.PublicKey
	Oracle                    solana.PublicKey
	Mint                      solana.PublicKey
	Vault                     solana.PublicKey
	Name                      [32]uint8
	CumulativeDepositInterest bin.Uint128
	CumulativeBorrowInterest  bin.Uint128
	Decimals                  uint32
	MarketIndex               uint16
	OracleSource              OracleSource
	Status                    MarketStatus
}

// SpotPosition is one slot of a user's spot balances.
type SpotPosition struct {
	ScaledBalance      uint64
	OpenBids           int64
	OpenAsks           int64
	CumulativeDeposits int64
	MarketIndex        uint16
	BalanceType        SpotBalanceType
	OpenOrders         uint8
	Padding            [4]uint8
}

// PerpPosition is one slot of a user's perp exposure. Field order follows the
// on-chain packed layout (96 bytes per slot).
type PerpPosition struct {
	BaseAssetAmount           int64
	LastCumulativeFundingRate int64
	MarketIndex               uint16
	QuoteAssetAmount          int64
	QuoteEntryAmount          int64
	QuoteBreakEvenAmount      int64
	OpenOrders                uint8
	OpenBids                  int64
	OpenAsks                  int64
	SettledPnl                int64
	LpShares                  uint64
	RemainderBaseAssetAmount  int32
	LastBaseAssetAmountPerLp  int64
	LastQuoteAssetAmountPerLp int64
	PerLpBase                 int8
}

// Order is one slot of a user's open orders.
type Order struct {
	Slot              uint64
	Price             uint64
	BaseAssetAmount   uint64
	BaseAssetAmountFilled uint64
	QuoteAssetAmountFilled uint64
	TriggerPrice      uint64
	AuctionStartPrice int64
	AuctionEndPrice   int64
	MaxTs             int64
	OraclePriceOffset int32
	OrderId           uint32
	MarketIndex       uint16
	Status            OrderStatus
	OrderType         OrderType
	MarketType        MarketType
	UserOrderId       uint8
	ExistingPositionDirection PositionDirection
	Direction         PositionDirection
	ReduceOnly        uint8
	PostOnly          uint8
	ImmediateOrCancel uint8
	TriggerCondition  OrderTriggerCondition
	AuctionDuration   uint8
	Padding           [3]uint8
}

// User is a sub-account holding positions and open orders.
type User struct {
	Authority         solana.PublicKey
	Delegate          solana.PublicKey
	Name              [32]uint8
	SpotPositions     [8]SpotPosition
	PerpPositions     [8]PerpPosition
	Orders            [32]Order
	LastAddPerpLpSharesTs int64
	TotalDeposits     uint64
	TotalWithdraws    uint64
	TotalSocialLoss   uint64
	SettledPerpPnl    int64
	CumulativeSpotFees int64
	CumulativePerpFunding int64
	LiquidationMarginFreed uint64
	LastActiveSlot    uint64
	NextOrderId       uint32
	MaxMarginRatio    uint32
	NextLiquidationId uint16
	SubAccountId      uint16
	Status            uint8
	IsMarginTradingEnabled uint8
	IdleStatus        uint8
	OpenOrders        uint8
	HasOpenOrder      uint8
	OpenAuctions      uint8
	HasOpenAuction    uint8
	Padding           [21]uint8
}

// UserStats aggregates per-authority activity across sub-accounts.
type UserStats struct {
	Authority            solana.PublicKey
	Referrer             solana.PublicKey
	TotalFeePaid         uint64
	TotalFeeRebate       uint64
	TotalTokenDiscount   uint64
	TotalRefereeDiscount uint64
	TotalReferrerReward  uint64
	CurrentEpochReferrerReward uint64
	NextEpochTs          int64
	MakerVolume30d       uint64
	TakerVolume30d       uint64
	FillerVolume30d      uint64
	LastMakerVolume30dTs int64
	LastTakerVolume30dTs int64
	LastFillerVolume30dTs int64
	IfStakedQuoteAssetAmount uint64
	NumberOfSubAccounts  uint16
	NumberOfSubAccountsCreated uint16
	IsReferrer           uint8
	DisableUpdatePerpBidAskTwap uint8
	Padding              [50]uint8
}

type InsuranceFundStake struct {
	Authority                   solana.PublicKey
	IfShares                    bin.Uint128
	LastWithdrawRequestShares   bin.Uint128
	IfBase                      bin.Uint128
	LastValidTs                 int64
	LastWithdrawRequestValue    uint64
	LastWithdrawRequestTs       int64
	CostBasis                   int64
	MarketIndex                 uint16
	Padding                     [14]uint8
}

type ReferrerName struct {
	Authority solana.PublicKey
	User      solana.PublicKey
	UserStats solana.PublicKey
	Name      [32]uint8
}

type PhoenixV1FulfillmentConfig struct {
	Pubkey                  solana.PublicKey
	PhoenixProgramId        solana.PublicKey
	PhoenixLogAuthority     solana.PublicKey
	PhoenixMarket           solana.PublicKey
	PhoenixBaseVault        solana.PublicKey
	PhoenixQuoteVault       solana.PublicKey
	MarketIndex             uint16
	FulfillmentType         uint8
	Status                  uint8
	Padding                 [4]uint8
}

type SerumV3FulfillmentConfig struct {
	Pubkey             solana.PublicKey
	SerumProgramId     solana.PublicKey
	SerumMarket        solana.PublicKey
	SerumRequestQueue  solana.PublicKey
	SerumEventQueue    solana.PublicKey
	SerumBids          solana.PublicKey
	SerumAsks          solana.PublicKey
	SerumBaseVault     solana.PublicKey
	SerumQuoteVault    solana.PublicKey
	SerumOpenOrders    solana.PublicKey
	SerumSignerNonce   uint64
	MarketIndex        uint16
	FulfillmentType    uint8
	Status             uint8
	Padding            [4]uint8
}

type ProtocolIfSharesTransferConfig struct {
	WhitelistedSigners   [4]solana.PublicKey
	MaxTransferPerEpoch  bin.Uint128
	CurrentEpochTransfer bin.Uint128
	NextEpochTs          int64
	Padding              [8]bin.Uint128
}

// OrderParams is the place-order instruction payload.
type OrderParams struct {
	OrderType         OrderType
	MarketType        MarketType
	Direction         PositionDirection
	UserOrderId       uint8
	BaseAssetAmount   uint64
	Price             uint64
	MarketIndex       uint16
	ReduceOnly        bool
	PostOnly          uint8
	ImmediateOrCancel bool
	MaxTs             *int64  `bin:"optional"`
	TriggerPrice      *uint64 `bin:"optional"`
	TriggerCondition  OrderTriggerCondition
	OraclePriceOffset *int32 `bin:"optional"`
	AuctionDuration   *uint8 `bin:"optional"`
	AuctionStartPrice *int64 `bin:"optional"`
	AuctionEndPrice   *int64 `bin:"optional"`
}

// DecodeName strips the fixed-width padding from a 32-byte market or user name.
func DecodeName(name [32]uint8) string {
	return strings.TrimSpace(string(name[:]))
}

// EncodeName packs a name into the fixed-width on-chain representation.
func EncodeName(name string) [32]uint8 {
	var out [32]uint8
	copy(out[:], name)
	for i := len(name); i < 32; i++ {
		out[i] = ' '
	}
	return out
}
