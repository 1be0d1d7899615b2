package driftidl

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

func TestUserDiscriminatorLiteral(t *testing.T) {
	got := base64.StdEncoding.EncodeToString(Account_User[:])
	if got != "n3Vf4++XOuw=" {
		t.Fatalf("User discriminator base64 = %q, want %q", got, "n3Vf4++XOuw=")
	}
}

func TestAccountDiscriminatorDerivation(t *testing.T) {
	cases := []struct {
		typeName string
		want     [8]byte
	}{
		{"User", Account_User},
		{"PerpMarket", Account_PerpMarket},
		{"SpotMarket", Account_SpotMarket},
		{"State", Account_State},
		{"UserStats", Account_UserStats},
		{"InsuranceFundStake", Account_InsuranceFundStake},
		{"ReferrerName", Account_ReferrerName},
		{"PhoenixV1FulfillmentConfig", Account_PhoenixV1FulfillmentConfig},
		{"SerumV3FulfillmentConfig", Account_SerumV3FulfillmentConfig},
		{"ProtocolIfSharesTransferConfig", Account_ProtocolIfSharesTransferConfig},
	}
	for _, tc := range cases {
		if got := AccountDiscriminator(tc.typeName); got != tc.want {
			t.Errorf("AccountDiscriminator(%q) = %v, want %v", tc.typeName, got, tc.want)
		}
	}
}

func TestPerpMarketRoundTrip(t *testing.T) {
	oracle := solana.NewWallet().PublicKey()
	in := &PerpMarket{
		Pubkey: solana.NewWallet().PublicKey(),
		Amm: Amm{
			Oracle:            oracle,
			LastOraclePrice:   42_123_456,
			LastOracleSlot:    987654,
			QuoteAssetReserve: bin.Uint128{Lo: 1, Hi: 2},
			BaseAssetReserve:  bin.Uint128{Lo: 3, Hi: 4},
			OracleSource:      OracleSource_Pyth,
		},
		Name:                 EncodeName("SOL-PERP"),
		QuoteSpotMarketIndex: QuoteSpotMarketIndex,
		MarketIndex:          7,
		Status:               MarketStatus_Active,
	}

	raw, err := MarshalAccount_PerpMarket(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := ParseAccount_PerpMarket(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Amm.Oracle != oracle {
		t.Errorf("oracle = %s, want %s", out.Amm.Oracle, oracle)
	}
	if out.Amm.LastOraclePrice != in.Amm.LastOraclePrice {
		t.Errorf("last oracle price = %d, want %d", out.Amm.LastOraclePrice, in.Amm.LastOraclePrice)
	}
	if out.MarketIndex != 7 {
		t.Errorf("market index = %d, want 7", out.MarketIndex)
	}
	if DecodeName(out.Name) != "SOL-PERP" {
		t.Errorf("name = %q, want SOL-PERP", DecodeName(out.Name))
	}
}

func TestUserRoundTrip(t *testing.T) {
	in := &User{
		Authority:    solana.NewWallet().PublicKey(),
		Delegate:     solana.NewWallet().PublicKey(),
		Name:         EncodeName("main"),
		SubAccountId: 3,
	}
	in.PerpPositions[0] = PerpPosition{
		BaseAssetAmount:  1_500_000_000,
		QuoteAssetAmount: -42_000_000,
		MarketIndex:      2,
		OpenOrders:       1,
	}
	in.SpotPositions[0] = SpotPosition{
		ScaledBalance: 900_000_000,
		MarketIndex:   QuoteSpotMarketIndex,
		BalanceType:   SpotBalanceType_Deposit,
	}

	raw, err := MarshalAccount_User(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := ParseAccount_User(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Authority != in.Authority {
		t.Errorf("authority = %s, want %s", out.Authority, in.Authority)
	}
	if out.PerpPositions[0].BaseAssetAmount != 1_500_000_000 {
		t.Errorf("base amount = %d", out.PerpPositions[0].BaseAssetAmount)
	}
	if out.SpotPositions[0].ScaledBalance != 900_000_000 {
		t.Errorf("scaled balance = %d", out.SpotPositions[0].ScaledBalance)
	}
	if out.SubAccountId != 3 {
		t.Errorf("sub account = %d, want 3", out.SubAccountId)
	}
}

// Offsets below are the on-chain packed layout: spot positions start at byte
// 96 of the account body, perp positions at 416 (96 bytes each), orders at
// 1184 (96 bytes each), trailing scalars at 4256, 4368 bytes of body total.
func TestUserAccountWireLayout(t *testing.T) {
	const bodySize = 4368

	authority := solana.NewWallet().PublicKey()
	body := make([]byte, bodySize)
	put64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			body[off+i] = byte(v >> (8 * i))
		}
	}
	put32 := func(off int, v uint32) {
		for i := 0; i < 4; i++ {
			body[off+i] = byte(v >> (8 * i))
		}
	}
	put16 := func(off int, v uint16) {
		body[off] = byte(v)
		body[off+1] = byte(v >> 8)
	}

	copy(body[0:32], authority[:])
	// perp position slot 0
	put64(416, 1_500_000_000)      // base asset amount
	put16(432, 2)                  // market index
	lastPerLP := int64(-77)
	put64(495, uint64(lastPerLP)) // last base asset amount per lp
	body[511] = 3                  // per lp base
	// order slot 0
	put64(1184, 250_000_000)                   // slot
	put64(1224, 95*1_000_000)                  // trigger price
	put32(1260, 41)                            // order id
	body[1266] = byte(OrderStatus_Open)        // status
	body[1267] = byte(OrderType_TriggerMarket) // order type
	body[1275] = byte(OrderTriggerCondition_Below)
	body[1276] = 60 // auction duration
	// trailing scalars
	put64(4320, 250_000_123) // last active slot
	put16(4338, 9)           // sub account id
	body[4343] = 1           // open orders
	body[4344] = 1           // has open order

	raw := append(append([]byte{}, Account_User[:]...), body...)
	out, err := ParseAccount_User(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Authority != authority {
		t.Errorf("authority = %s, want %s", out.Authority, authority)
	}
	pos := out.PerpPositions[0]
	if pos.BaseAssetAmount != 1_500_000_000 || pos.MarketIndex != 2 {
		t.Errorf("perp[0] = %+v", pos)
	}
	if pos.LastBaseAssetAmountPerLp != -77 || pos.PerLpBase != 3 {
		t.Errorf("perp[0] lp fields = %d/%d, want -77/3", pos.LastBaseAssetAmountPerLp, pos.PerLpBase)
	}
	order := out.Orders[0]
	if order.Slot != 250_000_000 || order.OrderId != 41 {
		t.Errorf("order[0] = %+v", order)
	}
	if order.TriggerPrice != 95*1_000_000 || order.TriggerCondition != OrderTriggerCondition_Below {
		t.Errorf("order[0] trigger = %d/%d", order.TriggerPrice, order.TriggerCondition)
	}
	if order.Status != OrderStatus_Open || order.OrderType != OrderType_TriggerMarket || order.AuctionDuration != 60 {
		t.Errorf("order[0] tail = %+v", order)
	}
	if out.LastActiveSlot != 250_000_123 || out.SubAccountId != 9 {
		t.Errorf("trailing scalars = slot %d sub %d", out.LastActiveSlot, out.SubAccountId)
	}
	if out.OpenOrders != 1 || out.HasOpenOrder != 1 {
		t.Errorf("open order flags = %d/%d", out.OpenOrders, out.HasOpenOrder)
	}

	// round-trip must reproduce the blob and its size exactly
	reencoded, err := MarshalAccount_User(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(reencoded) != 8+bodySize {
		t.Fatalf("encoded size = %d, want %d", len(reencoded), 8+bodySize)
	}
	if !bytes.Equal(reencoded, raw) {
		t.Fatal("re-encoded user differs from original blob")
	}
}

func TestPositionAndOrderSlotSizes(t *testing.T) {
	sizeOf := func(v any) int {
		var buf bytes.Buffer
		if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode %T: %v", v, err)
		}
		return buf.Len()
	}
	if n := sizeOf(PerpPosition{}); n != 96 {
		t.Errorf("perp position slot = %d bytes, want 96", n)
	}
	if n := sizeOf(Order{}); n != 96 {
		t.Errorf("order slot = %d bytes, want 96", n)
	}
	if n := sizeOf(SpotPosition{}); n != 40 {
		t.Errorf("spot position slot = %d bytes, want 40", n)
	}
}

func TestParseAccountErrors(t *testing.T) {
	t.Run("wrong discriminator", func(t *testing.T) {
		raw, err := MarshalAccount_State(&State{NumberOfMarkets: 1})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := ParseAccount_User(raw); !errors.Is(err, ErrUnknownDiscriminator) {
			t.Fatalf("err = %v, want ErrUnknownDiscriminator", err)
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		raw := append([]byte{}, Account_PerpMarket[:]...)
		raw = append(raw, 0x01, 0x02)
		if _, err := ParseAccount_PerpMarket(raw); !errors.Is(err, ErrMalformedAccount) {
			t.Fatalf("err = %v, want ErrMalformedAccount", err)
		}
	})

	t.Run("shorter than discriminator", func(t *testing.T) {
		if _, err := ParseAccount_User([]byte{1, 2, 3}); !errors.Is(err, ErrMalformedAccount) {
			t.Fatalf("err = %v, want ErrMalformedAccount", err)
		}
	})
}

func TestPlacePerpOrderInstruction(t *testing.T) {
	state := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	oracle := solana.Meta(solana.NewWallet().PublicKey())

	ix, err := NewPlacePerpOrderInstruction(OrderParams{
		OrderType:       OrderType_Limit,
		MarketType:      MarketType_Perp,
		Direction:       PositionDirection_Long,
		BaseAssetAmount: 1_000_000_000,
		Price:           150 * PricePrecision,
		MarketIndex:     0,
	}, state, user, authority, []*solana.AccountMeta{oracle})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !ix.ProgramID().Equals(ProgramID) {
		t.Errorf("program = %s", ix.ProgramID())
	}
	data, err := ix.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	for i := range Instruction_PlacePerpOrder {
		if data[i] != Instruction_PlacePerpOrder[i] {
			t.Fatalf("data prefix %x, want discriminator %x", data[:8], Instruction_PlacePerpOrder)
		}
	}
	accounts := ix.Accounts()
	if len(accounts) != 4 {
		t.Fatalf("accounts = %d, want 4", len(accounts))
	}
	if !accounts[1].IsWritable || accounts[1].PublicKey != user {
		t.Errorf("user meta = %+v", accounts[1])
	}
	if !accounts[2].IsSigner {
		t.Errorf("authority not a signer")
	}
}

func TestNamePadding(t *testing.T) {
	name := EncodeName("ETH-PERP")
	for i := 8; i < 32; i++ {
		if name[i] != ' ' {
			t.Fatalf("byte %d = %x, want space padding", i, name[i])
		}
	}
	if DecodeName(name) != "ETH-PERP" {
		t.Fatalf("decode = %q", DecodeName(name))
	}
}
