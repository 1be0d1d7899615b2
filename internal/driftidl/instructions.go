package driftidl

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor instruction discriminators: first 8 bytes of sha256("global:" + name).
var (
	Instruction_PlacePerpOrder = InstructionDiscriminator("place_perp_order")
	Instruction_CancelOrders   = InstructionDiscriminator("cancel_orders")
	Instruction_SettlePnl      = InstructionDiscriminator("settle_pnl")
)

func encodeInstruction(discriminator [8]byte, ixName string, args any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(discriminator[:])
	if args != nil {
		if err := bin.NewBorshEncoder(&buf).Encode(args); err != nil {
			return nil, fmt.Errorf("encode %s args: %w", ixName, err)
		}
	}
	return buf.Bytes(), nil
}

// NewPlacePerpOrderInstruction builds a place_perp_order call. remaining must
// hold the markets and oracles the order touches, in resolver order.
func NewPlacePerpOrderInstruction(
	params OrderParams,
	state solana.PublicKey,
	user solana.PublicKey,
	authority solana.PublicKey,
	remaining []*solana.AccountMeta,
) (solana.Instruction, error) {
	data, err := encodeInstruction(Instruction_PlacePerpOrder, "place_perp_order", struct {
		Params OrderParams
	}{Params: params})
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(state),
		solana.Meta(user).WRITE(),
		solana.Meta(authority).SIGNER(),
	}
	metas = append(metas, remaining...)
	return solana.NewInstruction(ProgramID, metas, data), nil
}

// CancelOrdersArgs narrows cancellation to a market and direction when set.
type CancelOrdersArgs struct {
	MarketType  *MarketType        `bin:"optional"`
	MarketIndex *uint16            `bin:"optional"`
	Direction   *PositionDirection `bin:"optional"`
}

// NewCancelOrdersInstruction builds a cancel_orders call. Nil args fields
// cancel across all markets and directions.
func NewCancelOrdersInstruction(
	args CancelOrdersArgs,
	state solana.PublicKey,
	user solana.PublicKey,
	authority solana.PublicKey,
	remaining []*solana.AccountMeta,
) (solana.Instruction, error) {
	data, err := encodeInstruction(Instruction_CancelOrders, "cancel_orders", args)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(state),
		solana.Meta(user).WRITE(),
		solana.Meta(authority).SIGNER(),
	}
	metas = append(metas, remaining...)
	return solana.NewInstruction(ProgramID, metas, data), nil
}

// NewSettlePnlInstruction builds a settle_pnl call for one perp market.
func NewSettlePnlInstruction(
	marketIndex uint16,
	state solana.PublicKey,
	user solana.PublicKey,
	authority solana.PublicKey,
	spotMarketVault solana.PublicKey,
	remaining []*solana.AccountMeta,
) (solana.Instruction, error) {
	data, err := encodeInstruction(Instruction_SettlePnl, "settle_pnl", struct {
		MarketIndex uint16
	}{MarketIndex: marketIndex})
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(state),
		solana.Meta(user).WRITE(),
		solana.Meta(authority).SIGNER(),
		solana.Meta(spotMarketVault),
	}
	metas = append(metas, remaining...)
	return solana.NewInstruction(ProgramID, metas, data), nil
}
