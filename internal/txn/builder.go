package txn

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/quantfold/driftcore/internal/solrpc"
)

// RPC is the node surface the builder and dispatcher need. *solrpc.Client
// satisfies it; tests substitute a mock.
type RPC interface {
	RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, uint64, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool, maxRetries *uint) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature, cfg solrpc.ConfirmConfig) error
	GetAddressLookupTable(ctx context.Context, key solana.PublicKey) ([]solana.PublicKey, error)
}

// Builder accumulates a transaction: instructions, signers, lookup tables,
// and the compute budget. Build may be called repeatedly; each call obtains
// a fresh blockhash and re-signs the same instruction set.
type Builder struct {
	rpc RPC

	instructions []solana.Instruction
	signers      []solana.PrivateKey
	lookupTables map[solana.PublicKey]solana.PublicKeySlice

	computeUnitLimit              uint32
	computeUnitPriceMicroLamports uint64

	commitment rpc.CommitmentType
}

func NewBuilder(rpcClient RPC) *Builder {
	return &Builder{
		rpc:          rpcClient,
		lookupTables: make(map[solana.PublicKey]solana.PublicKeySlice),
		commitment:   rpc.CommitmentConfirmed,
	}
}

func (b *Builder) AddInstruction(ix solana.Instruction) *Builder {
	b.instructions = append(b.instructions, ix)
	return b
}

func (b *Builder) AddSigner(signer solana.PrivateKey) *Builder {
	b.signers = append(b.signers, signer)
	return b
}

func (b *Builder) SetComputeUnitLimit(units uint32) *Builder {
	b.computeUnitLimit = units
	return b
}

func (b *Builder) SetComputeUnitPrice(microLamports uint64) *Builder {
	b.computeUnitPriceMicroLamports = microLamports
	return b
}

func (b *Builder) SetCommitment(commitment rpc.CommitmentType) *Builder {
	b.commitment = commitment
	return b
}

// AddLookupTable fetches the table's address list and registers it so Build
// can reference its keys by index.
func (b *Builder) AddLookupTable(ctx context.Context, key solana.PublicKey) error {
	addresses, err := b.rpc.GetAddressLookupTable(ctx, key)
	if err != nil {
		return fmt.Errorf("resolve lookup table %s: %w", key, err)
	}
	b.lookupTables[key] = addresses
	return nil
}

// Build assembles and signs the transaction against a fresh blockhash.
// The fee payer is the first signer.
func (b *Builder) Build(ctx context.Context) (*solana.Transaction, error) {
	if len(b.signers) == 0 {
		return nil, fmt.Errorf("no signers configured")
	}
	if len(b.instructions) == 0 {
		return nil, fmt.Errorf("no instructions accumulated")
	}

	instructions := make([]solana.Instruction, 0, len(b.instructions)+2)
	if b.computeUnitLimit > 0 || b.computeUnitPriceMicroLamports > 0 {
		if b.computeUnitLimit > 0 {
			cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(b.computeUnitLimit).ValidateAndBuild()
			if err != nil {
				return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
			}
			instructions = append(instructions, cuLimitIx)
		}
		if b.computeUnitPriceMicroLamports > 0 {
			cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(b.computeUnitPriceMicroLamports).ValidateAndBuild()
			if err != nil {
				return nil, fmt.Errorf("build compute unit price instruction: %w", err)
			}
			instructions = append(instructions, cuPriceIx)
		}
	}
	instructions = append(instructions, b.instructions...)

	blockhash, _, err := b.rpc.RecentBlockhash(ctx, b.commitment)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	opts := []solana.TransactionOption{
		solana.TransactionPayer(b.signers[0].PublicKey()),
	}
	if len(b.lookupTables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(b.lookupTables))
	}

	tx, err := solana.NewTransaction(instructions, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range b.signers {
			if b.signers[i].PublicKey().Equals(key) {
				return &b.signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
