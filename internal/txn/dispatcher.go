package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/quantfold/driftcore/internal/solrpc"
)

// DispatchConfig tunes submission and confirmation behavior.
type DispatchConfig struct {
	// RetryUntilConfirmed loops submit+confirm until the signature reaches
	// MinConfirmation. When false, the transaction is submitted once.
	RetryUntilConfirmed bool
	// SimulateFirst runs a preflight simulation and aborts on failure.
	SimulateFirst bool
	// LoopRate is the confirmation poll interval; defaults to 2s.
	LoopRate time.Duration
	// MinConfirmation defaults to confirmed.
	MinConfirmation rpc.CommitmentType
	// PollsPerSubmit bounds how many status polls one submission gets
	// before it is treated as dropped and resubmitted.
	PollsPerSubmit int
	// MaxResubmits bounds how many fresh-blockhash resubmissions the retry
	// loop will attempt. Zero means unbounded (caller cancels via ctx).
	MaxResubmits int
	MaxRetries   *uint
}

// Dispatcher submits built transactions. Submissions through one dispatcher
// are serialized so a signer never races itself on a blockhash.
type Dispatcher struct {
	rpc    RPC
	cfg    DispatchConfig
	logger *slog.Logger

	mu sync.Mutex
}

func NewDispatcher(rpcClient RPC, cfg DispatchConfig, logger *slog.Logger) *Dispatcher {
	if cfg.LoopRate <= 0 {
		cfg.LoopRate = 2 * time.Second
	}
	if cfg.MinConfirmation == "" {
		cfg.MinConfirmation = rpc.CommitmentConfirmed
	}
	if cfg.PollsPerSubmit <= 0 {
		cfg.PollsPerSubmit = 15
	}
	return &Dispatcher{rpc: rpcClient, cfg: cfg, logger: logger}
}

// Send builds and dispatches the transaction. With RetryUntilConfirmed the
// call returns once the signature reaches MinConfirmation; a dropped
// submission is rebuilt against a fresh blockhash and resubmitted. Protocol
// failures (simulation, rejection) and cancellation abort the loop.
func (d *Dispatcher) Send(ctx context.Context, builder *Builder) (solana.Signature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := builder.Build(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	if d.cfg.SimulateFirst {
		if err := d.simulate(ctx, tx); err != nil {
			return solana.Signature{}, err
		}
	}

	if !d.cfg.RetryUntilConfirmed {
		sig, err := d.rpc.SendTransaction(ctx, tx, true, d.cfg.MaxRetries)
		if err != nil {
			return solana.Signature{}, &TransportError{Err: err}
		}
		return sig, nil
	}

	resubmits := 0
	for {
		sig, err := d.rpc.SendTransaction(ctx, tx, true, d.cfg.MaxRetries)
		if err != nil {
			if ctx.Err() != nil {
				return solana.Signature{}, ctx.Err()
			}
			return solana.Signature{}, &TransportError{Err: err}
		}

		err = d.rpc.Confirm(ctx, sig, solrpc.ConfirmConfig{
			LoopRate:        d.cfg.LoopRate,
			MinConfirmation: d.cfg.MinConfirmation,
			MaxPolls:        d.cfg.PollsPerSubmit,
		})
		switch {
		case err == nil:
			return sig, nil

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return solana.Signature{}, err

		case errors.Is(err, solrpc.ErrTxDropped):
			resubmits++
			if d.cfg.MaxResubmits > 0 && resubmits > d.cfg.MaxResubmits {
				return solana.Signature{}, fmt.Errorf("gave up after %d resubmits: %w", resubmits-1, solrpc.ErrTxDropped)
			}
			d.logger.Warn("transaction dropped, resubmitting with fresh blockhash",
				"signature", sig, "resubmits", resubmits)
			tx, err = builder.Build(ctx)
			if err != nil {
				return solana.Signature{}, err
			}

		default:
			return solana.Signature{}, err
		}
	}
}

func (d *Dispatcher) simulate(ctx context.Context, tx *solana.Transaction) error {
	result, err := d.rpc.Simulate(ctx, tx)
	if err != nil {
		return &TransportError{Err: err}
	}
	if result != nil && result.Err != nil {
		var logs []string
		if result.Logs != nil {
			logs = result.Logs
		}
		return classifySimulation(fmt.Sprint(result.Err), logs)
	}
	return nil
}
