// Package solrpc wraps the chain node's JSON-RPC surface with typed account
// envelopes, request pacing, and confirmation polling.
package solrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

const (
	// getMultipleAccounts caps out at 100 keys per request.
	maxAccountsPerBatch = 100

	defaultRequestTimeout = 30 * time.Second
	defaultConfirmRate    = 2 * time.Second
)

var (
	// ErrTxDropped marks a signature that fell out of the node's recent
	// window before reaching the requested commitment.
	ErrTxDropped = errors.New("transaction dropped before confirmation")
	// ErrAccountNotFound marks a read of a key the node has no account for.
	ErrAccountNotFound = errors.New("account not found")
)

// Account is the envelope every transport hands out: raw account state plus
// the slot it was observed at.
type Account struct {
	Key        solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Executable bool
	RentEpoch  uint64
	Data       []byte
	Slot       uint64
}

// Discriminant returns the leading 8 bytes of the account data, when present.
func (a *Account) Discriminant() ([8]byte, bool) {
	var out [8]byte
	if len(a.Data) < 8 {
		return out, false
	}
	copy(out[:], a.Data[:8])
	return out, true
}

// Hash is a 64-bit FNV-1a identity over (key, owner, lamports, data), used
// for cheap change detection.
func (a *Account) Hash() uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	mix := func(b []byte) {
		for _, c := range b {
			h ^= uint64(c)
			h *= prime64
		}
	}
	mix(a.Key[:])
	mix(a.Owner[:])
	var lam [8]byte
	for i := 0; i < 8; i++ {
		lam[i] = byte(a.Lamports >> (8 * i))
	}
	mix(lam[:])
	mix(a.Data)
	return h
}

// Client is the request/response facade over one node endpoint. All calls
// share a rate limiter and a per-request timeout.
type Client struct {
	rpc        *rpc.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(c *Client) { c.commitment = commitment }
}

// WithRequestsPerSecond paces outbound requests. Zero disables pacing.
func WithRequestsPerSecond(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(rpcURL string, opts ...Option) *Client {
	c := &Client{
		rpc:        rpc.New(rpcURL),
		timeout:    defaultRequestTimeout,
		commitment: rpc.CommitmentConfirmed,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

func (c *Client) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return reqCtx, cancel, nil
}

// GetAccount reads one account at the client commitment.
func (c *Client) GetAccount(ctx context.Context, key solana.PublicKey) (*Account, error) {
	reqCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	res, err := c.rpc.GetAccountInfoWithOpts(reqCtx, key, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", key, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("get account %s: %w", key, ErrAccountNotFound)
	}
	return envelope(key, res.Value, res.Context.Slot), nil
}

// GetAccounts reads many accounts, chunked into batches the node accepts.
// Missing accounts come back as nil entries in key order.
func (c *Client) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error) {
	out := make([]*Account, 0, len(keys))
	for start := 0; start < len(keys); start += maxAccountsPerBatch {
		end := start + maxAccountsPerBatch
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		reqCtx, cancel, err := c.acquire(ctx)
		if err != nil {
			return nil, err
		}
		res, err := c.rpc.GetMultipleAccountsWithOpts(reqCtx, chunk, &rpc.GetMultipleAccountsOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("get accounts [%d:%d]: %w", start, end, err)
		}
		for i, value := range res.Value {
			if value == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, envelope(chunk[i], value, res.Context.Slot))
		}
	}
	return out, nil
}

// GetProgramAccounts scans accounts owned by programID, optionally filtered
// by an 8-byte discriminator prefix.
func (c *Client) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, discriminator []byte) ([]*Account, error) {
	reqCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	opts := &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	}
	if len(discriminator) > 0 {
		opts.Filters = []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(discriminator)}},
		}
	}
	res, err := c.rpc.GetProgramAccountsWithOpts(reqCtx, programID, opts)
	if err != nil {
		return nil, fmt.Errorf("get program accounts for %s: %w", programID, err)
	}

	out := make([]*Account, 0, len(res))
	for _, item := range res {
		if item == nil || item.Account == nil {
			continue
		}
		out = append(out, envelope(item.Pubkey, item.Account, 0))
	}
	return out, nil
}

// RecentBlockhash returns the latest blockhash at the given commitment along
// with its last valid block height.
func (c *Client) RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, uint64, error) {
	reqCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return solana.Hash{}, 0, err
	}
	defer cancel()

	if commitment == "" {
		commitment = c.commitment
	}
	res, err := c.rpc.GetLatestBlockhash(reqCtx, commitment)
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, res.Value.LastValidBlockHeight, nil
}

// Simulate runs the transaction against current state without submitting it.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	reqCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	res, err := c.rpc.SimulateTransactionWithOpts(reqCtx, tx, &rpc.SimulateTransactionOpts{
		Commitment: c.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("simulate transaction: %w", err)
	}
	return res.Value, nil
}

// SendTransaction submits the signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool, maxRetries *uint) (solana.Signature, error) {
	reqCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	defer cancel()

	sig, err := c.rpc.SendTransactionWithOpts(reqCtx, tx, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		MaxRetries:          maxRetries,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatuses reports the current status of each signature, searching
// the node's transaction history.
func (c *Client) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	reqCtx, cancel, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	res, err := c.rpc.GetSignatureStatuses(reqCtx, true, sigs...)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	return res.Value, nil
}

// ConfirmConfig tunes the confirmation poll loop.
type ConfirmConfig struct {
	// LoopRate is the poll interval; defaults to 2s.
	LoopRate time.Duration
	// MinConfirmation is the commitment the signature must reach.
	MinConfirmation rpc.CommitmentType
	// MaxPolls bounds the loop; zero polls until ctx is cancelled. A
	// signature still missing after MaxPolls is reported as ErrTxDropped.
	MaxPolls int
}

// Confirm polls signature statuses until sig reaches cfg.MinConfirmation,
// the context is cancelled, or the signature drops out of the node's window.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature, cfg ConfirmConfig) error {
	loopRate := cfg.LoopRate
	if loopRate <= 0 {
		loopRate = defaultConfirmRate
	}
	minConfirmation := cfg.MinConfirmation
	if minConfirmation == "" {
		minConfirmation = rpc.CommitmentConfirmed
	}

	ticker := time.NewTicker(loopRate)
	defer ticker.Stop()

	polls := 0
	for {
		statuses, err := c.SignatureStatuses(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("signature status poll failed", "signature", sig, "error", err)
		} else if len(statuses) > 0 {
			status := statuses[0]
			if status == nil {
				// unknown to the node; either still propagating or dropped
				polls++
				if cfg.MaxPolls > 0 && polls >= cfg.MaxPolls {
					return fmt.Errorf("confirm %s: %w", sig, ErrTxDropped)
				}
			} else {
				if status.Err != nil {
					return fmt.Errorf("confirm %s: transaction failed on chain: %v", sig, status.Err)
				}
				if commitmentReached(status.ConfirmationStatus, minConfirmation) {
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetAddressLookupTable fetches a lookup-table account and returns the packed
// address list stored after its 56-byte header.
func (c *Client) GetAddressLookupTable(ctx context.Context, key solana.PublicKey) ([]solana.PublicKey, error) {
	account, err := c.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	addresses, err := ParseLookupTable(account.Data)
	if err != nil {
		return nil, fmt.Errorf("lookup table %s: %w", key, err)
	}
	return addresses, nil
}

func commitmentReached(got rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := func(s string) int {
		switch s {
		case string(rpc.CommitmentProcessed):
			return 1
		case string(rpc.CommitmentConfirmed):
			return 2
		case string(rpc.CommitmentFinalized):
			return 3
		default:
			return 0
		}
	}
	return rank(string(got)) >= rank(string(want))
}

func envelope(key solana.PublicKey, value *rpc.Account, slot uint64) *Account {
	var data []byte
	if value.Data != nil {
		data = value.Data.GetBinary()
	}
	return &Account{
		Key:        key,
		Owner:      value.Owner,
		Lamports:   value.Lamports,
		Executable: value.Executable,
		RentEpoch:  rentEpochValue(value.RentEpoch),
		Data:       data,
		Slot:       slot,
	}
}

// rentEpochValue narrows the node's arbitrary-precision rent epoch. Rent-exempt
// accounts report u64::MAX-ish sentinels; anything outside uint64 collapses to 0.
func rentEpochValue(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
