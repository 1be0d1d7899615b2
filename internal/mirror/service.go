package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/quantfold/driftcore/internal/drift"
	"github.com/quantfold/driftcore/internal/driftidl"
	"github.com/quantfold/driftcore/internal/solrpc"
)

// Config selects what the mirror replicates.
type Config struct {
	ProgramID solana.PublicKey
	// Users are the user account keys (PDAs) to track beyond program-owned
	// market accounts.
	Users      []solana.PublicKey
	WSURL      string
	XToken     string
	Commitment rpc.CommitmentType
}

// Service keeps the cache live: it seeds over RPC, then folds in streamed
// deltas for the process lifetime.
type Service struct {
	cfg        Config
	rpc        *solrpc.Client
	cache      *Cache
	subscriber *Subscriber
	logger     *slog.Logger
}

func NewService(cfg Config, rpcClient *solrpc.Client, logger *slog.Logger) *Service {
	cache := NewCache(logger)
	subscriber := NewSubscriber(SubscriberConfig{
		URL:            cfg.WSURL,
		XToken:         cfg.XToken,
		ProgramID:      cfg.ProgramID,
		Accounts:       cfg.Users,
		Commitment:     cfg.Commitment,
		SubscribeSlots: true,
	}, logger)
	subscriber.OnSlot = cache.ObserveSlot
	// oracle accounts are owned by their oracle programs, so the program
	// subscription never carries them; each needs its own subscription as
	// soon as a market record names it
	cache.OnOracleDiscovered = func(keys []solana.PublicKey) {
		if err := subscriber.AddAccounts(keys...); err != nil {
			logger.Warn("subscribing discovered oracles", "err", err)
		}
	}

	return &Service{
		cfg:        cfg,
		rpc:        rpcClient,
		cache:      cache,
		subscriber: subscriber,
		logger:     logger,
	}
}

func (s *Service) Cache() *Cache {
	return s.cache
}

// Run starts the stream, seeds the cache, and applies deltas until ctx is
// cancelled. Streamed updates that arrive during seeding are buffered per
// key and folded in afterwards; the slot gate keeps ordering correct.
func (s *Service) Run(ctx context.Context) error {
	go s.subscriber.Run(ctx)

	seedErr := make(chan error, 1)
	go func() {
		seedErr <- s.seed(ctx)
	}()

	buffered := make(map[solana.PublicKey]*solrpc.Account)
	seeding := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-seedErr:
			if err != nil {
				return fmt.Errorf("seed cache: %w", err)
			}
			for _, account := range buffered {
				s.cache.Apply(account)
			}
			s.logger.Info("cache seeded",
				"entries", s.cache.Len(), "buffered_deltas", len(buffered))
			buffered = nil
			seeding = false

		case event, ok := <-s.subscriber.Events():
			if !ok || event.Done {
				return ctx.Err()
			}
			if seeding {
				prior, exists := buffered[event.Account.Key]
				if !exists || event.Account.Slot >= prior.Slot {
					buffered[event.Account.Key] = event.Account
				}
				continue
			}
			s.cache.Apply(event.Account)
		}
	}
}

// seed loads markets from the State counters, the configured users, and the
// oracles the market records point to.
func (s *Service) seed(ctx context.Context) error {
	keys, err := drift.DiscoverMarketKeys(ctx, s.rpc, s.cfg.ProgramID)
	if err != nil {
		return err
	}

	marketKeys := append(append([]solana.PublicKey{}, keys.Perp...), keys.Spot...)
	if err := s.applyBatch(ctx, marketKeys); err != nil {
		return fmt.Errorf("seed markets: %w", err)
	}
	if err := s.applyBatch(ctx, s.cfg.Users); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	// oracle keys are only known once market records are decoded
	if err := s.applyBatch(ctx, s.cache.OracleKeys()); err != nil {
		return fmt.Errorf("seed oracles: %w", err)
	}
	return nil
}

func (s *Service) applyBatch(ctx context.Context, keys []solana.PublicKey) error {
	if len(keys) == 0 {
		return nil
	}
	accounts, err := s.rpc.GetAccounts(ctx, keys)
	if err != nil {
		return err
	}
	for i, account := range accounts {
		if account == nil {
			s.logger.Warn("seed account missing on chain", "key", keys[i])
			continue
		}
		s.cache.Apply(account)
	}
	return nil
}

// FetchPerpMarket reads a perp market synchronously and folds it into the
// cache. Implements the resolver's fetch fallback.
func (s *Service) FetchPerpMarket(ctx context.Context, index uint16) (*driftidl.PerpMarket, error) {
	pda, _, err := drift.DerivePerpMarketPDA(s.cfg.ProgramID, index)
	if err != nil {
		return nil, err
	}
	account, err := s.rpc.GetAccount(ctx, pda)
	if err != nil {
		return nil, err
	}
	market, err := driftidl.ParseAccount_PerpMarket(account.Data)
	if err != nil {
		return nil, err
	}
	s.cache.Apply(account)
	return market, nil
}

// FetchSpotMarket reads a spot market synchronously and folds it into the
// cache.
func (s *Service) FetchSpotMarket(ctx context.Context, index uint16) (*driftidl.SpotMarket, error) {
	pda, _, err := drift.DeriveSpotMarketPDA(s.cfg.ProgramID, index)
	if err != nil {
		return nil, err
	}
	account, err := s.rpc.GetAccount(ctx, pda)
	if err != nil {
		return nil, err
	}
	market, err := driftidl.ParseAccount_SpotMarket(account.Data)
	if err != nil {
		return nil, err
	}
	s.cache.Apply(account)
	return market, nil
}
