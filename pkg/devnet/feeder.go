// Package devnet generates synthetic listing traffic against a running
// exchange: simulated makers list freshly minted items for native currency
// and simulated takers fill them.
package devnet

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/ledger"
	"github.com/uhyunpark/hyperswap/pkg/order"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// FeederConfig controls the generated fill rate.
type FeederConfig struct {
	BatchSize   int           // listings filled per tick
	Interval    time.Duration // tick period
	NumAccounts int           // simulated traders, at least 2
	Collection  common.Address
	ItemProxy   common.Address // intermediary the makers approve
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   5,
		Interval:    time.Second,
		NumAccounts: 20,
		Collection:  common.HexToAddress("0x00000000000000000000000000000000000000a9"),
	}
}

func HighLoadConfig() FeederConfig {
	cfg := DefaultFeederConfig()
	cfg.BatchSize = 50
	cfg.Interval = 100 * time.Millisecond
	cfg.NumAccounts = 200
	return cfg
}

var (
	minPrice = big.NewInt(1e15)
	topUp    = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
)

// Feeder signs listings and settles them through the exchange.
type Feeder struct {
	cfg     FeederConfig
	x       *exchange.Exchange
	book    *ledger.Ledger
	clock   util.Clock
	log     *zap.SugaredLogger
	signers []*crypto.Signer
	rng     *rand.Rand
	nextID  int64

	Filled int
	Failed int
}

func NewFeeder(cfg FeederConfig, x *exchange.Exchange, book *ledger.Ledger, clock util.Clock, log *zap.SugaredLogger) (*Feeder, error) {
	if cfg.NumAccounts < 2 {
		return nil, fmt.Errorf("devnet: need at least 2 accounts, got %d", cfg.NumAccounts)
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	f := &Feeder{
		cfg:     cfg,
		x:       x,
		book:    book,
		clock:   clock,
		log:     log,
		signers: make([]*crypto.Signer, cfg.NumAccounts),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := range f.signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("devnet: generate key: %w", err)
		}
		f.signers[i] = s
		book.SetApprovalForAll(s.Address(), cfg.ItemProxy, true)
	}
	return f, nil
}

// Accounts returns the simulated trader addresses.
func (f *Feeder) Accounts() []common.Address {
	out := make([]common.Address, len(f.signers))
	for i, s := range f.signers {
		out[i] = s.Address()
	}
	return out
}

// RunBatch lists and fills one batch, returning how many fills committed.
func (f *Feeder) RunBatch(ctx context.Context) int {
	filled := 0
	for i := 0; i < f.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		if err := f.fillOne(ctx); err != nil {
			f.Failed++
			f.log.Warnw("devnet_fill_failed", "err", err)
			continue
		}
		f.Filled++
		filled++
	}
	return filled
}

func (f *Feeder) fillOne(ctx context.Context) error {
	mi := f.rng.Intn(len(f.signers))
	ti := (mi + 1 + f.rng.Intn(len(f.signers)-1)) % len(f.signers)
	maker, taker := f.signers[mi], f.signers[ti]

	f.nextID++
	id := big.NewInt(f.nextID)
	f.book.MintUnit(asset.ClassNonFungible, f.cfg.Collection, id, maker.Address())

	price := new(big.Int).Mul(minPrice, big.NewInt(int64(1+f.rng.Intn(100))))
	if f.book.NativeBalance(taker.Address()).Cmp(price) < 0 {
		f.book.Deposit(taker.Address(), topUp)
	}

	nonce, err := f.x.NonceOf(maker.Address())
	if err != nil {
		return err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	o := &order.Order{
		Maker:      maker.Address(),
		SellAssets: []asset.Asset{asset.NonFungible(f.cfg.Collection, id, true)},
		BuyAssets:  []asset.Asset{asset.Native(price, price)},
		Nonce:      nonce,
		Salt:       salt,
		Mode:       order.ModeFixed,
	}
	sig, err := order.Sign(f.x.Signer(), maker, o)
	if err != nil {
		return err
	}
	call := exchange.Call{Caller: taker.Address(), Value: price, Now: util.Unix(f.clock)}
	_, err = f.x.BuyNow(ctx, call, o, sig)
	return err
}

// Start feeds batches every cfg.Interval until ctx is done or the returned
// cancel function is called.
func (f *Feeder) Start(ctx context.Context) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()
		started := time.Now()
		f.log.Infow("devnet_feeder_started", "batch", f.cfg.BatchSize, "interval", f.cfg.Interval, "accounts", len(f.signers))
		lastReport := started
		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(started)
				f.log.Infow("devnet_feeder_stopped", "filled", f.Filled, "failed", f.Failed, "elapsed", elapsed.Round(time.Second))
				return
			case <-ticker.C:
				f.RunBatch(feedCtx)
				if time.Since(lastReport) >= 10*time.Second {
					lastReport = time.Now()
					elapsed := time.Since(started).Seconds()
					f.log.Infow("devnet_feeder_stats", "filled", f.Filled, "failed", f.Failed,
						"rate", fmt.Sprintf("%.1f/s", float64(f.Filled)/elapsed))
				}
			}
		}
	}()
	return cancel
}
