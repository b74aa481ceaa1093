package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/asset"
	"github.com/uhyunpark/hyperswap/pkg/devnet"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/ledger"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// Devnet intermediary deployments.
var (
	fungibleProxyAddr = common.HexToAddress("0x0000000000000000000000000000000000001001")
	itemProxyAddr     = common.HexToAddress("0x0000000000000000000000000000000000001002")
)

var (
	devnetNative = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	devnetTokens = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, closeLog, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- Registry store ----
	store, err := openStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()
	sugar.Infow("store_opened", "path", cfg.Node.DBPath, "persistent", cfg.Node.DBPath != "")

	// ---- Ledger and intermediaries ----
	domain := cfg.EIP712Domain()
	book := ledger.New()
	fungible := ledger.NewFungibleProxy(book, fungibleProxyAddr)
	items := ledger.NewItemProxy(book, itemProxyAddr)
	fungible.Allow(domain.VerifyingContract, true)
	items.Allow(domain.VerifyingContract, true)

	routes := exchange.NewIntermediaries()
	routes.RegisterFungible(fungible.Address(), fungible)
	routes.RegisterItems(items.Address(), items)

	// ---- Exchange ----
	owner := common.HexToAddress(cfg.Protocol.Owner)
	metrics := exchange.NewMetrics("hyperswap")
	x, err := exchange.New(exchange.Config{
		Domain:         domain,
		Store:          store,
		Host:           book,
		Vault:          ledger.NewVault(book, domain.VerifyingContract),
		Intermediaries: routes,
		Genesis:        genesis(cfg, owner),
		Logger:         sugar.Named("exchange"),
		Metrics:        metrics,
	})
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}

	if owner == (common.Address{}) {
		sugar.Warnw("owner_unset", "hint", "set OWNER to enable admin calls")
	}
	if len(cfg.Node.DevnetAccounts) > 0 {
		fundDevnet(sugar, x, book, cfg, owner)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Synthetic traffic (optional) ----
	if os.Getenv("ENABLE_TXGEN") == "true" {
		feederCfg := devnet.DefaultFeederConfig()
		if os.Getenv("TXGEN_MODE") == "high" {
			feederCfg = devnet.HighLoadConfig()
		}
		feederCfg.ItemProxy = itemProxyAddr
		feeder, err := devnet.NewFeeder(feederCfg, x, book, nil, sugar.Named("devnet"))
		if err != nil {
			sugar.Fatalw("devnet_feeder_failed", "err", err)
		}
		cancelFeeder := feeder.Start(ctx)
		defer cancelFeeder()
	} else {
		sugar.Info("txgen_disabled")
	}

	// ---- API Server ----
	callLog, err := openCallLog(filepath.Join(filepath.Dir(cfg.Node.LogFile), "calls.log"))
	if err != nil {
		sugar.Fatalw("call_log_open_failed", "err", err)
	}
	defer callLog.Close()

	srv := api.NewServer(api.Config{
		Exchange:       x,
		Metrics:        metrics,
		Logger:         sugar.Named("api"),
		AllowedOrigins: cfg.Node.AllowedOrigins,
		CallLog:        callLog,
	})

	sugar.Infow("node_starting",
		"exchange", domain.VerifyingContract.Hex(),
		"chain_id", domain.ChainID,
		"owner", owner.Hex(),
		"api_addr", cfg.Node.APIAddr)

	if err := srv.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func openStore(path string) (storage.Store, error) {
	if path == "" {
		return storage.NewMemStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return storage.NewPebbleStore(path)
}

func openCallLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func genesis(cfg params.Config, owner common.Address) storage.Params {
	sink := owner
	if cfg.Protocol.FeeSink != "" {
		sink = common.HexToAddress(cfg.Protocol.FeeSink)
	}
	return storage.Params{
		Owner:   owner,
		FeeSink: sink,
		FeeBps:  cfg.Protocol.FeeBps,
		Intermediaries: map[asset.Class]common.Address{
			asset.ClassFungible:     fungibleProxyAddr,
			asset.ClassNonFungible:  itemProxyAddr,
			asset.ClassSemiFungible: itemProxyAddr,
			asset.ClassCollectible:  itemProxyAddr,
		},
	}
}

// fundDevnet credits every devnet account and approves both intermediaries
// on its behalf. The devnet token is allow-listed when the node knows the
// owner.
func fundDevnet(sugar *zap.SugaredLogger, x *exchange.Exchange, book *ledger.Ledger, cfg params.Config, owner common.Address) {
	token := common.HexToAddress(cfg.Node.DevnetToken)
	for _, a := range cfg.Node.DevnetAccounts {
		addr := common.HexToAddress(a)
		book.Deposit(addr, devnetNative)
		book.MintToken(token, addr, devnetTokens)
		book.SetApprovalForAll(addr, fungibleProxyAddr, true)
		book.SetApprovalForAll(addr, itemProxyAddr, true)
	}
	sugar.Infow("devnet_funded", "accounts", len(cfg.Node.DevnetAccounts), "token", token.Hex())

	if owner == (common.Address{}) {
		return
	}
	if err := x.SetWhitelisted(owner, token, true); err != nil {
		sugar.Warnw("devnet_whitelist_failed", "token", token.Hex(), "err", err)
	}
}
