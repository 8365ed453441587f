package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"synthvault/config"
	"synthvault/core/state"
	"synthvault/crypto"
	"synthvault/native/oracle"
	"synthvault/native/registry"
	"synthvault/native/vault"
	"synthvault/observability/logging"
	"synthvault/rpc"
	"synthvault/rpc/modules"
	"synthvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("synthvaultd", cfg.Environment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	owner, err := resolveAddress("owner", cfg.OwnerAddress, logger)
	if err != nil {
		logger.Error("Failed to resolve owner address", slog.Any("error", err))
		os.Exit(1)
	}
	vaultAddr, err := resolveAddress("vault", cfg.VaultAddress, logger)
	if err != nil {
		logger.Error("Failed to resolve vault address", slog.Any("error", err))
		os.Exit(1)
	}
	feePool, err := resolveAddress("feepool", cfg.FeePoolAddress, logger)
	if err != nil {
		logger.Error("Failed to resolve fee pool address", slog.Any("error", err))
		os.Exit(1)
	}

	resolver := registry.New()
	if err := resolver.Set(registry.NameFeePool, feePool); err != nil {
		logger.Error("Failed to seed resolver", slog.Any("error", err))
		os.Exit(1)
	}

	maxAge := time.Duration(cfg.OracleMaxAgeSeconds) * time.Second
	rates := oracle.NewAggregator([]string{"manual"}, maxAge)
	manual := oracle.NewManualOracle()
	rates.Register("manual", manual)
	if rate := strings.TrimSpace(cfg.ManualRate); rate != "" {
		if err := manual.SetDecimal("ETH", "SETH", rate, time.Now()); err != nil {
			logger.Error("Failed to seed manual oracle", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("seeded manual oracle", "pair", "ETH/SETH", "rate", rate)
	}

	engine := vault.NewEngine(vaultAddr)
	engine.SetState(manager)
	engine.SetResolver(resolver)
	engine.SetRateSource(rates)
	if err := engine.Activate(owner); err != nil {
		logger.Error("Failed to activate vault", slog.Any("error", err))
		os.Exit(1)
	}
	if err := engine.UpdateParams(owner, cfg.Vault); err != nil {
		// Ownership may have been transferred on-ledger since the config was
		// written; keep the persisted params instead of failing the boot.
		if errors.Is(err, vault.ErrNotOwner) {
			logger.Warn("configured owner no longer holds the admin gate, keeping stored params")
		} else {
			logger.Error("Failed to apply configured params", slog.Any("error", err))
			os.Exit(1)
		}
	}

	logger.Info("vault engine ready",
		"network", cfg.NetworkName,
		"owner", owner.String(),
		"vault", vaultAddr.String(),
		"feePool", feePool.String(),
	)

	module := modules.NewVaultModule(engine, resolver)
	server := rpc.NewServer(module, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// resolveAddress decodes a configured bech32 address, generating an ephemeral
// one when the config leaves it empty.
func resolveAddress(role, value string, logger *slog.Logger) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return crypto.Address{}, fmt.Errorf("%s: %w", role, err)
		}
		return addr, nil
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: generate key: %w", role, err)
	}
	addr := key.PubKey().Address()
	logger.Warn("generated ephemeral address", "role", role, "address", addr.String())
	return addr, nil
}
