// Package app assembles the bounty board service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"bountyboard/internal/config"
	"bountyboard/internal/escrow"
	"bountyboard/internal/idempotency"
	"bountyboard/internal/ledger"
	"bountyboard/internal/server"
	"bountyboard/internal/store"
)

type App struct {
	cfg     *config.Config
	Client  escrow.Client
	Server  *server.Server
	Monitor *escrow.Monitor
	Janitor *idempotency.Janitor

	closers []func()
}

// Build wires every component but starts nothing. Close releases whatever
// Build opened, including on error.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	idem, err := a.openIdempotency(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var opts []server.Option
	switch cfg.Chain.Mode {
	case config.ModeChain:
		opts, err = a.buildChain(ctx)
	default:
		opts, err = a.buildLocal(ctx)
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	if p, ok := idem.(idempotency.Purger); ok {
		a.Janitor = idempotency.NewJanitor(p, cfg.Service.IdempotencyWindow/24)
	}
	a.Server = server.NewServer(cfg, a.Client, idem, opts...)
	return a, nil
}

func (a *App) openIdempotency(ctx context.Context) (idempotency.Store, error) {
	svc := a.cfg.Service
	switch svc.IdempotencyStore {
	case "file":
		s, err := idempotency.NewFileStore(svc.IdempotencyPath)
		if err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := idempotency.NewPostgresStore(ctx, svc.IdempotencyDSN)
		if err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func (a *App) buildLocal(ctx context.Context) ([]server.Option, error) {
	cfg := a.cfg
	target := cfg.Ledger.StorePath
	if cfg.Ledger.StoreDriver == store.DriverPostgres {
		target = cfg.Ledger.StoreDSN
	}
	st, closeStore, err := store.Open(ctx, cfg.Ledger.StoreDriver, target)
	if err != nil {
		return nil, fmt.Errorf("ledger store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	vault := ledger.NewMemoryVault()
	l, err := ledger.New(ctx, ledger.Config{
		Owner:       cfg.OwnerAddress(),
		PlatformFee: cfg.Ledger.PlatformFeeBps,
		Policy:      cfg.Policy(),
		Vault:       vault,
		Store:       st,
		Clock:       clockwork.NewRealClock(),
	})
	if err != nil {
		return nil, err
	}
	client := escrow.NewLocalClient(l, vault)
	a.Client = client

	if amount := cfg.SeedAmountWei(); amount.Sign() > 0 {
		for _, acct := range cfg.Dev.SeedAccounts {
			if err := client.Fund(ctx, common.HexToAddress(acct), amount); err != nil {
				return nil, fmt.Errorf("seed %s: %w", acct, err)
			}
		}
		if n := len(cfg.Dev.SeedAccounts); n > 0 {
			log.WithFields(log.Fields{"accounts": n, "amount": amount.String()}).Info("[APP] Seeded dev balances")
		}
	}

	var opts []server.Option
	if checker, ok := st.(interface{ Ping(context.Context) error }); ok {
		opts = append(opts, server.WithStoreHealth(checker.Ping))
	}
	return opts, nil
}

func (a *App) buildChain(ctx context.Context) ([]server.Option, error) {
	cfg := a.cfg.Chain
	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	a.closers = append(a.closers, cli.Close)

	client, err := escrow.NewEthClientWithBackend(ctx, cli, escrow.EthClientConfig{
		PrivateKeyHex:   cfg.PrivateKey,
		ContractAddress: cfg.Contract,
		ChainID:         cfg.ChainID,
		ReceiptTimeout:  cfg.ReceiptTimeout,
		PollInterval:    cfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	a.Client = client

	if !cfg.Monitor {
		return nil, nil
	}
	events := ledger.NewEventLog()
	m, err := escrow.NewMonitor(cli, escrow.MonitorConfig{
		Contract:      common.HexToAddress(cfg.Contract),
		StartBlock:    cfg.StartBlock,
		MaxRange:      cfg.MaxRange,
		Confirmations: cfg.Confirmations,
		Interval:      cfg.PollInterval,
	}, events)
	if err != nil {
		return nil, err
	}
	a.Monitor = m
	return []server.Option{server.WithEvents(events), server.WithMonitor(m)}, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.Monitor != nil {
		if err := a.Monitor.Start(); err != nil {
			return err
		}
	}
	if a.Janitor != nil {
		if err := a.Janitor.Start(); err != nil {
			a.stopMonitor()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Debug("[APP] Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("[APP] Server shutdown")
	}
	if a.Janitor != nil {
		if err := a.Janitor.Stop(); err != nil {
			log.WithError(err).Warn("[APP] Janitor shutdown")
		}
	}
	a.stopMonitor()
	a.Close()
	log.Debug("[APP] Stopped")
	return runErr
}

func (a *App) stopMonitor() {
	if a.Monitor == nil {
		return
	}
	if err := a.Monitor.Stop(); err != nil {
		log.WithError(err).Warn("[APP] Monitor shutdown")
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
