package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/ethereum/go-ethereum/ethclient"

	"rewardsd/internal/agent"
	"rewardsd/internal/chain"
	"rewardsd/internal/config"
	"rewardsd/internal/notify"
	"rewardsd/internal/retry"
	"rewardsd/internal/schedule"
	"rewardsd/internal/store"
	logx "rewardsd/pkg/logx"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(cfg.Log)
	defer logSvc.Close()

	if err := run(ctx, cfg, logSvc, log); err != nil {
		log.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logSvc *logx.Service, log logx.Logger) error {
	plan, err := cfg.Plan()
	if err != nil {
		return err
	}

	log.Info("rewardsd starting",
		logx.String("contract", cfg.ContractAddress.Hex()),
		logx.String("rpc", cfg.RPCURL),
		logx.Uint64("chain_id", cfg.ChainID),
		logx.String("plan", plan.Describe()),
	)

	client, err := dialWithRetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	if client == nil {
		// Shutdown requested while the endpoint was unreachable.
		return nil
	}
	defer client.Close()

	contract, err := chain.NewContract(cfg.ContractAddress)
	if err != nil {
		return err
	}
	if verr := contract.VerifyDeployed(ctx, client); verr != nil {
		if errors.Is(verr, chain.ErrNoCode) {
			return verr
		}
		log.Warn("could not verify contract deployment, continuing", logx.Err(verr))
	}
	logContractState(ctx, contract, client, log)

	sub := chain.NewSubmitter(client, contract, cfg.PrivateKey, chain.SubmitterConfig{
		ChainID:        cfg.ChainID,
		GasLimit:       cfg.GasLimit,
		GasPriceWei:    cfg.GasPriceWei,
		Preflight:      cfg.Preflight,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
	}, log.With(logx.String("component", "submitter")))

	if balance, berr := client.BalanceAt(ctx, sub.From(), nil); berr == nil {
		log.Info("signer account",
			logx.String("address", sub.From().Hex()),
			logx.String("balance_wei", balance.String()))
	} else {
		log.Warn("could not read signer balance", logx.Err(berr))
	}

	st, err := store.Open(cfg.Store, log.With(logx.String("component", "store")))
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	tg, err := notify.New(notify.Config{Token: cfg.TelegramToken, ChatID: cfg.TelegramChatID},
		log.With(logx.String("component", "notify")))
	if err != nil {
		return err
	}

	ctrl := retry.New(retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
		Jitter:      cfg.BackoffJitter,
	}, sub, schedule.System(), log.With(logx.String("component", "retry")))

	params := agent.Params{
		Plan:       plan,
		Clock:      schedule.System(),
		Controller: ctrl,
		Store:      st,
		Location:   cfg.Location,
		Log:        log.With(logx.String("component", "agent")),
	}
	if tg != nil {
		params.Notifier = tg
	}
	if cfg.ChainRecheck {
		params.LastDistribution = func(ctx context.Context) (time.Time, error) {
			last, lerr := contract.LastDistributionTime(ctx, client)
			if lerr != nil {
				return time.Time{}, lerr
			}
			if last.Sign() == 0 {
				return time.Time{}, nil
			}
			return time.Unix(last.Int64(), 0), nil
		}
	}

	if cfg.SettingsFile != "" {
		go func() {
			if werr := config.WatchSettings(ctx, cfg.SettingsFile, log.With(logx.String("component", "config")), logSvc.Apply); werr != nil && ctx.Err() == nil {
				log.Warn("settings watcher stopped", logx.Err(werr))
			}
		}()
	}

	notifyReady(ctx, log)

	err = agent.New(params).Run(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("rewardsd stopped")
	return err
}

// logContractState reads the contract's diagnostic views once at startup.
// Best effort: a contract without these views is still serviceable.
func logContractState(ctx context.Context, contract *chain.Contract, client *ethclient.Client, log logx.Logger) {
	fields := make([]logx.Field, 0, 4)
	if active, err := contract.IsActive(ctx, client); err == nil {
		fields = append(fields, logx.Bool("active", active))
	}
	if paused, err := contract.Paused(ctx, client); err == nil {
		fields = append(fields, logx.Bool("paused", paused))
	}
	if can, err := contract.CanDistribute(ctx, client); err == nil {
		fields = append(fields, logx.Bool("can_distribute", can))
	}
	if pool, err := contract.RewardsPool(ctx, client); err == nil {
		fields = append(fields, logx.String("rewards_pool_wei", pool.String()))
	}
	if len(fields) == 0 {
		log.Debug("contract state views unavailable")
		return
	}
	log.Info("contract state", fields...)
}

// dialWithRetry keeps trying the endpoint; connectivity problems at boot
// are transient infrastructure faults, not configuration errors. A chain
// id mismatch is configuration and aborts immediately.
func dialWithRetry(ctx context.Context, cfg *config.Config, log logx.Logger) (*ethclient.Client, error) {
	const retryDelay = 10 * time.Second
	for {
		client, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID)
		if err == nil {
			return client, nil
		}
		if errors.Is(err, chain.ErrChainMismatch) {
			return nil, err
		}
		log.Warn("rpc endpoint unreachable, retrying",
			logx.Duration("delay", retryDelay), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(retryDelay):
		}
	}
}

// notifyReady tells systemd we are up and keeps the watchdog fed when one
// is configured. No-ops outside systemd.
func notifyReady(ctx context.Context, log logx.Logger) {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
