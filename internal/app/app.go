package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"papertrade/internal/analyst"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/journal"
	"papertrade/internal/market"
	"papertrade/internal/monitor"
	"papertrade/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装价格模拟器、仓位引擎与终端接口，并驱动tick循环直至收到退出信号。
func (a *App) Run(ctx context.Context) error {
	catalog, err := market.NewCatalog(a.cfg.Instruments)
	if err != nil {
		return fmt.Errorf("初始化品种目录失败: %w", err)
	}

	feed := market.NewFeed(catalog, a.cfg.Feed)

	jrnl, err := journal.NewJournal(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化账本存储失败: %w", err)
	}

	snap, found, err := jrnl.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("恢复账户快照失败: %w", err)
	}

	var acct *engine.Account
	if found {
		acct = engine.RestoreAccount(snap)
		a.logger.Info("已恢复账户快照",
			zap.Float64("balance", snap.Balance),
			zap.Int("open_positions", len(snap.Positions)),
			zap.Int("history", len(snap.History)),
		)
	} else {
		acct = engine.NewAccount(a.cfg.Engine.InitialBalance)
		a.logger.Info("使用初始余额创建账户", zap.Float64("balance", a.cfg.Engine.InitialBalance))
	}

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	eng := engine.NewEngine(acct, catalog, engine.Options{
		MaxLeverage:       a.cfg.Engine.MaxLeverage,
		ClampLossToMargin: a.cfg.Engine.ClampLossToMargin,
	}, jrnl, a.logger)

	var analystClient *analyst.Client
	if a.cfg.OpenAI.Enabled {
		analystClient, err = analyst.NewClient(a.cfg.OpenAI, a.logger)
		if err != nil {
			return fmt.Errorf("初始化分析客户端失败: %w", err)
		}
	}

	// 先发布一次初始快照，保证引擎在首个tick前就有可用报价。
	eng.EvaluateTick(ctx, feed.Snapshot())

	a.logger.Info("模拟交易终端已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("symbols", catalog.Symbols()),
		zap.Duration("tick_interval", a.cfg.Feed.TickInterval),
		zap.Bool("clamp_loss_to_margin", a.cfg.Engine.ClampLossToMargin),
	)

	srv := newServer(eng, feed, catalog, analystClient, monitorSvc, a.cfg.Feed.TickInterval, a.logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: srv.routes(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.runTickLoop(groupCtx, feed, eng, monitorSvc)
	})

	group.Go(func() error {
		a.logger.Info("终端接口已启动", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("终端接口异常: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("关闭终端接口失败", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// runTickLoop 驱动价格模拟与仓位评估：每个tick先完整发布新价格，
// 再对同一份快照执行止损/止盈扫描。循环随上下文取消而停止。
func (a *App) runTickLoop(ctx context.Context, feed *market.Feed, eng *engine.Engine, monitorSvc *monitor.Service) error {
	ticker := time.NewTicker(a.cfg.Feed.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := feed.Advance()
			closed := eng.EvaluateTick(ctx, snap)
			for _, trade := range closed {
				monitorSvc.RecordClose(ctx, trade, eng.Balance())
			}
		}
	}
}
