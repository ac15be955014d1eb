package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/volumebot/internal/blob/s3"
	"github.com/alanyoungcy/volumebot/internal/book"
	"github.com/alanyoungcy/volumebot/internal/config"
	"github.com/alanyoungcy/volumebot/internal/crypto"
	"github.com/alanyoungcy/volumebot/internal/domain"
	"github.com/alanyoungcy/volumebot/internal/executor"
	"github.com/alanyoungcy/volumebot/internal/feed"
	"github.com/alanyoungcy/volumebot/internal/notify"
	"github.com/alanyoungcy/volumebot/internal/platform/arkham"
	"github.com/alanyoungcy/volumebot/internal/server"
	"github.com/alanyoungcy/volumebot/internal/server/handler"
	"github.com/alanyoungcy/volumebot/internal/service"
	"github.com/alanyoungcy/volumebot/internal/strategy"
)

const (
	terminalTimeout = 10 * time.Second
	serverGrace     = 5 * time.Second
)

// errTargetReached stops the run group once the controller is done.
var errTargetReached = errors.New("app: volume target reached")

// run starts every worker and blocks until one of them ends the run.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	startedAt := time.Now()

	var lease domain.Lease
	if deps.LockManager != nil {
		l, err := deps.LockManager.Acquire(ctx, lockKey(cfg), cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: instance lock: %w", err)
		}
		defer l.Release()
		lease = l
		a.logger.InfoContext(ctx, "instance lock acquired", slog.String("key", lockKey(cfg)))
	}
	return a.runLocked(ctx, deps, lease, startedAt)
}

func (a *App) runLocked(ctx context.Context, deps *Dependencies, lease domain.Lease, startedAt time.Time) error {
	cfg := a.cfg
	symbol := cfg.Market.Symbol

	g, gctx := errgroup.WithContext(ctx)

	store := book.NewStore(book.WithSpreadInterval(cfg.Feed.SpreadLogEvery.Duration))
	auditor := service.NewAuditor(deps.AuditStore, a.logger)

	var archive service.TradeArchive
	if deps.BlobWriter != nil {
		archiver := s3blob.NewTradeArchiver(deps.BlobWriter, s3blob.ArchiverConfig{
			Symbol:        symbol,
			SessionID:     a.sessionID,
			FlushInterval: cfg.S3.FlushInterval.Duration,
			MaxBatch:      cfg.S3.MaxBatch,
		}, a.logger)
		archive = archiver
		g.Go(func() error { return archiver.Run(gctx) })
	}

	recorder := service.NewTradeRecorder(symbol, deps.TradeStore, deps.SignalBus, archive, deps.Notifier, a.logger)
	quotes := service.NewQuoteService(symbol, store, deps.QuoteCache, deps.SignalBus, a.logger)

	connector := feed.NewConnector(feed.Config{
		Symbol:         symbol,
		Group:          cfg.Market.Group,
		ConfirmationID: cfg.Market.ConfirmationID,
		BackoffBase:    cfg.Feed.BackoffBase.Duration,
		BackoffMax:     cfg.Feed.BackoffMax.Duration,
		ReconnectDelay: cfg.Feed.ReconnectDelay.Duration,
	}, wsDialer(cfg, deps.Auth), store, a.logger,
		feed.WithObserver(func(from, to feed.State, err error) {
			detail := map[string]any{"symbol": symbol, "from": from.String(), "to": to.String()}
			if err != nil {
				detail["error"] = err.Error()
			}
			auditor.Record("feed_state", detail)
		}),
	)

	controller := strategy.NewController(tradingConfig(cfg, a.sessionID), store,
		executor.NewPairExecutor(deps.Orders, a.logger), a.logger,
		strategy.WithTradeSink(recorder),
		strategy.WithOnTarget(func(p domain.Progress) {
			a.finish(deps, 0, notify.EventTarget, "Volume target reached", map[string]any{
				"symbol":       symbol,
				"session_id":   a.sessionID,
				"base_volume":  p.BaseVolume.StringFixed(5),
				"quote_volume": p.QuoteVolume.StringFixed(2),
				"trades":       p.Trades,
			})
		}),
	)

	g.Go(func() error { return auditor.Run(gctx) })
	g.Go(func() error { return deps.Notifier.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error { return quotes.Run(gctx, store.SpreadChanges()) })

	g.Go(func() error {
		err := connector.Run(gctx)
		if errors.Is(err, domain.ErrUnauthorized) {
			store.Reset()
			a.finish(deps, 0, notify.EventFeedFailed, "Feed credentials rejected", map[string]any{
				"symbol": symbol,
				"error":  err.Error(),
			})
		}
		return err
	})

	g.Go(func() error {
		if err := controller.Run(gctx); err != nil {
			return err
		}
		return errTargetReached
	})

	if lease != nil {
		g.Go(func() error { return a.keepLease(gctx, deps, lease) })
	}

	if cfg.Server.Enabled {
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(deps.Checks),
			Status: handler.NewStatusHandler(symbol, a.sessionID, startedAt, statusSource{
				feed:       connector,
				book:       store,
				controller: controller,
			}),
		}
		if deps.TradeStore != nil {
			handlers.Trades = handler.NewTradesHandler(deps.TradeStore, a.sessionID, a.logger)
		}
		srv := server.NewServer(server.Config{Addr: cfg.Server.Addr(), APIKey: cfg.Server.APIKey}, handlers, a.logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), serverGrace)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errTargetReached):
		return nil
	case err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled):
		return ctx.Err()
	default:
		return err
	}
}

// finish records and announces a terminal event synchronously, then invokes
// the exit hook. Only the first caller gets through.
func (a *App) finish(deps *Dependencies, code int, event, title string, detail map[string]any) {
	a.exitOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), terminalTimeout)
		defer cancel()

		a.logger.InfoContext(ctx, "terminating",
			slog.String("event", event),
			slog.Int("code", code),
		)
		if deps.AuditStore != nil {
			if err := deps.AuditStore.Log(ctx, event, detail); err != nil {
				a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
			}
		}
		if err := deps.Notifier.Notify(ctx, event, title, formatDetail(detail)); err != nil {
			a.logger.WarnContext(ctx, "terminal notification failed", slog.String("error", err.Error()))
		}
		a.exit(code)
	})
}

// keepLease renews the instance lock every third of its TTL. Losing the lock
// means another instance may be trading the same account, so the run stops.
func (a *App) keepLease(ctx context.Context, deps *Dependencies, lease domain.Lease) error {
	every := a.cfg.Redis.LockTTL.Duration / 3
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := lease.Refresh(ctx)
			if err == nil {
				continue
			}
			if errors.Is(err, domain.ErrLockLost) {
				a.logger.ErrorContext(ctx, "instance lock lost, stopping", slog.String("key", lockKey(a.cfg)))
				notifyCtx, cancel := context.WithTimeout(context.Background(), terminalTimeout)
				_ = deps.Notifier.Notify(notifyCtx, notify.EventLockLost, "Instance lock lost",
					fmt.Sprintf("symbol=%s session=%s", a.cfg.Market.Symbol, a.sessionID))
				cancel()
				return fmt.Errorf("app: %w", err)
			}
			a.logger.WarnContext(ctx, "instance lock refresh failed", slog.String("error", err.Error()))
		}
	}
}

// wsDialer signs a fresh handshake for every connection attempt.
func wsDialer(cfg *config.Config, auth *crypto.HMACAuth) feed.DialFunc {
	return func(ctx context.Context) (feed.Stream, error) {
		sess, err := arkham.Dial(ctx, arkham.DialConfig{
			URL:              cfg.Venue.WSURL,
			Header:           auth.WSHeaders(cfg.Venue.WSPath),
			HandshakeTimeout: cfg.Feed.HandshakeTimeout.Duration,
			Heartbeat:        cfg.Feed.Heartbeat.Duration,
		})
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

func tradingConfig(cfg *config.Config, sessionID string) strategy.Config {
	return strategy.Config{
		Symbol:          cfg.Market.Symbol,
		Subaccount:      cfg.Market.Subaccount,
		SessionID:       sessionID,
		SpreadThreshold: config.Decimal(cfg.Trading.SpreadThreshold),
		MinDwell:        cfg.Trading.MinDwell.Duration,
		PollInterval:    cfg.Trading.PollInterval.Duration,
		FixedLegSize:    config.Decimal(cfg.Trading.FixedLegSize),
		MinTradeSize:    config.Decimal(cfg.Trading.MinTradeSize),
		MinNotional:     config.Decimal(cfg.Trading.MinNotional),
		TargetUSD:       config.Decimal(cfg.Trading.TargetUSD),
		ReferencePrice:  config.Decimal(cfg.Trading.ReferencePrice),
	}
}

func lockKey(cfg *config.Config) string {
	return fmt.Sprintf("volumebot:%s:%d", cfg.Market.Symbol, cfg.Market.Subaccount)
}

// formatDetail renders detail as sorted key=value lines.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(lines, "\n")
}

// statusSource adapts the live components to the status handler.
type statusSource struct {
	feed       *feed.Connector
	book       *book.Store
	controller *strategy.Controller
}

func (s statusSource) FeedState() string { return s.feed.State().String() }

func (s statusSource) Quote() domain.Quote { return s.book.Snapshot() }

func (s statusSource) Depth() (bids, asks int) { return s.book.Depth() }

func (s statusSource) Progress() domain.Progress { return s.controller.Progress() }
