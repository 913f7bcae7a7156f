// Package engine is the central orchestrator of the hedging process.
//
// It wires together all subsystems:
//
//  1. Two venue clients, one per trading account, authenticated separately.
//  2. The instrument registry resolves configured symbols and loads metadata.
//  3. Each enabled symbol gets a strategy.Hedger owning its fill ledger and
//     order table.
//  4. A WebSocket book feed keeps the shared top-of-book cache warm; REST
//     refresh covers gaps.
//  5. The risk manager watches margin ratios and unhedged age, and owns
//     alert deduplication.
//
// The control loop is tick-driven: every LoopInterval both accounts are
// snapshotted concurrently (positions, open orders, summary), then each
// hedger runs one decision pass over its instrument's slice of the
// snapshot. Query failures alert and skip the tick; the loop never stops
// on its own except when MaxRuntime elapses.
//
// Lifecycle: New() → Run(ctx) → [runs until ctx cancel or MaxRuntime] →
// stop-cleanup of resting strategy orders.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"grvt-hedge/internal/alert"
	"grvt-hedge/internal/config"
	"grvt-hedge/internal/exchange"
	"grvt-hedge/internal/market"
	"grvt-hedge/internal/risk"
	"grvt-hedge/internal/strategy"
	"grvt-hedge/pkg/types"
)

// Snapshot-failure alert cooldowns, per the ops runbook: account queries
// re-page every 2 minutes, loop panics likewise.
const (
	queryAlertCooldown = 2 * time.Minute
	loopAlertCooldown  = 2 * time.Minute

	// shutdownGrace bounds the stop-cleanup REST calls once the run
	// context is gone.
	shutdownGrace = 5 * time.Second

	// poolWorkers sizes the shared worker pool: two account snapshots
	// per tick plus headroom for the odd overlapping call.
	poolWorkers = 4
	poolBuffer  = 16
)

// accountSnapshot is one account's per-tick view. ok is false when any
// of the three queries failed, which skips strategy processing for the
// whole tick.
type accountSnapshot struct {
	positions map[string]types.Position
	orders    []types.Order
	summary   types.AccountSummary
	ok        bool
}

// Engine owns the hedging lifecycle for all configured symbols.
type Engine struct {
	cfg     *config.Config
	logger  *logrus.Logger
	log     *logrus.Entry
	alerts  *risk.Manager
	clients map[types.AccountLabel]*exchange.Client
	symbols []config.SymbolConfig

	registry *market.Registry
	books    *market.BookCache
	pool     *pond.WorkerPool
	hedgers  []*strategy.Hedger

	started time.Time
}

// New wires the engine from configuration. Nothing here touches the
// network; Run performs login, metadata loading and the loop itself.
func New(cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	symbols, err := config.LoadSymbols(cfg.SymbolsFile)
	if err != nil {
		return nil, err
	}
	enabled := symbols[:0]
	for _, s := range symbols {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no enabled symbols in %s", cfg.SymbolsFile)
	}

	clients := make(map[types.AccountLabel]*exchange.Client, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		client, err := exchange.NewClient(acct, logger)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acct.Label, err)
		}
		clients[acct.Label] = client
	}

	notifier := alert.NewNotifier(cfg.Alert, logger)
	alerts := risk.NewManager(risk.OptionsFromConfig(cfg), notifier, logger)

	// Market data is public; either account's client can serve it.
	marketClient := clients[types.AccountA]

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		log:      logger.WithField("component", "engine"),
		alerts:   alerts,
		clients:  clients,
		symbols:  enabled,
		registry: market.NewRegistry(marketClient, logger),
		books:    market.NewBookCache(marketClient, cfg.OrderbookDepth, logger),
		pool:     pond.New(poolWorkers, poolBuffer),
	}, nil
}

// Run logs in, bootstraps ledger state from live positions, then drives
// the tick loop until the context is cancelled or MaxRuntime elapses.
// On the way out resting strategy orders are cleaned up per config.
func (e *Engine) Run(ctx context.Context) error {
	e.started = time.Now()

	group := e.pool.Group()
	errs := make([]error, len(e.cfg.Accounts))
	for i, acct := range e.cfg.Accounts {
		i, label := i, acct.Label
		group.Submit(func() {
			errs[i] = e.clients[label].Login(ctx)
		})
	}
	group.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("login %s: %w", e.cfg.Accounts[i].Label, err)
		}
	}

	e.registry.Preload(ctx)
	if err := e.buildHedgers(ctx); err != nil {
		return err
	}

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	if e.cfg.UseWSBook {
		e.startBookFeed(feedCtx)
	}

	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"symbols":  len(e.hedgers),
		"interval": e.cfg.LoopInterval.String(),
	}).Info("hedge loop started")

	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()

loop:
	for {
		if e.cfg.MaxRuntime > 0 && time.Since(e.started) >= e.cfg.MaxRuntime {
			e.log.WithField("runtime", time.Since(e.started).String()).Info("max runtime reached")
			break
		}
		e.safeTick(ctx)

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	stopFeed()

	// The run context is typically already cancelled here; cleanup gets
	// its own short deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	e.cleanupOnStop(stopCtx)

	e.pool.StopAndWait()
	e.log.Info("engine stopped")
	return ctx.Err()
}

// buildHedgers resolves the configured symbols against the venue and
// constructs one hedger per instrument. Unknown symbols fail startup:
// trading a mistyped instrument is worse than not starting.
func (e *Engine) buildHedgers(ctx context.Context) error {
	params := strategy.ParamsFromConfig(e.cfg)
	for _, sym := range e.symbols {
		name, err := e.registry.Resolve(sym.Instrument)
		if err != nil {
			return err
		}
		meta, err := e.registry.Metadata(ctx, name)
		if err != nil {
			return err
		}
		sym.Instrument = name
		e.hedgers = append(e.hedgers, strategy.NewHedger(
			sym,
			meta,
			e.books,
			e.clients[types.AccountA],
			e.clients[types.AccountB],
			e.alerts,
			params,
			e.logger,
		))
	}
	return nil
}

// startBookFeed wires WebSocket book snapshots into the shared cache.
// The feed reconnects on its own; a dead feed degrades to REST refresh.
func (e *Engine) startBookFeed(ctx context.Context) {
	instruments := make([]string, len(e.hedgers))
	for i, h := range e.hedgers {
		instruments[i] = h.Instrument()
	}
	wsURL := e.cfg.Accounts[0].Env.Hosts().WS
	feed := exchange.NewBookFeed(wsURL, instruments, e.cfg.OrderbookDepth, e.logger)

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.WithError(err).Error("book feed terminated")
		}
	}()
	go func() {
		defer feed.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-feed.Snapshots():
				e.books.Apply(snap)
			}
		}
	}()
}

// bootstrap seeds every hedger's ledger from live positions and adopts
// resting strategy orders. Startup is strict: a venue we cannot read is
// a venue we must not trade.
func (e *Engine) bootstrap(ctx context.Context) error {
	now := time.Now()
	snaps, ok := e.collect(ctx)
	if !ok {
		return fmt.Errorf("bootstrap: account snapshot failed")
	}
	for _, h := range e.hedgers {
		h.Bootstrap(ctx, now, pairFor(h.Instrument(), snaps))
	}
	return nil
}

// safeTick runs one loop pass, converting panics into alerts so a bug
// in one tick cannot take the process down with orders resting.
func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error(string(debug.Stack()))
			e.alerts.Notify(ctx, "main_loop_error", loopAlertCooldown,
				"GRVT hedge loop error", fmt.Sprint(r))
		}
	}()
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) {
	now := time.Now()
	snaps, ok := e.collect(ctx)
	if ok {
		for _, h := range e.hedgers {
			h.Tick(ctx, now, pairFor(h.Instrument(), snaps))
			earliest, open := h.EarliestUnmatched()
			e.alerts.ObserveLots(ctx, now, h.Instrument(), earliest, open)
		}
	}
	e.alerts.DailyReport(ctx, now)
}

// collect snapshots both accounts concurrently. Partial data is not
// usable: hedging decisions compare the two books of positions, so one
// failed account poisons the tick.
func (e *Engine) collect(ctx context.Context) (map[types.AccountLabel]accountSnapshot, bool) {
	labels := []types.AccountLabel{types.AccountA, types.AccountB}
	results := make([]accountSnapshot, len(labels))

	group := e.pool.Group()
	for i, label := range labels {
		i, label := i, label
		group.Submit(func() {
			results[i] = e.fetchAccount(ctx, label)
		})
	}
	group.Wait()

	snaps := make(map[types.AccountLabel]accountSnapshot, len(labels))
	ok := true
	for i, label := range labels {
		snaps[label] = results[i]
		ok = ok && results[i].ok
	}
	return snaps, ok
}

// fetchAccount pulls one account's positions, open orders and summary.
// Each failure raises its own keyed alert so ops can tell which query
// is degraded. The margin check rides on the summary fetch.
func (e *Engine) fetchAccount(ctx context.Context, label types.AccountLabel) accountSnapshot {
	client := e.clients[label]
	snap := accountSnapshot{ok: true}

	positions, err := client.Positions(ctx)
	if err != nil {
		e.alerts.Notify(ctx, "positions:"+string(label), queryAlertCooldown,
			"GRVT positions query failed "+string(label), err.Error())
		snap.ok = false
	} else {
		snap.positions = make(map[string]types.Position, len(positions))
		for _, p := range positions {
			snap.positions[p.Instrument] = p
		}
	}

	orders, err := client.OpenOrders(ctx)
	if err != nil {
		e.alerts.Notify(ctx, "open_orders:"+string(label), queryAlertCooldown,
			"GRVT open orders query failed "+string(label), err.Error())
		snap.ok = false
	} else {
		snap.orders = orders
	}

	summary, err := client.AccountSummary(ctx)
	if err != nil {
		e.alerts.Notify(ctx, "summary:"+string(label), queryAlertCooldown,
			"GRVT summary query failed "+string(label), err.Error())
		snap.ok = false
	} else {
		snap.summary = summary
		e.alerts.CheckMMR(ctx, label, summary)
	}

	return snap
}

// pairFor slices a two-account snapshot down to one instrument.
func pairFor(instrument string, snaps map[types.AccountLabel]accountSnapshot) strategy.PairSnapshot {
	a, b := snaps[types.AccountA], snaps[types.AccountB]
	return strategy.PairSnapshot{
		A:       strategy.NewPositionView(a.positions[instrument]),
		B:       strategy.NewPositionView(b.positions[instrument]),
		OrdersA: ordersFor(instrument, a.orders),
		OrdersB: ordersFor(instrument, b.orders),
	}
}

func ordersFor(instrument string, orders []types.Order) []types.Order {
	var out []types.Order
	for _, o := range orders {
		if len(o.Legs) > 0 && o.Legs[0].Instrument == instrument {
			out = append(out, o)
		}
	}
	return out
}

// cleanupOnStop cancels resting strategy orders on both accounts,
// keeping the newest StopKeepOrders per account and instrument. Orders
// placed by anything else are never touched.
func (e *Engine) cleanupOnStop(ctx context.Context) {
	if !e.cfg.CancelOnStop {
		e.log.Info("cancel_on_stop disabled, leaving orders resting")
		return
	}

	for _, label := range []types.AccountLabel{types.AccountA, types.AccountB} {
		client := e.clients[label]
		orders, err := client.OpenOrders(ctx)
		if err != nil {
			e.log.WithError(err).WithField("account", label).Error("stop cleanup: open orders query failed")
			continue
		}

		byInstrument := make(map[string][]types.Order)
		for _, o := range orders {
			if len(o.Legs) == 0 {
				continue
			}
			byInstrument[o.Legs[0].Instrument] = append(byInstrument[o.Legs[0].Instrument], o)
		}

		cancelled := 0
		for instrument, group := range byInstrument {
			for _, o := range staleStrategyOrders(group, e.cfg.StopKeepOrders) {
				if err := client.CancelOrder(ctx, o.OrderID, o.Metadata.ClientOrderID); err != nil {
					e.log.WithError(err).WithFields(logrus.Fields{
						"account":    label,
						"instrument": instrument,
						"order_id":   o.OrderID,
					}).Error("stop cleanup: cancel failed")
					continue
				}
				cancelled++
			}
		}
		e.log.WithFields(logrus.Fields{
			"account":   label,
			"cancelled": cancelled,
			"kept":      e.cfg.StopKeepOrders,
		}).Info("stop cleanup done")
	}
}

// staleStrategyOrders picks this engine's orders beyond the keep count,
// newest first by venue create time. Foreign orders never qualify.
func staleStrategyOrders(orders []types.Order, keep int) []types.Order {
	var mine []types.Order
	for _, o := range orders {
		if strategy.IsStrategyOrderID(o.Metadata.ClientOrderID) {
			mine = append(mine, o)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool {
		return createTimeNS(mine[i]) > createTimeNS(mine[j])
	})
	if keep >= len(mine) {
		return nil
	}
	return mine[keep:]
}

func createTimeNS(o types.Order) int64 {
	ns, err := strconv.ParseInt(o.Metadata.CreateTime, 10, 64)
	if err != nil {
		return 0
	}
	return ns
}
