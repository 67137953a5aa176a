package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"matchd/internal/market"
	"matchd/internal/matcher"
)

// MarketSource lists the markets eligible for matching.
type MarketSource interface {
	ListActive(ctx context.Context) ([]market.Market, error)
}

// PostProcessor receives each market's round result after its transactions
// have committed. It runs off the matching path, on the post-processing
// workers, so a slow consumer cannot delay trades.
type PostProcessor interface {
	Process(ctx context.Context, mkt market.Market, res matcher.Result)
}

// Config tunes the round loop.
type Config struct {
	// Workers is the number of concurrent partitions (excluding the
	// isolated partition 0, which always runs alone).
	Workers int
	// Interval is the pause between rounds.
	Interval time.Duration
	// FullPassEvery forces a full pass over every market each N rounds;
	// in between, only markets flagged dirty are matched.
	FullPassEvery int
	// Isolated symbols run sequentially in partition 0.
	Isolated []string
	// PostWorkers and PostQueueSize bound the post-processing stage.
	PostWorkers   int
	PostQueueSize int
}

func (c *Config) applyDefaults() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.FullPassEvery < 1 {
		c.FullPassEvery = 10
	}
	if c.PostWorkers < 1 {
		c.PostWorkers = 1
	}
	if c.PostQueueSize < 1 {
		c.PostQueueSize = 256
	}
}

// Scheduler runs matching rounds: every Interval it partitions the active
// markets and hands each partition to a worker, matching the markets within
// a partition strictly one at a time. Partition disjointness is what makes
// the concurrency safe: no market is ever matched by two workers at once.
type Scheduler struct {
	markets MarketSource
	matcher *matcher.Matcher
	state   StateStore
	cfg     Config
	post    PostProcessor

	// forceFullPass marks the next executed round as a full pass. Set when
	// the kill switch skips a round, so pausing cannot burn the periodic
	// full pass and leave standing crossed pairs waiting a whole cycle.
	forceFullPass bool

	postCh      chan postJob
	postPending sync.WaitGroup
	postWG      sync.WaitGroup
}

// roundSummary is the aggregate of one executed round, kept for the final
// shutdown log line.
type roundSummary struct {
	markets int
	trades  int
	errors  int
}

type postJob struct {
	mkt market.Market
	res matcher.Result
}

// New creates a Scheduler. post may be nil.
func New(markets MarketSource, m *matcher.Matcher, state StateStore, post PostProcessor, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		markets: markets,
		matcher: m,
		state:   state,
		cfg:     cfg,
		post:    post,
		postCh:  make(chan postJob, cfg.PostQueueSize),
	}
}

// roundStats aggregates one round across all partitions.
type roundStats struct {
	mu               sync.Mutex
	markets          int
	trades           int
	ordersTouched    int
	canceled         int
	walletRejections int
	anomalies        int
	errors           int
}

func (s *roundStats) add(res matcher.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets++
	s.trades += res.Trades
	s.ordersTouched += res.OrdersTouched
	s.canceled += res.Canceled
	s.walletRejections += res.WalletRejections
	s.anomalies += res.PriceAnomalies
}

func (s *roundStats) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets++
	s.errors++
}

// Run executes rounds until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startPostWorkers(ctx)
	defer s.stopPostWorkers()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var round uint64
	var last roundSummary
	for {
		round++
		last = s.runRound(ctx, round)

		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped",
				"rounds", round,
				"last_round_markets", last.markets,
				"last_round_trades", last.trades,
				"last_round_errors", last.errors,
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runRound matches one pass of markets. Round N is fenced from round N-1's
// post-processing: we wait for the previous round's jobs to drain before
// selecting markets, so post-processors always observe committed state that
// is at most one round old.
func (s *Scheduler) runRound(ctx context.Context, round uint64) roundSummary {
	s.postPending.Wait()

	paused, err := s.state.Paused(ctx)
	if err != nil {
		logger.Error("reading pause state failed", "error", err)
		return roundSummary{}
	}
	if paused {
		s.forceFullPass = true
		return roundSummary{}
	}

	markets, err := s.selectMarkets(ctx, round)
	if err != nil {
		logger.Error("listing markets failed", "error", err)
		return roundSummary{}
	}
	if len(markets) == 0 {
		return roundSummary{}
	}

	roundID := xid.New().String()
	start := time.Now()
	stats := &roundStats{}

	bySymbol := make(map[string]market.Market, len(markets))
	for _, m := range markets {
		bySymbol[m.Symbol] = m
	}
	groups := Partition(markets, s.cfg.Workers, s.cfg.Isolated)

	// Partition 0 is the quarantine lane: its markets run here, alone,
	// before the pooled partitions start.
	s.runPartition(ctx, groups[0], bySymbol, stats)

	var wg sync.WaitGroup
	for _, group := range groups[1:] {
		if len(group) == 0 {
			continue
		}
		wg.Add(1)
		go func(group []string) {
			defer wg.Done()
			s.runPartition(ctx, group, bySymbol, stats)
		}(group)
	}
	wg.Wait()

	elapsed := time.Since(start)
	roundsTotal.Inc()
	roundDuration.Observe(elapsed.Seconds())
	activeMarkets.Set(float64(stats.markets))

	logger.Info("matching round finished",
		"round_id", roundID,
		"round", round,
		"markets", stats.markets,
		"trades", stats.trades,
		"orders_touched", stats.ordersTouched,
		"canceled", stats.canceled,
		"wallet_rejections", stats.walletRejections,
		"price_anomalies", stats.anomalies,
		"errors", stats.errors,
		"elapsed", elapsed.String(),
	)

	return roundSummary{markets: stats.markets, trades: stats.trades, errors: stats.errors}
}

// selectMarkets returns the markets to match this round: everything on a
// full pass, otherwise only the dirty set. The periodic full pass is the
// backstop for dirty flags lost to crashes or missed notifications.
func (s *Scheduler) selectMarkets(ctx context.Context, round uint64) ([]market.Market, error) {
	markets, err := s.markets.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if round == 1 || round%uint64(s.cfg.FullPassEvery) == 0 || s.forceFullPass {
		s.forceFullPass = false
		return markets, nil
	}

	dirty, err := s.state.TakeDirty(ctx)
	if err != nil {
		return nil, err
	}
	dirtySet := make(map[string]bool, len(dirty))
	for _, symbol := range dirty {
		dirtySet[symbol] = true
	}

	var selected []market.Market
	for _, m := range markets {
		if dirtySet[m.Symbol] {
			selected = append(selected, m)
		}
	}
	return selected, nil
}

// runPartition matches a partition's markets sequentially. One market's
// failure is contained: it is counted and logged, and the partition moves on.
func (s *Scheduler) runPartition(ctx context.Context, symbols []string, bySymbol map[string]market.Market, stats *roundStats) {
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		mkt, ok := bySymbol[symbol]
		if !ok {
			continue
		}
		s.runMarket(ctx, mkt, stats)
	}
}

func (s *Scheduler) runMarket(ctx context.Context, mkt market.Market, stats *roundStats) {
	defer func() {
		if r := recover(); r != nil {
			stats.fail()
			marketRoundErrorsTotal.WithLabelValues(mkt.Symbol).Inc()
			logger.Error("market round panicked", "market", mkt.Symbol, "panic", r)
		}
	}()

	res, err := s.matcher.Run(ctx, mkt)
	if err != nil {
		stats.fail()
		marketRoundErrorsTotal.WithLabelValues(mkt.Symbol).Inc()
		logger.Error("market round failed", "market", mkt.Symbol, "error", err)
		return
	}

	stats.add(res)
	marketRoundDuration.WithLabelValues(mkt.Symbol).Observe(res.Elapsed.Seconds())
	if res.Trades > 0 {
		tradesTotal.WithLabelValues(mkt.Symbol).Add(float64(res.Trades))
	}
	if res.Canceled > 0 {
		ordersCanceledTotal.WithLabelValues(mkt.Symbol).Add(float64(res.Canceled))
	}
	if res.WalletRejections > 0 {
		walletRejectionsTotal.WithLabelValues(mkt.Symbol).Add(float64(res.WalletRejections))
	}
	if res.PriceAnomalies > 0 {
		priceAnomaliesTotal.WithLabelValues(mkt.Symbol).Add(float64(res.PriceAnomalies))
	}

	// A market that hit the trade cap still has a crossed book; flag it so
	// dirty-only rounds come back to it.
	if res.Trades >= s.matcher.MaxRoundTrades() {
		if err := s.state.MarkDirty(ctx, mkt.Symbol); err != nil {
			logger.Error("marking market dirty failed", "market", mkt.Symbol, "error", err)
		}
	}

	if s.post != nil && (res.Trades > 0 || res.Canceled > 0) {
		s.enqueuePost(mkt, res)
	}
}

// enqueuePost hands the result to the post-processing stage. The queue is
// bounded; when it is full the round blocks here, which is the backpressure
// keeping post-processing at most one round behind.
func (s *Scheduler) enqueuePost(mkt market.Market, res matcher.Result) {
	s.postPending.Add(1)
	s.postCh <- postJob{mkt: mkt, res: res}
}

func (s *Scheduler) startPostWorkers(ctx context.Context) {
	for i := 0; i < s.cfg.PostWorkers; i++ {
		s.postWG.Add(1)
		go func() {
			defer s.postWG.Done()
			for job := range s.postCh {
				s.processPost(ctx, job)
				s.postPending.Done()
			}
		}()
	}
}

// processPost contains one job's failure the same way runMarket does: a
// panicking post-processor loses its own job, never the worker.
func (s *Scheduler) processPost(ctx context.Context, job postJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("post-processing panicked", "market", job.mkt.Symbol, "panic", r)
		}
	}()
	s.post.Process(ctx, job.mkt, job.res)
}

func (s *Scheduler) stopPostWorkers() {
	close(s.postCh)
	s.postWG.Wait()
}
