// Command authcore-loadtest measures access-token verification and refresh
// rotation throughput, and checks that concurrent presentations of one
// refresh token produce exactly one successor.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/logging"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

const loadtestPassword = "Loadtest1!"

type sessionState struct {
	accountID string
	access    string
	refresh   string
	mu        sync.Mutex
}

func main() {
	var (
		accounts    = flag.Int("accounts", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (verify + refresh)")
		racers      = flag.Int("racers", 16, "concurrent presentations of one refresh token in the race phase")
		dbPath      = flag.String("db", "", "sqlite path; a temp file is used when empty")
		redisAddr   = flag.String("redis-addr", "", "redis address for the denylist; REDIS_ADDR env or miniredis when empty")
		logLevel    = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency and ops must be > 0, racers must be > 1")
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: *logLevel, Dev: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), logger, runConfig{
		accounts:    *accounts,
		concurrency: *concurrency,
		ops:         *ops,
		racers:      *racers,
		dbPath:      *dbPath,
		redisAddr:   *redisAddr,
	}); err != nil {
		logger.Error("loadtest failed", zap.Error(err))
		os.Exit(1)
	}
}

type runConfig struct {
	accounts    int
	concurrency int
	ops         int
	racers      int
	dbPath      string
	redisAddr   string
}

func run(ctx context.Context, logger *zap.Logger, rc runConfig) error {
	path := rc.dbPath
	if path == "" {
		dir, err := os.MkdirTemp("", "authcore-loadtest")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "auth.db")
	}
	st, err := sqlstore.OpenSQLite(ctx, path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rdb, cleanup, err := openRedis(rc.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret, err = randomSecret()
	if err != nil {
		return err
	}
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	cfg.Metrics.EnableLatencyHistograms = true

	auth, err := authcore.New().
		WithConfig(cfg).
		WithStore(st).
		WithDenylist(redisstore.NewDenylist(rdb)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer auth.Close()

	fmt.Printf("seeding %d accounts...\n", rc.accounts)
	startSeed := time.Now()
	states, err := seed(ctx, auth, rc.accounts)
	if err != nil {
		return err
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, auth, states, rc.ops, rc.concurrency)
	refreshStats := runRefreshPhase(ctx, auth, states, rc.ops, rc.concurrency)
	winners, violations, err := runRacePhase(ctx, auth, states, rc.racers)
	if err != nil {
		return err
	}

	snap := auth.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	fmt.Printf("race: tokens=%d winners=%d violations=%d reuse_detected=%d\n",
		len(states), winners, violations, snap.Counters[authcore.MetricRefreshReuseDetected])
	if violations > 0 {
		return fmt.Errorf("%d refresh tokens rotated more than once", violations)
	}
	return nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func randomSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func seed(ctx context.Context, auth *authcore.Auth, n int) ([]*sessionState, error) {
	states := make([]*sessionState, 0, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("load-%d@test.com", i)
		acc, err := auth.Sessions().Register(ctx, authcore.RegisterRequest{Email: email, Password: loadtestPassword})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", email, err)
		}
		issued, err := auth.Verification().Issue(ctx, authcore.IssueRequest{Kind: store.ContactEmail, Target: email})
		if err != nil {
			return nil, fmt.Errorf("issue code: %w", err)
		}
		if _, err := auth.Verification().Verify(ctx, store.ContactEmail, email, issued.Code, ""); err != nil {
			return nil, fmt.Errorf("verify code: %w", err)
		}
		res, err := auth.Sessions().Login(ctx, email, loadtestPassword, "127.0.0.1")
		if err != nil {
			return nil, fmt.Errorf("login %s: %w", email, err)
		}
		states = append(states, &sessionState{
			accountID: acc.ID,
			access:    res.Session.AccessToken,
			refresh:   res.Session.RefreshToken,
		})
	}
	return states, nil
}

func runVerifyPhase(ctx context.Context, auth *authcore.Auth, states []*sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(cursor.Add(1)) > ops {
					return
				}
				state := states[r.Intn(len(states))]
				state.mu.Lock()
				token := state.access
				state.mu.Unlock()

				t0 := time.Now()
				_, err := auth.Tokens().VerifyAccessToken(ctx, token)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func runRefreshPhase(ctx context.Context, auth *authcore.Auth, states []*sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				if int(cursor.Add(1)) > ops {
					return
				}
				state := states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				next, err := auth.Sessions().Refresh(ctx, state.refresh, "")
				d := time.Since(t0)
				if err == nil {
					state.refresh = next.RefreshToken
					state.access = next.AccessToken
				} else {
					failures.Add(1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

// runRacePhase presents every session's current refresh token from racers
// goroutines at once. Exactly one presentation per token may succeed.
func runRacePhase(ctx context.Context, auth *authcore.Auth, states []*sessionState, racers int) (winners, violations int, err error) {
	for _, state := range states {
		var wins atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < racers; i++ {
			g.Go(func() error {
				_, err := auth.Sessions().Refresh(gctx, state.refresh, "")
				switch {
				case err == nil:
					wins.Add(1)
					return nil
				case errors.Is(err, authcore.ErrInvalidRefreshToken):
					return nil
				default:
					return err
				}
			})
		}
		if err := g.Wait(); err != nil {
			return winners, violations, fmt.Errorf("race on %s: %w", state.accountID, err)
		}
		switch n := int(wins.Load()); {
		case n == 1:
			winners++
		case n > 1:
			violations++
		}
	}
	return winners, violations, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
