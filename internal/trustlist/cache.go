package trustlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kokukuma/eudiw-verifier/internal/logfields"
)

const (
	DefaultBaseURL = "https://bmi.usercontent.opencode.de/eudi-wallet/test-trust-lists"
	DefaultTTL     = 24 * time.Hour

	PIDProviderList    = "pid-provider"
	WalletProviderList = "wallet-provider"

	DefaultMaxListSize = 8 << 20
)

var (
	ErrNotLoaded    = errors.New("trust lists not loaded")
	ErrListTooLarge = errors.New("trust list too large")
)

// Snapshot is one immutable cache value.
type Snapshot struct {
	PIDProviders    []string
	WalletProviders []string
	FetchedAt       time.Time
}

func (s *Snapshot) TrustsIssuer(thumbprint string) bool {
	return lo.Contains(s.PIDProviders, thumbprint)
}

func (s *Snapshot) TrustsWalletProvider(thumbprint string) bool {
	return lo.Contains(s.WalletProviders, thumbprint)
}

// Cache holds the last loaded trust lists. Loads swap in a complete new
// Snapshot, so readers never see a partially refreshed value.
type Cache struct {
	baseURL    string
	client     *http.Client
	ttl        time.Duration
	maxElapsed time.Duration
	maxSize    int64
	now        func() time.Time
	logger     *zap.Logger
	observe    func(list string, entries int)

	loadMu  sync.Mutex
	current atomic.Pointer[Snapshot]
}

type Option func(*Cache)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithMaxRetryElapsed bounds the backoff of a single list fetch.
func WithMaxRetryElapsed(d time.Duration) Option {
	return func(c *Cache) {
		c.maxElapsed = d
	}
}

// WithMaxListSize caps the size of a downloaded list.
func WithMaxListSize(n int64) Option {
	return func(c *Cache) {
		c.maxSize = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithObserver is called with the entry count of each list after a load.
func WithObserver(fn func(list string, entries int)) Option {
	return func(c *Cache) {
		c.observe = fn
	}
}

func New(baseURL string, opts ...Option) *Cache {
	c := &Cache{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 15 * time.Second},
		ttl:        DefaultTTL,
		maxElapsed: 30 * time.Second,
		maxSize:    DefaultMaxListSize,
		now:        time.Now,
		logger:     zap.NewNop(),
		observe:    func(string, int) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the last loaded snapshot.
func (c *Cache) Get() (*Snapshot, error) {
	s := c.current.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

// Load fetches both lists and swaps in a new snapshot. It never fails: on
// any fetch or decode error an empty snapshot is stored instead.
func (c *Cache) Load(ctx context.Context) *Snapshot {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	return c.load(ctx)
}

func (c *Cache) load(ctx context.Context) *Snapshot {
	start := c.now()

	var pid, wallet []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pid, err = c.fetchList(gctx, PIDProviderList)
		return err
	})
	g.Go(func() (err error) {
		wallet, err = c.fetchList(gctx, WalletProviderList)
		return err
	})

	snapshot := &Snapshot{FetchedAt: c.now()}
	if err := g.Wait(); err != nil {
		c.logger.Error("failed to load trust lists, continuing with empty lists",
			logfields.WithURL(c.baseURL),
			logfields.WithError(err),
		)
	} else {
		snapshot.PIDProviders = pid
		snapshot.WalletProviders = wallet
		c.logger.Info("trust lists loaded",
			logfields.WithCount(len(pid)+len(wallet)),
			zap.Int("pidProviders", len(pid)),
			zap.Int("walletProviders", len(wallet)),
			logfields.WithDuration(c.now().Sub(start)),
		)
	}

	c.current.Store(snapshot)
	c.observe(PIDProviderList, len(snapshot.PIDProviders))
	c.observe(WalletProviderList, len(snapshot.WalletProviders))
	return snapshot
}

// RefreshIfStale reloads when no snapshot exists or the current one is at
// least one TTL old.
func (c *Cache) RefreshIfStale(ctx context.Context) *Snapshot {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if s := c.current.Load(); s != nil && c.now().Sub(s.FetchedAt) < c.ttl {
		return s
	}
	return c.load(ctx)
}

// Run checks staleness every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RefreshIfStale(ctx)
		}
	}
}

func (c *Cache) fetchList(ctx context.Context, name string) ([]string, error) {
	url := fmt.Sprintf("%s/%s.jwt", c.baseURL, name)

	var body []byte
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed

	err := backoff.RetryNotify(func() error {
		var err error
		body, err = c.download(ctx, url)
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.logger.Warn("trust list fetch failed, retrying",
			logfields.WithList(name),
			logfields.WithError(err),
			logfields.WithDuration(next),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}

	payload, err := DecodeList(string(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return payload.Thumbprints(), nil
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxSize {
		return nil, backoff.Permanent(fmt.Errorf("%w: exceeds %d bytes", ErrListTooLarge, c.maxSize))
	}
	return body, nil
}
