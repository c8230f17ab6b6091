package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"medialib/internal/assetstore"
	"medialib/internal/config"
	"medialib/internal/contentaddr"
	"medialib/internal/logging"
	"medialib/internal/manifest"
	"medialib/internal/sprite"
)

const userAgent = "medialib-crawler/1"

// ErrHashMismatch indicates fetched bytes that do not hash to their key.
var ErrHashMismatch = errors.New("content hash mismatch")

// History remembers keys an origin has answered 404 for, so later runs skip
// them instead of asking again. Blobs already present never consult it.
type History interface {
	Missing(ctx context.Context, origin, key string) (bool, error)
	RecordMissing(ctx context.Context, origin, key string) error
}

// Options tunes a Crawler. Zero values fall back to the defaults noted.
type Options struct {
	Origin            string
	Workers           int           // default 4
	Timeout           time.Duration // per request, default 20s
	MaxRetries        int
	Backoff           time.Duration
	RequestsPerSecond float64 // 0 disables rate limiting
	VerifyHash        bool
	Pretend           bool
	Hasher            contentaddr.Hasher
	Client            *http.Client
	History           History
	Logger            *slog.Logger

	// BreakerThreshold consecutive origin failures open the breaker for
	// BreakerCooldown; while open, fetches fail without contacting the
	// origin. 0 disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration // default 30s
	Metrics          *Metrics
}

// OptionsFromConfig maps the [crawl] section onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	hasher, err := contentaddr.NewHasher(cfg.Content.HashAlgorithm)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Origin:            cfg.Crawl.Origin,
		Workers:           cfg.Crawl.Workers,
		Timeout:           cfg.RequestTimeout(),
		MaxRetries:        cfg.Crawl.MaxRetries,
		Backoff:           cfg.RetryBackoff(),
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		VerifyHash:        cfg.Crawl.VerifyHash,
		Hasher:            hasher,
		BreakerThreshold:  cfg.Crawl.BreakerThreshold,
		BreakerCooldown:   cfg.BreakerCooldown(),
	}, nil
}

// Crawler pulls missing blobs from an origin into an asset store.
type Crawler struct {
	assets  *assetstore.Store
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *Metrics
	logger  *slog.Logger
}

// New returns a Crawler writing into assets.
func New(assets *assetstore.Store, opts Options) (*Crawler, error) {
	if assets == nil {
		return nil, errors.New("crawl: asset store is required")
	}
	opts.Origin = strings.TrimRight(strings.TrimSpace(opts.Origin), "/")
	if opts.Origin == "" {
		return nil, errors.New("crawl: origin is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	c := &Crawler{
		assets:  assets,
		opts:    opts,
		client:  client,
		metrics: opts.Metrics,
		logger:  logging.NewComponentLogger(opts.Logger, "crawl"),
	}
	if opts.RequestsPerSecond > 0 {
		burst := max(1, int(opts.RequestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.BreakerThreshold > 0 {
		c.breaker = c.newBreaker(opts.BreakerThreshold, opts.BreakerCooldown)
	}
	return c, nil
}

// Entry is one asset to mirror.
type Entry struct {
	Key      contentaddr.Key
	Category manifest.Category
	Name     string
}

// IsSprite reports whether the entry's blob is a sprite descriptor.
func (e Entry) IsSprite() bool {
	return e.Category == manifest.Sprite || e.Key.Ext == ".json"
}

// EntriesFromRecords converts manifest records into crawl entries.
func EntriesFromRecords(records []manifest.Record) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, Entry{Key: rec.Key, Category: rec.Category, Name: rec.Name})
	}
	return entries
}

// Failure is one key that could not be mirrored.
type Failure struct {
	Key string
	Err error
}

// SkipReason explains why a key was not fetched.
type SkipReason string

const (
	SkipPresent SkipReason = "present"
	// SkipMissing marks a key the origin reported missing in an earlier run.
	SkipMissing SkipReason = "missing"
)

// Skip is one key that did not need fetching.
type Skip struct {
	Key    string
	Reason SkipReason
}

// Result summarises a crawl run. Key lists are sorted.
type Result struct {
	RunID   string
	Fetched []string
	Skipped []Skip
	// Planned lists the keys a pretend run would fetch.
	Planned []string
	Failed  []Failure
	// Duplicates counts references dropped because their key was already
	// handled in this run.
	Duplicates int
}

// Failures reports whether any key failed.
func (r Result) Failures() bool { return len(r.Failed) > 0 }

type run struct {
	c      *Crawler
	seen   *DedupSet
	logger *slog.Logger

	mu          sync.Mutex
	result      Result
	descriptors []descriptor
}

type descriptor struct {
	key  string
	data []byte
}

// Crawl mirrors entries and the assets their sprite descriptors reference.
// seen carries the dedup set for the run; a nil set starts empty. On
// cancellation the partial result is returned with the context error.
func (c *Crawler) Crawl(ctx context.Context, entries []Entry, seen *DedupSet) (Result, error) {
	if seen == nil {
		seen = NewDedupSet()
	}
	runID, ok := logging.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = logging.WithRunID(ctx, runID)
	}
	r := &run{c: c, seen: seen, logger: logging.WithContext(ctx, c.logger)}
	r.result.RunID = runID
	r.logger.Info("crawl started",
		logging.String("origin", c.opts.Origin),
		logging.Int("entries", len(entries)),
		logging.Int("workers", c.opts.Workers),
		logging.Bool("pretend", c.opts.Pretend),
	)

	refs := make([]sprite.AssetRef, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, sprite.AssetRef{Key: e.Key, Category: e.Category})
	}
	if err := r.fetchAll(ctx, refs, true); err != nil {
		return r.finish(), err
	}

	var nested []sprite.AssetRef
	for _, d := range r.descriptors {
		res, err := sprite.Resolve(d.data)
		if err != nil {
			r.fail(d.key, err)
			continue
		}
		for _, bad := range res.Invalid {
			r.fail(bad.Value, fmt.Errorf("sprite %s %s: %w", d.key, bad.Field, bad.Err))
		}
		nested = append(nested, res.Refs...)
	}
	if err := r.fetchAll(ctx, nested, false); err != nil {
		return r.finish(), err
	}
	return r.finish(), ctx.Err()
}

// fetchAll processes refs on the worker pool. Descriptors are collected only
// for top-level entries so resolution never goes deeper than one level.
func (r *run) fetchAll(ctx context.Context, refs []sprite.AssetRef, collect bool) error {
	var g errgroup.Group
	g.SetLimit(r.c.opts.Workers)
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.process(ctx, ref, collect)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (r *run) process(ctx context.Context, ref sprite.AssetRef, collect bool) {
	key := ref.Key.String()
	if !r.seen.Claim(key) {
		r.c.metrics.outcome("duplicate")
		r.mu.Lock()
		r.result.Duplicates++
		r.mu.Unlock()
		return
	}
	isSprite := collect && (Entry{Key: ref.Key, Category: ref.Category}).IsSprite()

	present, err := r.c.assets.Exists(ref.Key)
	if err != nil {
		r.fail(key, err)
		return
	}
	if present {
		r.skip(key, SkipPresent)
		if isSprite {
			// Local descriptors still have their references mirrored.
			if data, err := r.c.assets.Get(ref.Key); err == nil {
				r.collect(key, data)
			} else {
				r.fail(key, err)
			}
		}
		return
	}
	if r.c.opts.History != nil {
		gone, err := r.c.opts.History.Missing(ctx, r.c.opts.Origin, key)
		if err != nil {
			logging.WarnWithContext(r.logger, "crawl history unavailable", "crawl_history_read",
				logging.String(logging.FieldKey, key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "key requested without history check"),
			)
		} else if gone {
			r.skip(key, SkipMissing)
			return
		}
	}

	url := AssetURL(r.c.opts.Origin, key)
	if r.c.opts.Pretend {
		r.logger.Info("would fetch", logging.String(logging.FieldKey, key), logging.String("url", url))
		r.c.metrics.outcome("planned")
		r.mu.Lock()
		r.result.Planned = append(r.result.Planned, key)
		r.mu.Unlock()
		return
	}

	started := time.Now()
	data, err := r.c.get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if r.c.opts.History != nil && isNotFound(err) {
			if herr := r.c.opts.History.RecordMissing(ctx, r.c.opts.Origin, key); herr != nil {
				logging.WarnWithContext(r.logger, "crawl history not updated", "crawl_history_write",
					logging.String(logging.FieldKey, key),
					logging.Error(herr),
					logging.String(logging.FieldImpact, "key will be requested again next run"),
				)
			}
		}
		r.fail(key, err)
		return
	}
	if r.c.opts.VerifyHash && !r.c.opts.Hasher.Verify(ref.Key, data) {
		r.fail(key, fmt.Errorf("%w: %w: got %s", ErrFetchFailed, ErrHashMismatch, r.c.opts.Hasher.Sum(data)))
		return
	}
	if _, err := r.c.assets.Put(ref.Key, data); err != nil {
		r.fail(key, err)
		return
	}
	r.logger.Debug("asset fetched", logging.String(logging.FieldKey, key), logging.Int("bytes", len(data)))
	r.c.metrics.fetched(len(data), time.Since(started))
	r.mu.Lock()
	r.result.Fetched = append(r.result.Fetched, key)
	r.mu.Unlock()
	if isSprite {
		r.collect(key, data)
	}
}

func (r *run) collect(key string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = append(r.descriptors, descriptor{key: key, data: data})
}

func (r *run) skip(key string, reason SkipReason) {
	r.c.metrics.outcome("skipped_" + string(reason))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Skipped = append(r.result.Skipped, Skip{Key: key, Reason: reason})
}

func (r *run) fail(key string, err error) {
	logging.WarnWithContext(r.logger, "asset not mirrored", "crawl_fetch_failed",
		logging.String(logging.FieldKey, key),
		logging.Error(err),
		logging.String(logging.FieldImpact, "asset missing from local mirror"),
		logging.String(logging.FieldErrorHint, "rerun the crawl once the origin is reachable"),
	)
	r.c.metrics.outcome("failed")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Failed = append(r.result.Failed, Failure{Key: key, Err: err})
}

func (r *run) finish() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.result
	slices.Sort(out.Fetched)
	slices.Sort(out.Planned)
	slices.SortFunc(out.Skipped, func(a, b Skip) int { return strings.Compare(a.Key, b.Key) })
	slices.SortFunc(out.Failed, func(a, b Failure) int { return strings.Compare(a.Key, b.Key) })
	r.c.metrics.finished(time.Now())
	r.logger.Info("crawl finished",
		logging.Int("fetched", len(out.Fetched)),
		logging.Int("skipped", len(out.Skipped)),
		logging.Int("planned", len(out.Planned)),
		logging.Int("failed", len(out.Failed)),
		logging.Int("duplicates", out.Duplicates),
	)
	return out
}
