package crawl_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"

	"medialib/internal/assetstore"
	"medialib/internal/contentaddr"
	"medialib/internal/crawl"
	"medialib/internal/crawlhistory"
	"medialib/internal/manifest"
	"medialib/internal/sprite"
	"medialib/internal/testsupport"
)

const assetPrefix = "/internalapi/asset/"

type origin struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	status map[string]int
	gzip   map[string]bool
	hits   map[string]int
	block  chan struct{}
	server *httptest.Server
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{
		blobs:  map[string][]byte{},
		status: map[string]int{},
		gzip:   map[string]bool{},
		hits:   map[string]int{},
	}
	o.server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.server.Close)
	return o
}

func (o *origin) url() string { return o.server.URL + strings.TrimSuffix(assetPrefix, "/") }

func (o *origin) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, assetPrefix), "/get/")
	o.mu.Lock()
	o.hits[key]++
	data, ok := o.blobs[key]
	status := o.status[key]
	gz := o.gzip[key]
	block := o.block
	o.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if gz && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write(data)
		_ = zw.Close()
		return
	}
	_, _ = w.Write(data)
}

func (o *origin) add(data []byte, ext string) contentaddr.Key {
	hasher, _ := contentaddr.NewHasher("md5")
	key := hasher.KeyFor(data, ext)
	o.mu.Lock()
	o.blobs[key.String()] = data
	o.mu.Unlock()
	return key
}

func (o *origin) set(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *origin) hitCount(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[key]
}

func (o *origin) totalHits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.hits {
		n += v
	}
	return n
}

func newCrawler(t *testing.T, o *origin, mutate ...func(*crawl.Options)) (*crawl.Crawler, *assetstore.Store) {
	t.Helper()
	store, err := assetstore.New(filepath.Join(t.TempDir(), "asset"))
	if err != nil {
		t.Fatal(err)
	}
	opts := crawl.Options{
		Origin:     o.url(),
		Workers:    4,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		VerifyHash: true,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := crawl.New(store, opts)
	if err != nil {
		t.Fatal(err)
	}
	return c, store
}

func spriteEntry(key contentaddr.Key) crawl.Entry {
	return crawl.Entry{Key: key, Category: manifest.Sprite, Name: "Cat"}
}

func TestCrawlSpriteFetchesReferencedAssets(t *testing.T) {
	o := newOrigin(t)
	costume := o.add(testsupport.PNGBytes(4, 4), ".png")
	sound := o.add(testsupport.WAVBytes(8000, 1, 80), ".wav")
	desc := o.add(testsupport.SpriteDescriptor("Cat", []string{sound.String()}, []string{costume.String()}), ".json")
	c, store := newCrawler(t, o)

	seen := crawl.NewDedupSet()
	result, err := c.Crawl(context.Background(), []crawl.Entry{spriteEntry(desc)}, seen)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(result.Fetched) != 3 || result.Failures() {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, key := range []contentaddr.Key{desc, costume, sound} {
		ok, err := store.Exists(key)
		if err != nil || !ok {
			t.Fatalf("blob %s missing after crawl", key)
		}
	}
	if !seen.Contains(costume.String()) || !seen.Contains(sound.String()) {
		t.Fatalf("dedup set missing references: %v", seen.Keys())
	}
}

func TestCrawlFetchesSharedContentOnce(t *testing.T) {
	o := newOrigin(t)
	shared := o.add(testsupport.PNGBytes(5, 5), ".png")
	one := o.add(testsupport.SpriteDescriptor("One", nil, []string{shared.String(), shared.String()}), ".json")
	two := o.add(testsupport.SpriteDescriptor("Two", nil, []string{shared.String()}), ".json")
	c, _ := newCrawler(t, o)

	entries := []crawl.Entry{spriteEntry(one), spriteEntry(two), {Key: shared, Category: manifest.Costume}}
	result, err := c.Crawl(context.Background(), entries, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := o.hitCount(shared.String()); got != 1 {
		t.Fatalf("shared costume fetched %d times", got)
	}
	if len(result.Fetched) != 3 || result.Duplicates == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCrawlSkipsStoredBlobs(t *testing.T) {
	o := newOrigin(t)
	data := testsupport.PNGBytes(3, 3)
	key := o.add(data, ".png")
	c, store := newCrawler(t, o)
	if _, err := store.Put(key, data); err != nil {
		t.Fatal(err)
	}

	result, err := c.Crawl(context.Background(), []crawl.Entry{{Key: key, Category: manifest.Costume}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.totalHits() != 0 {
		t.Fatalf("stored blob fetched again")
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != crawl.SkipPresent {
		t.Fatalf("unexpected skips: %+v", result.Skipped)
	}
}

func TestCrawlResolvesLocalSpriteDescriptor(t *testing.T) {
	o := newOrigin(t)
	sound := o.add(testsupport.WAVBytes(8000, 1, 10), ".wav")
	descData := testsupport.SpriteDescriptor("Local", []string{sound.String()}, nil)
	desc := o.add(descData, ".json")
	c, store := newCrawler(t, o)
	if _, err := store.Put(desc, descData); err != nil {
		t.Fatal(err)
	}

	result, err := c.Crawl(context.Background(), []crawl.Entry{spriteEntry(desc)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.hitCount(desc.String()) != 0 || o.hitCount(sound.String()) != 1 {
		t.Fatalf("unexpected hits: desc=%d sound=%d", o.hitCount(desc.String()), o.hitCount(sound.String()))
	}
	if len(result.Fetched) != 1 || result.Fetched[0] != sound.String() {
		t.Fatalf("unexpected fetched: %v", result.Fetched)
	}
}

func TestCrawlCollectsFailuresAndContinues(t *testing.T) {
	o := newOrigin(t)
	good := o.add(testsupport.PNGBytes(2, 2), ".png")
	missing := contentaddr.Key{Hash: strings.Repeat("a", 32), Ext: ".png"}
	broken := contentaddr.Key{Hash: strings.Repeat("b", 32), Ext: ".wav"}
	o.set(func() { o.status[broken.String()] = http.StatusBadGateway })
	c, store := newCrawler(t, o)

	entries := []crawl.Entry{{Key: missing}, {Key: broken}, {Key: good}}
	result, err := c.Crawl(context.Background(), entries, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Fetched) != 1 || result.Fetched[0] != good.String() {
		t.Fatalf("unexpected fetched: %v", result.Fetched)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected two failures, got %+v", result.Failed)
	}
	for _, f := range result.Failed {
		if !errors.Is(f.Err, crawl.ErrFetchFailed) {
			t.Fatalf("failure %s: %v", f.Key, f.Err)
		}
	}
	if got := o.hitCount(missing.String()); got != 1 {
		t.Fatalf("404 retried: %d requests", got)
	}
	if got := o.hitCount(broken.String()); got != 3 {
		t.Fatalf("5xx should be tried 3 times, got %d", got)
	}
	if ok, _ := store.Exists(missing); ok {
		t.Fatal("failed key stored")
	}
}

func TestCrawlDecodesGzipResponses(t *testing.T) {
	o := newOrigin(t)
	data := testsupport.SpriteDescriptor("Zipped", nil, nil)
	key := o.add(data, ".json")
	o.set(func() { o.gzip[key.String()] = true })
	c, store := newCrawler(t, o)

	result, err := c.Crawl(context.Background(), []crawl.Entry{spriteEntry(key)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failures() {
		t.Fatalf("unexpected failures: %+v", result.Failed)
	}
	got, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("stored bytes are not the decoded body")
	}
}

func TestCrawlRejectsHashMismatch(t *testing.T) {
	o := newOrigin(t)
	key := contentaddr.Key{Hash: strings.Repeat("c", 32), Ext: ".png"}
	o.set(func() { o.blobs[key.String()] = []byte("tampered") })
	c, store := newCrawler(t, o)

	result, err := c.Crawl(context.Background(), []crawl.Entry{{Key: key}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, crawl.ErrHashMismatch) {
		t.Fatalf("expected hash mismatch failure, got %+v", result.Failed)
	}
	if ok, _ := store.Exists(key); ok {
		t.Fatal("mismatched blob stored")
	}
}

func TestCrawlReportsMalformedDescriptor(t *testing.T) {
	o := newOrigin(t)
	bad := o.add([]byte(`{"costumes": [`), ".json")
	good := o.add(testsupport.PNGBytes(6, 6), ".png")
	c, _ := newCrawler(t, o)

	result, err := c.Crawl(context.Background(), []crawl.Entry{spriteEntry(bad), {Key: good}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, sprite.ErrMalformedDescriptor) {
		t.Fatalf("unexpected failures: %+v", result.Failed)
	}
	if len(result.Fetched) != 2 {
		t.Fatalf("expected both blobs fetched, got %v", result.Fetched)
	}
}

func TestCrawlPretendMakesNoRequests(t *testing.T) {
	o := newOrigin(t)
	a := o.add(testsupport.PNGBytes(1, 1), ".png")
	b := o.add(testsupport.WAVBytes(8000, 1, 1), ".wav")
	c, store := newCrawler(t, o, func(opts *crawl.Options) { opts.Pretend = true })

	result, err := c.Crawl(context.Background(), []crawl.Entry{{Key: a}, {Key: b}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if o.totalHits() != 0 {
		t.Fatalf("pretend run contacted the origin")
	}
	if len(result.Planned) != 2 || len(result.Fetched) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	keys, _ := store.Keys()
	if len(keys) != 0 {
		t.Fatalf("pretend run stored blobs: %v", keys)
	}
}

func openHistory(t *testing.T) *crawlhistory.Store {
	t.Helper()
	history, err := crawlhistory.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = history.Close() })
	return history
}

func TestCrawlHistorySkipsOriginMissesAcrossRuns(t *testing.T) {
	o := newOrigin(t)
	good := o.add(testsupport.PNGBytes(7, 7), ".png")
	gone := contentaddr.Key{Hash: strings.Repeat("c", 32), Ext: ".png"}
	history := openHistory(t)
	withHistory := func(opts *crawl.Options) { opts.History = history }
	entries := []crawl.Entry{{Key: good}, {Key: gone}}

	first, _ := newCrawler(t, o, withHistory)
	result, err := first.Crawl(context.Background(), entries, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Key != gone.String() {
		t.Fatalf("expected the 404 key to fail on the first run, got %+v", result.Failed)
	}

	second, _ := newCrawler(t, o, withHistory)
	result, err = second.Crawl(context.Background(), entries, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := o.hitCount(gone.String()); got != 1 {
		t.Fatalf("missing key requested again: %d hits", got)
	}
	if got := o.hitCount(good.String()); got != 2 {
		t.Fatalf("fresh store should fetch the good key again, got %d hits", got)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected failures: %+v", result.Failed)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Key != gone.String() || result.Skipped[0].Reason != crawl.SkipMissing {
		t.Fatalf("unexpected skips: %+v", result.Skipped)
	}

	if _, err := history.Forget(context.Background(), gone.String()); err != nil {
		t.Fatal(err)
	}
	third, _ := newCrawler(t, o, withHistory)
	if _, err := third.Crawl(context.Background(), entries, nil); err != nil {
		t.Fatal(err)
	}
	if got := o.hitCount(gone.String()); got != 2 {
		t.Fatalf("forgotten key not requested again: %d hits", got)
	}
}

func TestCrawlHistoryRefetchesDeletedBlobs(t *testing.T) {
	o := newOrigin(t)
	key := o.add(testsupport.PNGBytes(5, 5), ".png")
	history := openHistory(t)
	c, store := newCrawler(t, o, func(opts *crawl.Options) { opts.History = history })

	if _, err := c.Crawl(context.Background(), []crawl.Entry{{Key: key}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(store.Path(key)); err != nil {
		t.Fatal(err)
	}
	result, err := c.Crawl(context.Background(), []crawl.Entry{{Key: key}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Fetched) != 1 || result.Fetched[0] != key.String() {
		t.Fatalf("deleted blob not fetched again: %+v", result)
	}
	if ok, _ := store.Exists(key); !ok {
		t.Fatal("blob not restored")
	}
}

func TestCrawlCancellationLeavesNoPartialBlobs(t *testing.T) {
	o := newOrigin(t)
	block := make(chan struct{})
	o.set(func() { o.block = block })
	defer close(block)
	var entries []crawl.Entry
	for i := range 6 {
		entries = append(entries, crawl.Entry{Key: o.add(testsupport.PNGBytes(i+1, 2), ".png")})
	}
	c, store := newCrawler(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for o.totalHits() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	result, err := c.Crawl(ctx, entries, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(result.Fetched) != 0 || result.Failures() {
		t.Fatalf("unexpected result after cancel: %+v", result)
	}
	files, err := os.ReadDir(filepath.Dir(store.Path(entries[0].Key)))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("files left after cancellation: %v", files)
	}
}

func TestFetchManifestDecodesRemoteIndex(t *testing.T) {
	o := newOrigin(t)
	costume := o.add(testsupport.PNGBytes(2, 2), ".png")
	index := `[{"name":"Dot","md5":"` + costume.String() + `","tags":["shapes"],"info":[1,1,1]}]`
	mux := http.NewServeMux()
	mux.HandleFunc("/libs/costumeLibrary.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(index))
	})
	libs := httptest.NewServer(mux)
	defer libs.Close()
	c, _ := newCrawler(t, o)

	remote, err := c.FetchManifest(context.Background(), libs.URL+"/libs/costumeLibrary.json")
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if remote.Category != manifest.Costume || len(remote.Records) != 1 {
		t.Fatalf("unexpected manifest: %+v", remote)
	}
	if remote.Records[0].Category != manifest.Costume || remote.Records[0].Key != costume {
		t.Fatalf("unexpected record: %+v", remote.Records[0])
	}

	result, err := c.Crawl(context.Background(), crawl.EntriesFromRecords(remote.Records), nil)
	if err != nil || len(result.Fetched) != 1 {
		t.Fatalf("crawl of remote entries: %+v %v", result, err)
	}
}

func TestFetchManifestRejectsCorruptIndex(t *testing.T) {
	libs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":`))
	}))
	defer libs.Close()
	c, _ := newCrawler(t, newOrigin(t))

	if _, err := c.FetchManifest(context.Background(), libs.URL+"/soundLibrary.json"); !errors.Is(err, manifest.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestBreakerStopsHammeringFailingOrigin(t *testing.T) {
	o := newOrigin(t)
	var entries []crawl.Entry
	for i := range 5 {
		key := contentaddr.Key{Hash: strings.Repeat(string(rune('a'+i)), 32), Ext: ".png"}
		o.set(func() { o.status[key.String()] = http.StatusServiceUnavailable })
		entries = append(entries, crawl.Entry{Key: key})
	}
	c, _ := newCrawler(t, o, func(opts *crawl.Options) {
		opts.Workers = 1
		opts.MaxRetries = 0
		opts.BreakerThreshold = 2
		opts.BreakerCooldown = time.Minute
	})

	result, err := c.Crawl(context.Background(), entries, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Failed) != 5 {
		t.Fatalf("expected every key to fail, got %+v", result.Failed)
	}
	if hits := o.totalHits(); hits != 2 {
		t.Fatalf("expected origin to see 2 requests before tripping, got %d", hits)
	}
	open := 0
	for _, f := range result.Failed {
		if !errors.Is(f.Err, crawl.ErrFetchFailed) {
			t.Fatalf("expected ErrFetchFailed for %s, got %v", f.Key, f.Err)
		}
		if errors.Is(f.Err, gobreaker.ErrOpenState) {
			open++
		}
	}
	if open != 3 {
		t.Fatalf("expected 3 fast failures, got %d", open)
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	o := newOrigin(t)
	good := o.add(testsupport.PNGBytes(3, 3), ".png")
	missing := contentaddr.Key{Hash: strings.Repeat("c", 32), Ext: ".png"}
	c, _ := newCrawler(t, o, func(opts *crawl.Options) {
		opts.Workers = 1
		opts.BreakerThreshold = 1
	})

	result, err := c.Crawl(context.Background(), []crawl.Entry{{Key: missing}, {Key: good}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Fetched) != 1 || result.Fetched[0] != good.String() {
		t.Fatalf("404 should not trip the breaker: %+v", result)
	}
}

func TestMetricsTextfile(t *testing.T) {
	o := newOrigin(t)
	good := o.add(testsupport.PNGBytes(4, 4), ".png")
	missing := contentaddr.Key{Hash: strings.Repeat("d", 32), Ext: ".png"}
	metrics := crawl.NewMetrics()
	c, _ := newCrawler(t, o, func(opts *crawl.Options) { opts.Metrics = metrics })

	entries := []crawl.Entry{{Key: good}, {Key: missing}, {Key: good}}
	if _, err := c.Crawl(context.Background(), entries, nil); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "crawl.prom")
	if err := metrics.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`medialib_crawl_assets_total{outcome="fetched"} 1`,
		`medialib_crawl_assets_total{outcome="failed"} 1`,
		`medialib_crawl_assets_total{outcome="duplicate"} 1`,
		"medialib_crawl_last_run_timestamp_seconds",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q:\n%s", want, text)
		}
	}
}
