package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"shopsync/internal/job"
	"shopsync/internal/retailer"
	"shopsync/internal/search"
	"shopsync/internal/store"
)

// --- in-memory fakes ---

type memLedger struct {
	mu    gosync.Mutex
	jobs  map[string]*store.Job
	steps map[string]json.RawMessage
}

func newMemLedger() *memLedger {
	return &memLedger{jobs: make(map[string]*store.Job), steps: make(map[string]json.RawMessage)}
}

func (m *memLedger) StartJob(_ context.Context, j *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.jobs[j.ID]; ok && existing.Status == store.JobStatusRunning {
		return store.ErrJobRunning
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memLedger) FinishJob(_ context.Context, id string, status store.JobStatus, endedAt time.Time) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	// First writer wins; a settled row is returned unchanged.
	if row.Status == store.JobStatusRunning {
		row.Status = status
		row.EndedAt = &endedAt
	}
	cp := *row
	return &cp, nil
}

func (m *memLedger) GetJob(_ context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.jobs[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *memLedger) RecentJobs(context.Context, int) ([]store.Job, error) { return nil, nil }

func (m *memLedger) RunningChildren(_ context.Context, id string) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Job
	for _, row := range m.jobs {
		if row.ParentJobID != nil && *row.ParentJobID == id && row.Status == store.JobStatusRunning {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memLedger) SetJobNotifyMessageID(_ context.Context, id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.jobs[id]; ok {
		row.NotifyMessageID = &messageID
	}
	return nil
}

func (m *memLedger) GetStepResult(_ context.Context, jobID, runID, step string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.steps[jobID+"|"+runID+"|"+step]
	return raw, ok, nil
}

func (m *memLedger) PutStepResult(_ context.Context, jobID, runID, step string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[jobID+"|"+runID+"|"+step] = result
	return nil
}

type fakeRegistry struct {
	mu         gosync.Mutex
	pending    []store.Store
	stores     map[string]store.Store
	lastSynced map[string]time.Time
}

func newFakeRegistry(stores ...store.Store) *fakeRegistry {
	r := &fakeRegistry{stores: make(map[string]store.Store), lastSynced: make(map[string]time.Time)}
	for _, s := range stores {
		r.stores[s.Key()] = s
	}
	return r
}

func (r *fakeRegistry) StoresPendingSync(context.Context) ([]store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Store(nil), r.pending...), nil
}

func (r *fakeRegistry) GetStore(_ context.Context, ret retailer.Retailer, storeID string) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[retailer.StoreKey(ret, storeID)]; ok {
		return &s, nil
	}
	return nil, nil
}

func (r *fakeRegistry) StoresByKeys(_ context.Context, keys []string) ([]store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Store
	for _, k := range keys {
		if s, ok := r.stores[k]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRegistry) StoresWithLocation(context.Context) ([]store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Store
	for _, s := range r.stores {
		if s.Location != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRegistry) AllStores(context.Context) ([]store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Store
	for _, s := range r.stores {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeRegistry) UpdateLastSyncedAt(_ context.Context, ret retailer.Retailer, storeID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSynced[retailer.StoreKey(ret, storeID)] = now
	return nil
}

func (r *fakeRegistry) SetFallbackStore(context.Context, retailer.Retailer, string, string) error {
	return nil
}

type fakeCatalog struct {
	mu          gosync.Mutex
	upserted    []store.ProductInStore
	missing     []store.Product
	barcodes    []store.BarcodeUpdate
	metaPages   [][]store.MetaProductSnapshots
	updates     []store.MetaProductUpdate
	deleted     []string
	brands      []store.Brand
	searchPages [][]store.SearchDocument
	mappings    []store.CategoryMapping
}

func (c *fakeCatalog) UpsertProductsInStore(_ context.Context, rows []store.ProductInStore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserted = append(c.upserted, rows...)
	return nil
}

func (c *fakeCatalog) ReindexProducts(context.Context) error { return nil }

func (c *fakeCatalog) ProductsMissingBarcode(_ context.Context, limit int) ([]store.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.missing) > limit {
		return append([]store.Product(nil), c.missing[:limit]...), nil
	}
	return append([]store.Product(nil), c.missing...), nil
}

func (c *fakeCatalog) SetBarcodes(_ context.Context, updates []store.BarcodeUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.barcodes = append(c.barcodes, updates...)
	resolved := make(map[string]bool, len(updates))
	for _, u := range updates {
		resolved[retailer.ProductKey(u.Retailer, u.SKU)] = true
	}
	var remaining []store.Product
	for _, p := range c.missing {
		if !resolved[retailer.ProductKey(p.Retailer, p.SKU)] {
			remaining = append(remaining, p)
		}
	}
	c.missing = remaining
	return nil
}

func (c *fakeCatalog) AllocateMetaProducts(context.Context) (int, int, error) { return 0, 0, nil }

func (c *fakeCatalog) MetaProductPage(_ context.Context, page, _ int) ([]store.MetaProductSnapshots, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page >= len(c.metaPages) {
		return nil, nil
	}
	return c.metaPages[page], nil
}

func (c *fakeCatalog) UpdateMetaProducts(_ context.Context, updates []store.MetaProductUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, updates...)
	return nil
}

func (c *fakeCatalog) DeleteMetaProducts(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, ids...)
	return nil
}

func (c *fakeCatalog) EnsureBrands(_ context.Context, brands []store.Brand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brands = append(c.brands, brands...)
	return nil
}

func (c *fakeCatalog) ReindexBrands(context.Context) error { return nil }

func (c *fakeCatalog) CategoryTree(context.Context) ([]store.CategoryNode, error) { return nil, nil }

func (c *fakeCatalog) CategoryMappings(context.Context) ([]store.CategoryMapping, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.CategoryMapping(nil), c.mappings...), nil
}

func (c *fakeCatalog) SearchDocumentPage(_ context.Context, page, _ int) ([]store.SearchDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page >= len(c.searchPages) {
		return nil, nil
	}
	return c.searchPages[page], nil
}

func (c *fakeCatalog) ProductsInStores(context.Context, []string, []string) ([]store.StorePriceRecord, error) {
	return nil, nil
}

func (c *fakeCatalog) MetaProductIDsForSKUs(context.Context, []string) (map[string]string, error) {
	return nil, nil
}

type fakeCache struct {
	mu      gosync.Mutex
	entries map[string]store.CacheEntry
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string]store.CacheEntry)} }

func (f *fakeCache) Get(_ context.Context, key string) (*store.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok {
		return &e, nil
	}
	return nil, nil
}

func (f *fakeCache) Put(_ context.Context, entry store.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Key] = entry
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

// fakeSearch records operations in order.
type fakeSearch struct {
	mu   gosync.Mutex
	ops  []string
	live []store.SearchDocument
	tmp  []store.SearchDocument
}

func (f *fakeSearch) ResetScratch(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "reset")
	f.tmp = nil
	return nil
}

func (f *fakeSearch) AddProducts(_ context.Context, docs []store.SearchDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "add")
	f.tmp = append(f.tmp, docs...)
	return nil
}

func (f *fakeSearch) Swap(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "swap")
	f.live, f.tmp = f.tmp, f.live
	return nil
}

func (f *fakeSearch) ReplaceStores(_ context.Context, docs []search.StoreDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "stores")
	return nil
}

// fakeAdapter serves a fixed category tree and per-leaf page sizes.
type fakeAdapter struct {
	mu       gosync.Mutex
	leaves   []retailer.CategoryLeaf
	pages    map[string][]int // leaf id -> product count per page
	fetchLog []retailer.PageQuery
	barcode  func(sku string) (string, error)
}

func (a *fakeAdapter) Categories(context.Context, string) ([]retailer.CategoryLeaf, error) {
	return a.leaves, nil
}

func (a *fakeAdapter) FetchPage(_ context.Context, q retailer.PageQuery) (*retailer.ProductPage, error) {
	a.mu.Lock()
	a.fetchLog = append(a.fetchLog, q)
	a.mu.Unlock()

	sizes := a.pages[q.Leaf.ID]
	if q.Page >= len(sizes) {
		return &retailer.ProductPage{}, nil
	}
	page := &retailer.ProductPage{}
	for i := 0; i < sizes[q.Page]; i++ {
		sku := fmt.Sprintf("%s-p%d-%d", q.Leaf.ID, q.Page, i)
		page.Products = append(page.Products, retailer.ProductRecord{
			SKU:         sku,
			Payload:     &retailer.WWProduct{RetailerCode: retailer.Woolworths, SKUField: sku, Name: "item " + sku},
			CategoryIDs: []string{q.Leaf.ID},
		})
	}
	return page, nil
}

func (a *fakeAdapter) ResolveBarcode(_ context.Context, _, sku string) (string, error) {
	if a.barcode == nil {
		return "", &retailer.UpstreamError{StatusCode: 404, Body: "not found"}
	}
	return a.barcode(sku)
}

func (a *fakeAdapter) fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fetchLog)
}

// --- helpers ---

func testPipeline(t *testing.T, reg *fakeRegistry, cat *fakeCatalog, adapters map[retailer.Retailer]retailer.Adapter) (*Pipeline, *memLedger, *fakeSearch) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := newMemLedger()
	orch := job.New(ctx, ledger, nil, logger, job.Config{StepBackoff: time.Millisecond})
	idx := &fakeSearch{}
	p := New(orch, reg, cat, newFakeCache(), idx, adapters, logger, Config{
		StoreConcurrency:   2,
		GroupConcurrency:   2,
		BarcodeConcurrency: 4,
		BarcodeBatch:       10,
		PageSize:           2,
	})
	return p, ledger, idx
}

func leaf(dept, aisle, shelf, id string) retailer.CategoryLeaf {
	return retailer.CategoryLeaf{Department: dept, Aisle: aisle, Shelf: shelf, ID: id}
}

// --- tests ---

func TestScrapePaginationStopsOnEmptyPage(t *testing.T) {
	adapter := &fakeAdapter{
		leaves: []retailer.CategoryLeaf{leaf("d", "a", "s", "cat1")},
		pages:  map[string][]int{"cat1": {50, 50, 0}},
	}
	reg := newFakeRegistry(store.Store{Retailer: retailer.Woolworths, ID: "1", Name: "Metro"})
	cat := &fakeCatalog{}
	p, _, _ := testPipeline(t, reg, cat, map[retailer.Retailer]retailer.Adapter{retailer.Woolworths: adapter})

	err := p.orch.Invoke(context.Background(), p.ScrapeStore, job.Event{
		Payload: ScrapeInput{Retailer: retailer.Woolworths, StoreID: "1", Mode: ModeFull},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if got := adapter.fetches(); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
	if got := len(cat.upserted); got != 100 {
		t.Errorf("upserted %d products, want 100", got)
	}
	if _, ok := reg.lastSynced["ww-1"]; !ok {
		t.Error("lastSyncedAt not updated")
	}
}

func TestFastModeFetchesFewerCategories(t *testing.T) {
	leaves := []retailer.CategoryLeaf{
		leaf("d", "a", "s1", "c1"),
		leaf("d", "a", "s2", "c2"),
		leaf("d", "b", "s3", "c3"),
	}
	pages := map[string][]int{"c1": {1, 0}, "c2": {1, 0}, "c3": {1, 0}}
	reg := newFakeRegistry(store.Store{Retailer: retailer.Woolworths, ID: "1", Name: "Metro"})

	run := func(mode ScrapeMode) *fakeAdapter {
		adapter := &fakeAdapter{leaves: leaves, pages: pages}
		p, _, _ := testPipeline(t, reg, &fakeCatalog{}, map[retailer.Retailer]retailer.Adapter{retailer.Woolworths: adapter})
		err := p.orch.Invoke(context.Background(), p.ScrapeStore, job.Event{
			Payload: ScrapeInput{Retailer: retailer.Woolworths, StoreID: "1", Mode: mode},
		})
		if err != nil {
			t.Fatalf("invoke %s: %v", mode, err)
		}
		return adapter
	}

	full := run(ModeFull)
	fast := run(ModeFast)

	if fast.fetches() >= full.fetches() {
		t.Errorf("fast mode fetched %d pages, full %d; want strictly fewer", fast.fetches(), full.fetches())
	}
	for _, q := range fast.fetchLog {
		if q.ExactShelf {
			t.Errorf("fast mode queried shelf-exact for %s", q.Leaf.ID)
		}
	}
}

// quirkAdapter fails one category with the documented empty-result 400.
type quirkAdapter struct {
	fakeAdapter
}

func (a *quirkAdapter) FetchPage(ctx context.Context, q retailer.PageQuery) (*retailer.ProductPage, error) {
	if q.Leaf.ID == "quirky" {
		return nil, &retailer.UpstreamError{StatusCode: 400, Body: `{"message":""}`}
	}
	return a.fakeAdapter.FetchPage(ctx, q)
}

func TestScrapeTreatsQuirkAsEmpty(t *testing.T) {
	adapter := &quirkAdapter{fakeAdapter{
		leaves: []retailer.CategoryLeaf{leaf("d", "a", "s1", "ok"), leaf("d", "b", "s2", "quirky")},
		pages:  map[string][]int{"ok": {2, 0}},
	}}
	reg := newFakeRegistry(store.Store{Retailer: retailer.PakNSave, ID: "9", Name: "Albany"})
	cat := &fakeCatalog{}
	p, ledger, _ := testPipeline(t, reg, cat, map[retailer.Retailer]retailer.Adapter{retailer.PakNSave: adapter})

	err := p.orch.Invoke(context.Background(), p.ScrapeStore, job.Event{
		Payload: ScrapeInput{Retailer: retailer.PakNSave, StoreID: "9", Mode: ModeFull},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	row, _ := ledger.GetJob(context.Background(), "scrape/products:pns-9")
	if row == nil || row.Status != store.JobStatusCompleted {
		t.Fatalf("job row = %+v, want COMPLETED", row)
	}
	if got := len(cat.upserted); got != 2 {
		t.Errorf("upserted %d products, want 2", got)
	}
}

func TestDailySyncSkipsRunningChild(t *testing.T) {
	adapter := &fakeAdapter{
		leaves: []retailer.CategoryLeaf{leaf("d", "a", "s", "c1")},
		pages:  map[string][]int{"c1": {1, 0}},
	}
	s1 := store.Store{Retailer: retailer.Woolworths, ID: "1", Name: "One", SyncSchedule: store.SyncDaily}
	s2 := store.Store{Retailer: retailer.Woolworths, ID: "2", Name: "Two", SyncSchedule: store.SyncDaily}
	reg := newFakeRegistry(s1, s2)
	reg.pending = []store.Store{s1, s2}

	cat := &fakeCatalog{}
	p, ledger, idx := testPipeline(t, reg, cat, map[retailer.Retailer]retailer.Adapter{retailer.Woolworths: adapter})

	// Another trigger already owns store 1's scrape.
	if err := ledger.StartJob(context.Background(), &store.Job{
		ID:       "scrape/products:ww-1",
		Workflow: "scrape/products",
		Status:   store.JobStatusRunning,
	}); err != nil {
		t.Fatalf("seed running job: %v", err)
	}

	if err := p.orch.Invoke(context.Background(), p.DailySync, job.Event{}); err != nil {
		t.Fatalf("daily sync: %v", err)
	}

	if _, ok := reg.lastSynced["ww-2"]; !ok {
		t.Error("store 2 was not scraped")
	}
	if _, ok := reg.lastSynced["ww-1"]; ok {
		t.Error("store 1 scraped despite running duplicate")
	}

	// The chain still ran to the search rebuild.
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.ops) == 0 || idx.ops[len(idx.ops)-1] != "stores" {
		t.Errorf("search ops = %v, want rebuild chain ending in stores refresh", idx.ops)
	}
}

func TestReindexDeletesOrphanedMetaProducts(t *testing.T) {
	cat := &fakeCatalog{
		metaPages: [][]store.MetaProductSnapshots{{
			{
				Meta: store.MetaProduct{ID: "9415767000001"},
				Payloads: []retailer.Payload{
					&retailer.FoodstuffsProduct{RetailerCode: retailer.PakNSave, ProductID: "5001234-EA-000", Name: "Milk 2L", Brand: "Anchor"},
					&retailer.WWProduct{RetailerCode: retailer.Woolworths, SKUField: "771", Name: "ww milk"},
				},
			},
			{Meta: store.MetaProduct{ID: "9415767000002"}},
		}},
	}
	reg := newFakeRegistry()
	p, _, _ := testPipeline(t, reg, cat, nil)

	if err := p.orch.Invoke(context.Background(), p.ReindexProducts, job.Event{}); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	if len(cat.deleted) != 1 || cat.deleted[0] != "9415767000002" {
		t.Errorf("deleted = %v, want the orphaned meta product", cat.deleted)
	}
	if len(cat.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(cat.updates))
	}
	upd := cat.updates[0]
	if upd.Title != "Milk 2L" {
		t.Errorf("title = %q, want the Foodstuffs name to win", upd.Title)
	}
	if upd.BrandID == nil || *upd.BrandID != "anchor" {
		t.Errorf("brand id = %v, want anchor", upd.BrandID)
	}
	if len(cat.brands) != 1 || cat.brands[0].Name != "Anchor" {
		t.Errorf("brands = %v, want auto-created Anchor", cat.brands)
	}
}

func TestSearchRebuildIsBlueGreen(t *testing.T) {
	cat := &fakeCatalog{
		searchPages: [][]store.SearchDocument{
			{{ID: "a"}, {ID: "b"}},
			{{ID: "c"}},
		},
	}
	reg := newFakeRegistry(store.Store{Retailer: retailer.Woolworths, ID: "1", Name: "Metro"})
	p, _, idx := testPipeline(t, reg, cat, nil)

	if err := p.orch.Invoke(context.Background(), p.RebuildSearch, job.Event{}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.live) != 3 {
		t.Errorf("live index has %d documents after swap, want 3", len(idx.live))
	}
	swapAt := -1
	for i, op := range idx.ops {
		if op == "swap" {
			swapAt = i
		}
	}
	if swapAt == -1 {
		t.Fatalf("ops = %v, no swap", idx.ops)
	}
	for _, op := range idx.ops[swapAt:] {
		if op == "add" {
			t.Errorf("document add after swap: %v", idx.ops)
		}
	}
	if idx.ops[0] != "reset" {
		t.Errorf("ops = %v, want scratch reset first", idx.ops)
	}
}

func TestBarcodeResolutionSentinels(t *testing.T) {
	adapter := &fakeAdapter{
		barcode: func(sku string) (string, error) {
			switch sku {
			case "found":
				return "9415767624269", nil // valid GTIN-13
			case "gone":
				return "", &retailer.UpstreamError{StatusCode: 404, Body: "nope"}
			default:
				return "", &retailer.UpstreamError{StatusCode: 503, Body: "try later"}
			}
		},
	}
	cat := &fakeCatalog{
		missing: []store.Product{
			{Retailer: retailer.PakNSave, SKU: "found"},
			{Retailer: retailer.PakNSave, SKU: "gone"},
			{Retailer: retailer.PakNSave, SKU: "flaky"},
		},
	}
	reg := newFakeRegistry()
	p, _, _ := testPipeline(t, reg, cat, map[retailer.Retailer]retailer.Adapter{retailer.PakNSave: adapter})

	if err := p.orch.Invoke(context.Background(), p.ResolveBarcodes, job.Event{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got := make(map[string]string)
	for _, u := range cat.barcodes {
		got[u.SKU] = u.Barcode
	}
	if got["found"] != "9415767624269" {
		t.Errorf("found barcode = %q", got["found"])
	}
	if bc, ok := got["gone"]; !ok || bc != "" {
		t.Errorf("gone should carry the empty sentinel, got %q ok=%v", bc, ok)
	}
	if _, ok := got["flaky"]; ok {
		t.Error("transient failure must stay unresolved")
	}
	// flaky is still pending for the next run.
	if len(cat.missing) != 1 || cat.missing[0].SKU != "flaky" {
		t.Errorf("missing = %v, want only flaky", cat.missing)
	}
}

func TestBarcodeResolutionSkipsPastFlakyHead(t *testing.T) {
	adapter := &fakeAdapter{
		barcode: func(sku string) (string, error) {
			if sku == "aaa-flaky" {
				return "", &retailer.UpstreamError{StatusCode: 503, Body: "try later"}
			}
			return "9415767624269", nil
		},
	}
	// The flaky product sorts first, so it heads every missing page. The
	// products behind it must still get their attempt this run.
	cat := &fakeCatalog{
		missing: []store.Product{
			{Retailer: retailer.PakNSave, SKU: "aaa-flaky"},
			{Retailer: retailer.PakNSave, SKU: "bbb"},
			{Retailer: retailer.PakNSave, SKU: "ccc"},
			{Retailer: retailer.PakNSave, SKU: "ddd"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := job.New(ctx, newMemLedger(), nil, logger, job.Config{StepBackoff: time.Millisecond})
	p := New(orch, newFakeRegistry(), cat, newFakeCache(), &fakeSearch{},
		map[retailer.Retailer]retailer.Adapter{retailer.PakNSave: adapter}, logger, Config{
			BarcodeConcurrency: 1,
			BarcodeBatch:       2,
		})

	if err := p.orch.Invoke(context.Background(), p.ResolveBarcodes, job.Event{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got := make(map[string]string)
	for _, u := range cat.barcodes {
		got[u.SKU] = u.Barcode
	}
	for _, sku := range []string{"bbb", "ccc", "ddd"} {
		if got[sku] != "9415767624269" {
			t.Errorf("%s barcode = %q, want resolved despite flaky head", sku, got[sku])
		}
	}
	if _, ok := got["aaa-flaky"]; ok {
		t.Error("transient failure must stay unresolved")
	}
	if len(cat.missing) != 1 || cat.missing[0].SKU != "aaa-flaky" {
		t.Errorf("missing = %v, want only the flaky product pending", cat.missing)
	}
}

func TestStoreNamesIsBounded(t *testing.T) {
	reg := newFakeRegistry(
		store.Store{Retailer: retailer.Woolworths, ID: "1", Name: "One"},
		store.Store{Retailer: retailer.Woolworths, ID: "2", Name: "Two"},
		store.Store{Retailer: retailer.Woolworths, ID: "3", Name: "Three"},
	)
	names := NewStoreNames(reg, 2)

	for _, id := range []string{"1", "2", "3"} {
		if _, err := names.Get(context.Background(), retailer.Woolworths, id); err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
	}

	names.mu.Lock()
	size := len(names.entries)
	names.mu.Unlock()
	if size > 2 {
		t.Errorf("cache holds %d entries, bound is 2", size)
	}

	// Unknown stores fall back to the key so titles stay renderable.
	name, err := names.Get(context.Background(), retailer.NewWorld, "77")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	if name != "nw-77" {
		t.Errorf("unknown store name = %q, want nw-77", name)
	}
}
