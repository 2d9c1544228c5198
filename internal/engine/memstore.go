package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

// Persister is the durable home of memory state.
type Persister interface {
	Save(ctx context.Context, snap store.Snapshot, force bool) error
	Load(ctx context.Context) (store.Snapshot, error)
}

// ErrDuplicate is returned when a manual insert repeats a fact already in its scope.
var ErrDuplicate = goerr.New("duplicate of an existing record", goerr.T(TagInvalidInput))

// MemoryStore owns every record and list. Reads take a shared lock, writes are
// serialized; every mutation is followed by a save of the touched ids. Save
// failures are logged, the in-memory state stays authoritative and the failed
// ids ride along with the next save until one succeeds.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*store.Record
	lists   map[string]*store.List

	persist     Persister
	saveMu      sync.Mutex
	pending     change // ids whose last save failed; guarded by saveMu
	bg          sync.WaitGroup
	dedupRatio  float64
	defaultList string
	now         func() time.Time
}

// NewMemoryStore creates an empty store. p may be nil for a purely in-memory store.
func NewMemoryStore(p Persister, defaultList string, dedupRatio float64) *MemoryStore {
	if defaultList == "" {
		defaultList = "default"
	}
	if dedupRatio <= 0 {
		dedupRatio = 0.8
	}
	return &MemoryStore{
		records:     make(map[string]*store.Record),
		lists:       make(map[string]*store.List),
		persist:     p,
		dedupRatio:  dedupRatio,
		defaultList: defaultList,
		now:         time.Now,
	}
}

// DefaultList returns the id of the list new long-term facts land in.
func (s *MemoryStore) DefaultList() string { return s.defaultList }

// change names what a save must carry. Records and lists are read back at save
// time, so a later save always writes the newest state.
type change struct {
	records        []string
	lists          []string
	deletedRecords []string
	deletedLists   []string
}

func (c change) empty() bool {
	return len(c.records) == 0 && len(c.lists) == 0 && len(c.deletedRecords) == 0 && len(c.deletedLists) == 0
}

// merge returns the union of c and o, keeping first-seen order.
func (c change) merge(o change) change {
	return change{
		records:        union(c.records, o.records),
		lists:          union(c.lists, o.lists),
		deletedRecords: union(c.deletedRecords, o.deletedRecords),
		deletedLists:   union(c.deletedLists, o.deletedLists),
	}
}

func union(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Load replaces in-memory state with the persisted state and makes sure the
// default list exists.
func (s *MemoryStore) Load(ctx context.Context) error {
	var snap store.Snapshot
	if s.persist != nil {
		var err error
		snap, err = s.persist.Load(ctx)
		if err != nil {
			return goerr.Wrap(err, "load memory state", goerr.T(TagPersistenceFailed))
		}
	}

	s.mu.Lock()
	s.records = make(map[string]*store.Record, len(snap.Records))
	s.lists = make(map[string]*store.List, len(snap.Lists))
	for i := range snap.Lists {
		l := snap.Lists[i]
		s.lists[l.ID] = &l
	}
	for i := range snap.Records {
		r := snap.Records[i].Clone()
		s.records[r.ID] = &r
	}
	var ch change
	if _, ok := s.lists[s.defaultList]; !ok {
		s.lists[s.defaultList] = &store.List{ID: s.defaultList, Name: s.defaultList, IsActive: true, CreatedAt: s.now().UTC()}
		ch.lists = append(ch.lists, s.defaultList)
	}
	s.mu.Unlock()

	logging.Info().Int("records", len(snap.Records)).Int("lists", len(snap.Lists)).Msg("memory: loaded")
	s.save(ctx, ch)
	return nil
}

func (s *MemoryStore) snapshotFor(ch change) store.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap store.Snapshot
	for _, id := range ch.records {
		if r, ok := s.records[id]; ok {
			snap.Records = append(snap.Records, r.Clone())
		}
	}
	for _, id := range ch.lists {
		if l, ok := s.lists[id]; ok {
			snap.Lists = append(snap.Lists, *l)
		}
	}
	snap.DeletedRecords = append(snap.DeletedRecords, ch.deletedRecords...)
	snap.DeletedLists = append(snap.DeletedLists, ch.deletedLists...)
	return snap
}

// save writes the current state of the changed ids plus any ids a previous
// save failed to write. Errors are logged, not returned.
func (s *MemoryStore) save(ctx context.Context, ch change) {
	if s.persist == nil || ch.empty() {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	ch = s.pending.merge(ch)
	snap := s.snapshotFor(ch)
	if snap.Empty() {
		s.pending = change{}
		return
	}
	if err := s.persist.Save(ctx, snap, false); err != nil {
		s.pending = ch
		err = goerr.Wrap(err, "save memory state", goerr.T(TagPersistenceFailed),
			goerr.V("records", len(snap.Records)), goerr.V("deleted", len(snap.DeletedRecords)))
		logging.Error().Err(err).Msg("memory: save failed, keeping in-memory state")
		return
	}
	s.pending = change{}
}

// Unsaved reports whether some change has not reached the persister yet.
func (s *MemoryStore) Unsaved() bool {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return !s.pending.empty()
}

// saveAsync saves in the background; Flush waits for it.
func (s *MemoryStore) saveAsync(ctx context.Context, ch change) {
	if s.persist == nil || ch.empty() {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.save(context.WithoutCancel(ctx), ch)
	}()
}

// Flush waits for background saves to finish.
func (s *MemoryStore) Flush() { s.bg.Wait() }

// Resync writes the full in-memory state over the persisted state.
func (s *MemoryStore) Resync(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	s.bg.Wait()
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snap := store.Snapshot{}
	for _, r := range s.records {
		snap.Records = append(snap.Records, r.Clone())
	}
	for _, l := range s.lists {
		snap.Lists = append(snap.Lists, *l)
	}
	s.mu.RUnlock()

	if err := s.persist.Save(ctx, snap, true); err != nil {
		return goerr.Wrap(err, "resync memory state", goerr.T(TagPersistenceFailed))
	}
	s.pending = change{}
	return nil
}

func sortRecords(out []store.Record) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// Records returns copies of the records of a tier, oldest first. An empty
// scope returns every scope of the tier.
func (s *MemoryStore) Records(tier store.Tier, scope string) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Record
	for _, r := range s.records {
		if r.Tier == tier && (scope == "" || r.ScopeKey == scope) {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out
}

// All returns copies of every record, oldest first.
func (s *MemoryStore) All() []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sortRecords(out)
	return out
}

// ActiveLongTerm returns the long-term records of active lists.
func (s *MemoryStore) ActiveLongTerm() []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Record
	for _, r := range s.records {
		if r.Tier != store.TierLongTerm {
			continue
		}
		if l, ok := s.lists[r.ScopeKey]; ok && l.IsActive {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out
}

// Get returns a copy of one record.
func (s *MemoryStore) Get(id string) (store.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return store.Record{}, false
	}
	return r.Clone(), true
}

// Counts returns the number of records per tier.
func (s *MemoryStore) Counts() map[store.Tier]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[store.Tier]int, len(store.Tiers))
	for _, t := range store.Tiers {
		out[t] = 0
	}
	for _, r := range s.records {
		out[r.Tier]++
	}
	return out
}

// AnalyzedMessageIDs is the union of the watermarks of a tier's records.
// An empty scope covers the whole tier.
func (s *MemoryStore) AnalyzedMessageIDs(tier store.Tier, scope string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for _, r := range s.records {
		if r.Tier != tier || (scope != "" && r.ScopeKey != scope) {
			continue
		}
		for _, id := range r.AnalyzedMessageIDs {
			out[id] = true
		}
	}
	return out
}

func checkScope(tier store.Tier, scope string) error {
	if !tier.Valid() {
		return invalidInput("invalid tier", goerr.V("tier", string(tier)))
	}
	if strings.TrimSpace(scope) == "" {
		return invalidInput("empty scope", goerr.V("tier", string(tier)))
	}
	return nil
}

// prepare fills defaults on a record about to be inserted.
func (s *MemoryStore) prepare(r *store.Record) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if r.Importance <= 0 {
		r.Importance = 0.5
	}
	r.Importance = clamp01(r.Importance)
	if r.DecayFactor <= 0 || r.DecayFactor > 1 {
		r.DecayFactor = 1
	}
	if r.Freshness <= 0 {
		r.Freshness = 1
	}
	r.Freshness = clamp01(r.Freshness)
	r.AccessCount = 0
	r.LastAccessedAt = nil
}

// duplicateLocked reports whether content repeats a record in tier+scope. Caller holds mu.
func (s *MemoryStore) duplicateLocked(tier store.Tier, scope, content string) (string, bool) {
	for _, r := range s.records {
		if r.Tier == tier && r.ScopeKey == scope && nearDuplicate(r.Content, content, s.dedupRatio) {
			return r.ID, true
		}
	}
	return "", false
}

// ensureListLocked creates a missing long-term list. Caller holds mu.
func (s *MemoryStore) ensureListLocked(id string, ch *change) {
	if _, ok := s.lists[id]; ok {
		return
	}
	s.lists[id] = &store.List{ID: id, Name: id, IsActive: true, CreatedAt: s.now().UTC()}
	ch.lists = append(ch.lists, id)
}

// Add inserts one record manually. It fails with TagInvalidInput for a bad
// tier, empty scope or empty content, and with ErrDuplicate when the fact is
// already known in the scope.
func (s *MemoryStore) Add(ctx context.Context, r store.Record) (store.Record, error) {
	r.Content = strings.TrimSpace(r.Content)
	if err := checkScope(r.Tier, r.ScopeKey); err != nil {
		return store.Record{}, err
	}
	if r.Content == "" {
		return store.Record{}, invalidInput("empty content")
	}
	s.prepare(&r)

	var ch change
	s.mu.Lock()
	if id, dup := s.duplicateLocked(r.Tier, r.ScopeKey, r.Content); dup {
		s.mu.Unlock()
		return store.Record{}, goerr.Wrap(ErrDuplicate, "add record", goerr.V("existing", id))
	}
	if r.Tier == store.TierLongTerm {
		s.ensureListLocked(r.ScopeKey, &ch)
	}
	stored := r.Clone()
	s.records[r.ID] = &stored
	ch.records = append(ch.records, r.ID)
	s.mu.Unlock()

	s.save(ctx, ch)
	return r, nil
}

// Commit inserts pipeline output. Each record is re-checked for duplicates
// against its scope under the write lock; duplicates are dropped silently.
// Returns the records actually inserted.
func (s *MemoryStore) Commit(ctx context.Context, recs []store.Record) []store.Record {
	var (
		ch        change
		committed []store.Record
	)

	s.mu.Lock()
	for _, r := range recs {
		r.Content = strings.TrimSpace(r.Content)
		if r.Content == "" || checkScope(r.Tier, r.ScopeKey) != nil {
			continue
		}
		if _, dup := s.duplicateLocked(r.Tier, r.ScopeKey, r.Content); dup {
			continue
		}
		s.prepare(&r)
		if r.Tier == store.TierLongTerm {
			s.ensureListLocked(r.ScopeKey, &ch)
		}
		stored := r.Clone()
		s.records[r.ID] = &stored
		ch.records = append(ch.records, r.ID)
		committed = append(committed, r)
	}
	s.mu.Unlock()

	s.save(ctx, ch)
	return committed
}

// Delete removes a record. Reports whether it existed.
func (s *MemoryStore) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if ok {
		s.save(ctx, change{deletedRecords: []string{id}})
	}
	return ok
}

// Touch records an access on each id. The in-memory update is immediate; the
// save happens in the background.
func (s *MemoryStore) Touch(ctx context.Context, ids []string) {
	now := s.now().UTC()
	var ch change

	s.mu.Lock()
	for _, id := range ids {
		r, ok := s.records[id]
		if !ok {
			continue
		}
		r.AccessCount++
		t := now
		r.LastAccessedAt = &t
		ch.records = append(ch.records, id)
	}
	s.mu.Unlock()

	s.saveAsync(ctx, ch)
}

// SetEmbedding stores a computed vector on a record, in the background.
func (s *MemoryStore) SetEmbedding(ctx context.Context, id string, vec []float64, model string) {
	s.mu.Lock()
	r, ok := s.records[id]
	if ok {
		r.Embedding = append([]float64(nil), vec...)
		r.EmbeddingModel = model
	}
	s.mu.Unlock()

	if ok {
		s.saveAsync(ctx, change{records: []string{id}})
	}
}

// ResetWatermarks clears the analysis markers of every record in tier+scope so
// the next analysis re-reads the whole history. Returns the number of records reset.
func (s *MemoryStore) ResetWatermarks(ctx context.Context, tier store.Tier, scope string) (int, error) {
	if err := checkScope(tier, scope); err != nil {
		return 0, err
	}
	var ch change

	s.mu.Lock()
	for id, r := range s.records {
		if r.Tier != tier || r.ScopeKey != scope {
			continue
		}
		if len(r.AnalyzedMessageIDs) == 0 && r.LastMessageID == "" {
			continue
		}
		r.AnalyzedMessageIDs = nil
		r.LastMessageID = ""
		ch.records = append(ch.records, id)
	}
	s.mu.Unlock()

	s.save(ctx, ch)
	return len(ch.records), nil
}

// Refresh recomputes decay and freshness for every record and persists the
// changed ones. Returns the number changed.
func (s *MemoryStore) Refresh(ctx context.Context, p DecayPolicy, now time.Time) int {
	var ch change

	s.mu.Lock()
	for id, r := range s.records {
		if p.apply(r, now) {
			ch.records = append(ch.records, id)
		}
	}
	s.mu.Unlock()

	s.save(ctx, ch)
	return len(ch.records)
}

// Lists returns every list, oldest first.
func (s *MemoryStore) Lists() []store.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.List, 0, len(s.lists))
	for _, l := range s.lists {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateList adds an active list.
func (s *MemoryStore) CreateList(ctx context.Context, name string) (store.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, invalidInput("empty list name")
	}
	l := store.List{ID: uuid.NewString(), Name: name, IsActive: true, CreatedAt: s.now().UTC()}

	s.mu.Lock()
	s.lists[l.ID] = &l
	s.mu.Unlock()

	s.save(ctx, change{lists: []string{l.ID}})
	return l, nil
}

// SetListActive flips a list's activation flag.
func (s *MemoryStore) SetListActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	l, ok := s.lists[id]
	if ok {
		l.IsActive = active
	}
	s.mu.Unlock()

	if !ok {
		return invalidInput("unknown list", goerr.V("list", id))
	}
	s.save(ctx, change{lists: []string{id}})
	return nil
}

// DeleteList removes a list and destroys its records. Returns the number of records removed.
func (s *MemoryStore) DeleteList(ctx context.Context, id string) (int, error) {
	var ch change

	s.mu.Lock()
	if _, ok := s.lists[id]; !ok {
		s.mu.Unlock()
		return 0, invalidInput("unknown list", goerr.V("list", id))
	}
	delete(s.lists, id)
	for rid, r := range s.records {
		if r.Tier == store.TierLongTerm && r.ScopeKey == id {
			delete(s.records, rid)
			ch.deletedRecords = append(ch.deletedRecords, rid)
		}
	}
	ch.deletedLists = append(ch.deletedLists, id)
	s.mu.Unlock()

	s.save(ctx, ch)
	return len(ch.deletedRecords), nil
}
