package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/leadsync/internal/config"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/repository"
	"github.com/timmy/leadsync/internal/source"
	"github.com/timmy/leadsync/internal/storage"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeSource serves canned forms and leads keyed by page and form ID.
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string]*source.PageInfo
	forms    map[string][]source.FormRef
	formErrs map[string]error
	leads    map[string][]source.RawLead
	leadErrs map[string]error
	panicOn  map[string]bool
	onForms  func(pageID string)
	calls    []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:    map[string]*source.PageInfo{},
		forms:    map[string][]source.FormRef{},
		formErrs: map[string]error{},
		leads:    map[string][]source.RawLead{},
		leadErrs: map[string]error{},
		panicOn:  map[string]bool{},
	}
}

func (f *fakeSource) GetSourceID() string { return "fake" }

func (f *fakeSource) GetPage(_ context.Context, pageID, _ string) (*source.PageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown page %s", domain.ErrSourceUnavailable, pageID)
	}
	return page, nil
}

func (f *fakeSource) ListForms(_ context.Context, pageID, _ string) ([]source.FormRef, error) {
	if f.onForms != nil {
		f.onForms(pageID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "forms:"+pageID)
	if f.panicOn[pageID] {
		panic("boom " + pageID)
	}
	if err := f.formErrs[pageID]; err != nil {
		return nil, err
	}
	return f.forms[pageID], nil
}

func (f *fakeSource) ListLeads(_ context.Context, formID, _ string) ([]source.RawLead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leads:"+formID)
	if err := f.leadErrs[formID]; err != nil {
		return nil, err
	}
	return f.leads[formID], nil
}

func rawLead(id, email string) source.RawLead {
	return source.RawLead{
		ID:          id,
		CreatedTime: "2026-02-28T09:00:00+0000",
		FieldData: []source.FieldDatum{
			{Name: "full_name", Values: []string{"Lead " + id}},
			{Name: "email", Values: []string{email}},
		},
	}
}

type testEnv struct {
	db      *gorm.DB
	clock   *testClock
	configs *repository.PageConfigRepository
	jobs    *repository.SyncJobRepository
	leads   *repository.LeadRepository
	forms   *repository.LeadFormRepository
	source  *fakeSource
	store   *storage.MemoryStorage
	svc     *AutoSyncService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := &testClock{now: testNow}

	env := &testEnv{
		db:      db,
		clock:   clock,
		configs: repository.NewPageConfigRepository(db).WithClock(clock.Now),
		jobs:    repository.NewSyncJobRepository(db).WithClock(clock.Now),
		leads:   repository.NewLeadRepository(db),
		forms:   repository.NewLeadFormRepository(db),
		source:  newFakeSource(),
		store:   storage.NewMemoryStorage(),
	}
	env.svc = NewAutoSyncService(
		env.configs, env.jobs, env.leads, env.forms, env.source,
		storage.NewObjectArchive(env.store, "graph"),
		nil, &AutoSyncConfig{BatchTimeout: time.Minute},
	)
	return env
}

// seedConfig stores a config one hour before testNow so that with a 30 minute
// interval it is due at testNow.
func (e *testEnv) seedConfig(t *testing.T, userID, pageID string, enabled bool) *domain.PageSyncConfig {
	t.Helper()
	prev := e.clock.Now()
	e.clock.Set(testNow.Add(-time.Hour))
	defer e.clock.Set(prev)

	cfg, err := e.configs.Upsert(context.Background(), repository.UpsertConfigInput{
		UserID:          userID,
		PageID:          pageID,
		AccessToken:     "token-" + pageID,
		AutoSyncEnabled: enabled,
		IntervalMinutes: 30,
	})
	require.NoError(t, err)
	return cfg
}

func (e *testEnv) config(t *testing.T, id uint) *domain.PageSyncConfig {
	t.Helper()
	cfg, err := e.configs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return cfg
}

func (e *testEnv) jobsFor(t *testing.T, configID uint) []domain.SyncJob {
	t.Helper()
	jobs, err := e.jobs.ListByConfig(context.Background(), configID)
	require.NoError(t, err)
	return jobs
}

func (e *testEnv) leadCount(t *testing.T, userID string) int64 {
	t.Helper()
	count, err := e.leads.CountForUser(context.Background(), userID)
	require.NoError(t, err)
	return count
}
