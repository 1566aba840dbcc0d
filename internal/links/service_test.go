package links

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgelink/internal/bus"
	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/events"
	"edgelink/internal/models"
	"edgelink/internal/rules"
)

type fakeStore struct {
	mu    sync.Mutex
	links map[string]*models.Link
	sets  map[int64]*models.RuleSet
	next  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: make(map[string]*models.Link), sets: make(map[int64]*models.RuleSet)}
}

func storeKey(domain, key string) string { return domain + "\x00" + key }

func (s *fakeStore) GetActiveLink(_ context.Context, domain, key string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[storeKey(domain, key)], nil
}

func (s *fakeStore) CreateLink(_ context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	link.ID = s.next
	copied := *link
	s.links[storeKey(link.CustomDomain, link.Key)] = &copied
	return nil
}

func (s *fakeStore) UpdateLink(_ context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *link
	s.links[storeKey(link.CustomDomain, link.Key)] = &copied
	return nil
}

func (s *fakeStore) DeleteLink(_ context.Context, domain, key string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[storeKey(domain, key)]
	if !ok {
		return nil, errors.NotFoundError("link")
	}
	now := time.Now()
	link.DeletedAt = &now
	link.Active = false
	return link, nil
}

func (s *fakeStore) GetRuleSet(_ context.Context, linkID int64) (*models.RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.sets[linkID]; set != nil {
		return set, nil
	}
	return &models.RuleSet{LinkID: linkID}, nil
}

func (s *fakeStore) SetRuleSet(_ context.Context, linkID int64, rules []models.RoutingRule) (*models.RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[linkID]
	version := int64(1)
	if set != nil {
		version = set.Version + 1
	}
	out := &models.RuleSet{LinkID: linkID, Version: version, Rules: rules}
	s.sets[linkID] = out
	return out, nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInvalidator) Invalidate(domain, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, domain+"/"+key)
}

func testLogger() logging.Logger {
	logger, _ := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel})
	return logger
}

type harness struct {
	service *Service
	store   *fakeStore
	cache   *fakeInvalidator
	mu      sync.Mutex
	kinds   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: newFakeStore(), cache: &fakeInvalidator{}}
	eventBus := bus.NewMemoryBus(testLogger())
	t.Cleanup(func() { eventBus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, eventBus.Subscribe(ctx, "test",
		[]string{"link.created", "link.updated", "link.deleted"},
		func(_ context.Context, e *events.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.kinds = append(h.kinds, string(e.Kind))
			return nil
		}))

	h.service = NewService(h.store, h.cache, eventBus, testLogger())
	return h
}

func (h *harness) waitForKinds(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.kinds) >= len(want)
	}, time.Second, 5*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, want, h.kinds)
}

func validLink() *models.Link {
	return &models.Link{
		Key:           "abc123",
		OwnerID:       "acct-1",
		DefaultTarget: "https://example.com",
		Active:        true,
	}
}

func TestCreatePublishesEvent(t *testing.T) {
	h := newHarness(t)

	link, err := h.service.Create(context.Background(), validLink(), "")
	require.NoError(t, err)
	assert.NotZero(t, link.ID)

	assert.Equal(t, []string{"/abc123"}, h.cache.calls)
	h.waitForKinds(t, "link.created")
}

func TestCreateEvictsCachedMiss(t *testing.T) {
	store := newFakeStore()
	cache := rules.NewCache(store, time.Hour, testLogger())
	eventBus := bus.NewMemoryBus(testLogger())
	t.Cleanup(func() { eventBus.Close() })
	service := NewService(store, cache, eventBus, testLogger())

	ctx := context.Background()

	// A resolve that hits the slug before it exists caches the miss.
	link, _, err := cache.Snapshot(ctx, "", "abc123")
	require.NoError(t, err)
	require.Nil(t, link)

	_, err = service.Create(ctx, validLink(), "")
	require.NoError(t, err)

	link, _, err = cache.Snapshot(ctx, "", "abc123")
	require.NoError(t, err)
	require.NotNil(t, link, "created link must be visible without waiting out the cache TTL")
	assert.Equal(t, "https://example.com", link.DefaultTarget)
}

func TestCreateHashesPassword(t *testing.T) {
	h := newHarness(t)

	link, err := h.service.Create(context.Background(), validLink(), "hunter2")
	require.NoError(t, err)
	assert.True(t, link.RequiresPassword())
	assert.True(t, link.CheckPassword("hunter2"))
	assert.False(t, link.CheckPassword("wrong"))
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Create(ctx, validLink(), "")
	require.NoError(t, err)

	_, err = h.service.Create(ctx, validLink(), "")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestCreateRejectsTombstonedKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Create(ctx, validLink(), "")
	require.NoError(t, err)
	require.NoError(t, h.service.Delete(ctx, "", "abc123"))

	// The tombstone keeps the slug reserved.
	_, err = h.service.Create(ctx, validLink(), "")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*models.Link)
	}{
		{"empty key", func(l *models.Link) { l.Key = "" }},
		{"key with slash", func(l *models.Link) { l.Key = "a/b" }},
		{"no owner", func(l *models.Link) { l.OwnerID = "" }},
		{"no target", func(l *models.Link) { l.DefaultTarget = "" }},
		{"relative target", func(l *models.Link) { l.DefaultTarget = "/relative" }},
		{"non-http scheme", func(l *models.Link) { l.DefaultTarget = "ftp://example.com" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			link := validLink()
			tc.mutate(link)
			_, err := h.service.Create(ctx, link, "")
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
}

func TestUpdateInvalidatesCacheAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	link, err := h.service.Create(ctx, validLink(), "")
	require.NoError(t, err)

	link.DefaultTarget = "https://example.org"
	_, err = h.service.Update(ctx, link)
	require.NoError(t, err)

	assert.Equal(t, []string{"/abc123", "/abc123"}, h.cache.calls)
	h.waitForKinds(t, "link.created", "link.updated")
}

func TestSetRulesBumpsVersionAndInvalidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	link, err := h.service.Create(ctx, validLink(), "")
	require.NoError(t, err)

	rules := []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindDevice, Target: "https://m.example.com",
			Devices: []models.DeviceClass{models.DeviceMobile}},
	}
	set, err := h.service.SetRules(ctx, link, rules)
	require.NoError(t, err)
	assert.Equal(t, int64(1), set.Version)

	set, err = h.service.SetRules(ctx, link, rules)
	require.NoError(t, err)
	assert.Equal(t, int64(2), set.Version)

	assert.Len(t, h.cache.calls, 3, "create plus both rule-set replacements")
}

func TestSetRulesValidatesSplitRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	link, err := h.service.Create(ctx, validLink(), "")
	require.NoError(t, err)

	_, err = h.service.SetRules(ctx, link, []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindSplit, Target: "https://example.com/a", Weight: 50},
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "variant label required")

	_, err = h.service.SetRules(ctx, link, []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindSplit, Target: "https://example.com/a", Variant: "a", Weight: 150},
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "weight out of range")
}

func TestDeleteInvalidatesAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Create(ctx, validLink(), "")
	require.NoError(t, err)

	require.NoError(t, h.service.Delete(ctx, "", "abc123"))
	assert.Equal(t, []string{"/abc123", "/abc123"}, h.cache.calls)
	h.waitForKinds(t, "link.created", "link.deleted")

	err = h.service.Delete(ctx, "", "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}
