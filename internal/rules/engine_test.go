package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgelink/internal/common/errors"
	"edgelink/internal/models"
)

// stubSource serves fixed snapshots without a store.
type stubSource struct {
	link  *models.Link
	rules *models.RuleSet
	err   error
}

func (s *stubSource) Snapshot(ctx context.Context, domain, key string) (*models.Link, *models.RuleSet, error) {
	return s.link, s.rules, s.err
}

func activeLink() *models.Link {
	return &models.Link{
		ID:            1,
		Key:           "abc123",
		OwnerID:       "acct-1",
		DefaultTarget: "https://example.com",
		Active:        true,
	}
}

func resolveWith(t *testing.T, link *models.Link, rules *models.RuleSet, req *RequestContext) *Decision {
	t.Helper()
	engine := NewEngine(&stubSource{link: link, rules: rules}, nil)
	decision, err := engine.Resolve(context.Background(), "", "abc123", req)
	require.NoError(t, err)
	return decision
}

func TestResolveUnknownLink(t *testing.T) {
	engine := NewEngine(&stubSource{}, nil)
	_, err := engine.Resolve(context.Background(), "", "missing", &RequestContext{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestResolveExpiredLinkAlwaysGone(t *testing.T) {
	link := activeLink()
	past := time.Now().Add(-time.Hour)
	link.ExpiresAt = &past

	// Even with a matching rule, an expired link yields Gone.
	ruleSet := &models.RuleSet{LinkID: 1, Rules: []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindDevice, Priority: 0, Target: "https://m.example.com", Devices: []models.DeviceClass{models.DeviceMobile}},
	}}

	engine := NewEngine(&stubSource{link: link, rules: ruleSet}, nil)
	_, err := engine.Resolve(context.Background(), "", "abc123", &RequestContext{Device: models.DeviceMobile})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGone))
}

func TestResolveInactiveLinkGone(t *testing.T) {
	link := activeLink()
	link.Active = false

	engine := NewEngine(&stubSource{link: link}, nil)
	_, err := engine.Resolve(context.Background(), "", "abc123", &RequestContext{})
	assert.True(t, errors.IsType(err, errors.ErrTypeGone))
}

func TestResolveSoftDeletedLinkNotFound(t *testing.T) {
	link := activeLink()
	now := time.Now()
	link.DeletedAt = &now

	engine := NewEngine(&stubSource{link: link}, nil)
	_, err := engine.Resolve(context.Background(), "", "abc123", &RequestContext{})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestResolveNoRulesUsesDefault(t *testing.T) {
	decision := resolveWith(t, activeLink(), nil, &RequestContext{Device: models.DeviceDesktop})
	assert.Equal(t, "https://example.com", decision.DestinationURL)
	assert.Empty(t, decision.MatchedRuleID)
	assert.Empty(t, decision.Variant)
}

func TestResolveNoMatchingRuleUsesDefault(t *testing.T) {
	ruleSet := &models.RuleSet{LinkID: 1, Rules: []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindDevice, Priority: 0, Target: "https://m.example.com", Devices: []models.DeviceClass{models.DeviceMobile}},
		{ID: "r2", Kind: models.RuleKindGeography, Priority: 1, Target: "https://de.example.com", Countries: []string{"DE"}},
	}}

	decision := resolveWith(t, activeLink(), ruleSet, &RequestContext{Device: models.DeviceDesktop, Country: "US"})
	assert.Equal(t, "https://example.com", decision.DestinationURL)
	assert.Empty(t, decision.MatchedRuleID)
}

func TestResolveDeviceRule(t *testing.T) {
	ruleSet := &models.RuleSet{LinkID: 1, Rules: []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindDevice, Priority: 0, Target: "https://m.example.com", Devices: []models.DeviceClass{models.DeviceMobile}},
	}}

	mobile := resolveWith(t, activeLink(), ruleSet, &RequestContext{Device: models.DeviceMobile})
	assert.Equal(t, "https://m.example.com", mobile.DestinationURL)
	assert.Equal(t, "r1", mobile.MatchedRuleID)

	desktop := resolveWith(t, activeLink(), ruleSet, &RequestContext{Device: models.DeviceDesktop})
	assert.Equal(t, "https://example.com", desktop.DestinationURL)
}

func TestRulePriorityAcrossKinds(t *testing.T) {
	// A device rule and a time-window rule both match; the lower
	// priority index must win in either ordering.
	deviceRule := models.RoutingRule{
		ID: "dev", Kind: models.RuleKindDevice, Target: "https://device.example.com",
		Devices: []models.DeviceClass{models.DeviceMobile},
	}
	timeRule := models.RoutingRule{
		ID: "time", Kind: models.RuleKindTime, Target: "https://night.example.com",
		WindowStart: "00:00", WindowEnd: "23:59",
	}

	req := &RequestContext{
		Device: models.DeviceMobile,
		Now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	deviceRule.Priority, timeRule.Priority = 0, 1
	first := resolveWith(t, activeLink(), &models.RuleSet{Rules: []models.RoutingRule{deviceRule, timeRule}}, req)
	assert.Equal(t, "dev", first.MatchedRuleID)
	assert.Equal(t, "https://device.example.com", first.DestinationURL)

	deviceRule.Priority, timeRule.Priority = 1, 0
	second := resolveWith(t, activeLink(), &models.RuleSet{Rules: []models.RoutingRule{timeRule, deviceRule}}, req)
	assert.Equal(t, "time", second.MatchedRuleID)
	assert.Equal(t, "https://night.example.com", second.DestinationURL)
}

func TestGeographyRule(t *testing.T) {
	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "geo", Kind: models.RuleKindGeography, Target: "https://de.example.com", Countries: []string{"DE", "AT"}},
	}}

	assert.Equal(t, "https://de.example.com",
		resolveWith(t, activeLink(), ruleSet, &RequestContext{Country: "DE"}).DestinationURL)
	assert.Equal(t, "https://de.example.com",
		resolveWith(t, activeLink(), ruleSet, &RequestContext{Country: "AT"}).DestinationURL)
	assert.Equal(t, "https://example.com",
		resolveWith(t, activeLink(), ruleSet, &RequestContext{Country: "US"}).DestinationURL)

	// Unknown geography degrades to a non-match, not an error.
	assert.Equal(t, "https://example.com",
		resolveWith(t, activeLink(), ruleSet, &RequestContext{Country: ""}).DestinationURL)
}

func TestReferrerRule(t *testing.T) {
	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "ref", Kind: models.RuleKindReferrer, Target: "https://social.example.com",
			ReferrerPatterns: []string{"twitter.com", "*.reddit.com"}},
	}}

	tests := []struct {
		referrer string
		want     string
	}{
		{"https://twitter.com/some/path", "https://social.example.com"},
		{"https://www.twitter.com/", "https://social.example.com"},
		{"https://old.reddit.com/r/golang", "https://social.example.com"},
		{"https://reddit.com/", "https://social.example.com"},
		{"https://news.ycombinator.com/", "https://example.com"},
		{"", "https://example.com"},
		{"::not a url::", "https://example.com"},
	}

	for _, tt := range tests {
		decision := resolveWith(t, activeLink(), ruleSet, &RequestContext{Referrer: tt.referrer})
		assert.Equal(t, tt.want, decision.DestinationURL, "referrer %q", tt.referrer)
	}
}

func TestTimeWindowRule(t *testing.T) {
	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "biz", Kind: models.RuleKindTime, Target: "https://open.example.com",
			WindowStart: "09:00", WindowEnd: "17:00"},
	}}

	inside := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)})
	assert.Equal(t, "https://open.example.com", inside.DestinationURL)

	// End boundary is exclusive.
	atEnd := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)})
	assert.Equal(t, "https://example.com", atEnd.DestinationURL)

	outside := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)})
	assert.Equal(t, "https://example.com", outside.DestinationURL)
}

func TestTimeWindowOvernight(t *testing.T) {
	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "night", Kind: models.RuleKindTime, Target: "https://night.example.com",
			WindowStart: "22:00", WindowEnd: "06:00"},
	}}

	late := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)})
	assert.Equal(t, "https://night.example.com", late.DestinationURL)

	early := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)})
	assert.Equal(t, "https://night.example.com", early.DestinationURL)

	noon := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)})
	assert.Equal(t, "https://example.com", noon.DestinationURL)
}

func TestTimeWindowRespectsLinkTimezone(t *testing.T) {
	link := activeLink()
	link.Timezone = "America/New_York"

	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "biz", Kind: models.RuleKindTime, Target: "https://open.example.com",
			WindowStart: "09:00", WindowEnd: "17:00"},
	}}

	// 15:00 UTC in March is 10:00 in New York: inside the window.
	decision := resolveWith(t, link, ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)})
	assert.Equal(t, "https://open.example.com", decision.DestinationURL)
}

func TestMalformedTimeWindowDegrades(t *testing.T) {
	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "broken", Kind: models.RuleKindTime, Target: "https://never.example.com",
			WindowStart: "9am", WindowEnd: "5pm"},
	}}

	decision := resolveWith(t, activeLink(), ruleSet,
		&RequestContext{Now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)})
	assert.Equal(t, "https://example.com", decision.DestinationURL)
}

func TestMalformedTimezoneDegrades(t *testing.T) {
	link := activeLink()
	link.Timezone = "Mars/Olympus_Mons"

	ruleSet := &models.RuleSet{Rules: []models.RoutingRule{
		{ID: "biz", Kind: models.RuleKindTime, Target: "https://open.example.com",
			WindowStart: "00:00", WindowEnd: "23:59"},
	}}

	decision := resolveWith(t, link, ruleSet, &RequestContext{Now: time.Now()})
	assert.Equal(t, "https://example.com", decision.DestinationURL)
}

func TestSplitTestDeterministic(t *testing.T) {
	ruleSet := &models.RuleSet{Version: 7, Rules: []models.RoutingRule{
		{ID: "a", Kind: models.RuleKindSplit, Priority: 0, Target: "https://a.example.com", Variant: "a", Weight: 50},
		{ID: "b", Kind: models.RuleKindSplit, Priority: 1, Target: "https://b.example.com", Variant: "b", Weight: 50},
	}}

	first := resolveWith(t, activeLink(), ruleSet, &RequestContext{VisitorID: "visitor-1"})
	require.NotEmpty(t, first.Variant)

	for i := 0; i < 20; i++ {
		again := resolveWith(t, activeLink(), ruleSet, &RequestContext{VisitorID: "visitor-1"})
		assert.Equal(t, first.Variant, again.Variant, "same visitor must always see the same variant")
		assert.Equal(t, first.DestinationURL, again.DestinationURL)
	}
}

func TestSplitTestCoversWeightSpace(t *testing.T) {
	ruleSet := &models.RuleSet{Version: 1, Rules: []models.RoutingRule{
		{ID: "a", Kind: models.RuleKindSplit, Priority: 0, Target: "https://a.example.com", Variant: "a", Weight: 50},
		{ID: "b", Kind: models.RuleKindSplit, Priority: 1, Target: "https://b.example.com", Variant: "b", Weight: 50},
	}}

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		decision := resolveWith(t, activeLink(), ruleSet,
			&RequestContext{VisitorID: string(rune('a'+i%26)) + string(rune('0'+i/26))})
		require.NotEmpty(t, decision.Variant, "weights sum to 100, every visitor gets a variant")
		seen[decision.Variant]++
	}
	assert.Greater(t, seen["a"], 0)
	assert.Greater(t, seen["b"], 0)
}

func TestSplitTestVersionReshuffles(t *testing.T) {
	rulesFor := func(version int64) *models.RuleSet {
		return &models.RuleSet{Version: version, Rules: []models.RoutingRule{
			{ID: "a", Kind: models.RuleKindSplit, Priority: 0, Target: "https://a.example.com", Variant: "a", Weight: 50},
			{ID: "b", Kind: models.RuleKindSplit, Priority: 1, Target: "https://b.example.com", Variant: "b", Weight: 50},
		}}
	}

	// Across versions some visitor must land differently.
	changed := false
	for i := 0; i < 50 && !changed; i++ {
		visitor := string(rune('a'+i)) + "-visitor"
		v1 := resolveWith(t, activeLink(), rulesFor(1), &RequestContext{VisitorID: visitor})
		v2 := resolveWith(t, activeLink(), rulesFor(2), &RequestContext{VisitorID: visitor})
		changed = v1.Variant != v2.Variant
	}
	assert.True(t, changed, "bumping the variant set version should reshuffle at least one visitor")
}

func TestSplitTestWithoutVisitorFallsThrough(t *testing.T) {
	ruleSet := &models.RuleSet{Version: 1, Rules: []models.RoutingRule{
		{ID: "a", Kind: models.RuleKindSplit, Priority: 0, Target: "https://a.example.com", Variant: "a", Weight: 100},
	}}

	decision := resolveWith(t, activeLink(), ruleSet, &RequestContext{})
	assert.Equal(t, "https://example.com", decision.DestinationURL)
	assert.Empty(t, decision.Variant)
}

func TestPasswordProtectedLink(t *testing.T) {
	hash, err := models.HashPassword("secret")
	require.NoError(t, err)
	link := activeLink()
	link.PasswordHash = hash

	decision := resolveWith(t, link, nil, &RequestContext{})
	assert.True(t, decision.PasswordRequired)
	assert.Empty(t, decision.DestinationURL)
}

func TestPasswordVerifiedResolvesNormally(t *testing.T) {
	hash, err := models.HashPassword("secret")
	require.NoError(t, err)
	link := activeLink()
	link.PasswordHash = hash

	ruleSet := &models.RuleSet{Version: 1, Rules: []models.RoutingRule{
		{ID: "r1", Kind: models.RuleKindDevice, Priority: 0, Target: "https://m.example.com",
			Devices: []models.DeviceClass{models.DeviceMobile}},
	}}

	decision := resolveWith(t, link, ruleSet, &RequestContext{
		Device:           models.DeviceMobile,
		PasswordVerified: true,
	})
	assert.False(t, decision.PasswordRequired)
	assert.Equal(t, "https://m.example.com", decision.DestinationURL)
}
