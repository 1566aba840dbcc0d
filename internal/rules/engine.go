package rules

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
	"time"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/models"
)

// Engine resolves incoming clicks to destinations. Resolution is
// read-only and deterministic given identical inputs; the only I/O is
// the cached snapshot lookup.
type Engine struct {
	source Source
	logger logging.Logger
}

// NewEngine creates a decision engine reading from the given source.
func NewEngine(source Source, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{source: source, logger: logger}
}

// Resolve selects exactly one destination for the request, or reports
// why none can be served. Rules are evaluated in ascending priority
// order and the first match wins, regardless of kind. If no rule
// matches, the link's default target is used.
func (e *Engine) Resolve(ctx context.Context, domain, key string, req *RequestContext) (*Decision, error) {
	link, ruleSet, err := e.source.Snapshot(ctx, domain, key)
	if err != nil {
		return nil, err
	}
	if link == nil || link.DeletedAt != nil {
		return nil, errors.NotFoundError("link").WithContext("key", key)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	if !link.IsResolvable(now) {
		return nil, errors.GoneError(key)
	}

	if link.RequiresPassword() && !req.PasswordVerified {
		return &Decision{PasswordRequired: true, Link: link}, nil
	}

	decision := &Decision{DestinationURL: link.DefaultTarget, Link: link}
	if ruleSet == nil || len(ruleSet.Rules) == 0 {
		return decision, nil
	}

	ordered := make([]models.RoutingRule, len(ruleSet.Rules))
	copy(ordered, ruleSet.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	splitOffsets := cumulativeSplitOffsets(ordered)
	bucket := -1
	if req.VisitorID != "" {
		bucket = visitorBucket(req.VisitorID, link.Key, ruleSet.Version)
	}

	for _, rule := range ordered {
		matched, variant := e.matches(&rule, link, req, now, splitOffsets, bucket)
		if !matched {
			continue
		}
		decision.DestinationURL = rule.Target
		decision.MatchedRuleID = rule.ID
		decision.Variant = variant
		return decision, nil
	}

	return decision, nil
}

// matches evaluates one rule's predicate against the request context.
// Malformed or missing context fields make the rule a non-match; they
// never fail the resolution.
func (e *Engine) matches(rule *models.RoutingRule, link *models.Link, req *RequestContext, now time.Time, splitOffsets map[string]int, bucket int) (bool, string) {
	switch rule.Kind {
	case models.RuleKindDevice:
		return matchDevice(rule, req.Device), ""

	case models.RuleKindGeography:
		return matchGeography(rule, req.Country), ""

	case models.RuleKindReferrer:
		return matchReferrer(rule, req.Referrer), ""

	case models.RuleKindTime:
		ok, err := matchTimeWindow(rule, link, now)
		if err != nil {
			e.logger.Debug("time-window rule degraded to non-match",
				logging.Field{Key: "rule_id", Value: rule.ID},
				logging.Field{Key: "error", Value: err.Error()},
			)
			return false, ""
		}
		return ok, ""

	case models.RuleKindSplit:
		if bucket < 0 {
			// No visitor identity: treat as a non-match, serve the default.
			return false, ""
		}
		offset := splitOffsets[rule.ID]
		if bucket >= offset && bucket < offset+rule.Weight {
			return true, rule.Variant
		}
		return false, ""

	default:
		return false, ""
	}
}

func matchDevice(rule *models.RoutingRule, device models.DeviceClass) bool {
	if device == "" || device == models.DeviceUnknown {
		return false
	}
	for _, d := range rule.Devices {
		if d == device {
			return true
		}
	}
	return false
}

func matchGeography(rule *models.RoutingRule, country string) bool {
	if country == "" {
		return false
	}
	for _, c := range rule.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// matchReferrer compares the referrer's host against the rule's domain
// patterns. A "*." prefix matches the domain and all subdomains.
func matchReferrer(rule *models.RoutingRule, referrer string) bool {
	if referrer == "" {
		return false
	}

	host := referrer
	if u, err := url.Parse(referrer); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}

	for _, pattern := range rule.ReferrerPatterns {
		p := strings.ToLower(pattern)
		if wild, found := strings.CutPrefix(p, "*."); found {
			if host == wild || strings.HasSuffix(host, "."+wild) {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}

// matchTimeWindow checks whether the current wall-clock time in the
// link's timezone falls in [WindowStart, WindowEnd). Windows where
// start > end span midnight.
func matchTimeWindow(rule *models.RoutingRule, link *models.Link, now time.Time) (bool, error) {
	loc := time.UTC
	if link.Timezone != "" {
		l, err := time.LoadLocation(link.Timezone)
		if err != nil {
			return false, fmt.Errorf("invalid timezone %q: %w", link.Timezone, err)
		}
		loc = l
	}

	start, err := parseClock(rule.WindowStart)
	if err != nil {
		return false, err
	}
	end, err := parseClock(rule.WindowEnd)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end, nil
	}
	// Overnight window, e.g. 22:00-06:00.
	return minute >= start || minute < end, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// cumulativeSplitOffsets assigns each split rule its starting position
// in the 0-100 weight space, in priority order. A visitor bucket beyond
// the summed weights falls through to the default target.
func cumulativeSplitOffsets(ordered []models.RoutingRule) map[string]int {
	offsets := make(map[string]int)
	total := 0
	for _, r := range ordered {
		if r.Kind != models.RuleKindSplit {
			continue
		}
		offsets[r.ID] = total
		total += r.Weight
	}
	return offsets
}

// visitorBucket maps (visitor, link key, variant set version) into
// [0, 100). Pure function of its inputs: the same visitor lands in the
// same bucket on every visit within one experiment version, with no
// per-visitor state stored anywhere. Mutating the rule set bumps the
// version and reshuffles visitors.
func visitorBucket(visitorID, linkKey string, version int64) int {
	h := fnv.New64a()
	h.Write([]byte(visitorID))
	h.Write([]byte{0})
	h.Write([]byte(linkKey))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", version)
	return int(h.Sum64() % 100)
}
