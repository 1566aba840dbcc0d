// Package links owns link mutations. Every mutation goes through the
// service so the rule cache is invalidated and a lifecycle event is
// published for webhook subscribers.
package links

import (
	"context"
	"net/url"
	"strings"

	"edgelink/internal/bus"
	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/events"
	"edgelink/internal/models"
)

// Store is the subset of storage the service needs.
type Store interface {
	GetActiveLink(ctx context.Context, domain, key string) (*models.Link, error)
	CreateLink(ctx context.Context, link *models.Link) error
	UpdateLink(ctx context.Context, link *models.Link) error
	DeleteLink(ctx context.Context, domain, key string) (*models.Link, error)
	SetRuleSet(ctx context.Context, linkID int64, rules []models.RoutingRule) (*models.RuleSet, error)
}

// Invalidator drops a cached rule snapshot after a mutation.
type Invalidator interface {
	Invalidate(domain, key string)
}

// Service coordinates link mutations with cache invalidation and event
// publication.
type Service struct {
	store  Store
	cache  Invalidator
	bus    bus.Bus
	logger logging.Logger
}

func NewService(store Store, cache Invalidator, eventBus bus.Bus, logger logging.Logger) *Service {
	return &Service{store: store, cache: cache, bus: eventBus, logger: logger}
}

// Get returns the live link for a slug. Tombstoned and unknown keys both
// read as not found to management callers.
func (s *Service) Get(ctx context.Context, domain, key string) (*models.Link, error) {
	link, err := s.store.GetActiveLink(ctx, domain, key)
	if err != nil {
		return nil, err
	}
	if link == nil || link.DeletedAt != nil {
		return nil, errors.NotFoundError("link")
	}
	return link, nil
}

// Create validates and persists a new link, then announces it.
func (s *Service) Create(ctx context.Context, link *models.Link, password string) (*models.Link, error) {
	if err := validateLink(link); err != nil {
		return nil, err
	}

	if password != "" {
		hash, err := models.HashPassword(password)
		if err != nil {
			return nil, errors.InternalError("failed to hash link password", err)
		}
		link.PasswordHash = hash
	}

	existing, err := s.store.GetActiveLink(ctx, link.CustomDomain, link.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Tombstoned keys also land here: a deleted slug stays reserved
		// until pruned, so live caches never see it repointed.
		return nil, errors.ValidationError("link key is already in use")
	}

	if err := s.store.CreateLink(ctx, link); err != nil {
		return nil, err
	}

	// A resolve that hit this slug before it existed may have cached
	// the miss; drop it so the new link is reachable immediately.
	s.cache.Invalidate(link.CustomDomain, link.Key)
	s.announce(ctx, events.KindLinkCreated, link)
	return link, nil
}

// Update persists changes to an existing link, invalidates its cached
// snapshot and announces the change.
func (s *Service) Update(ctx context.Context, link *models.Link) (*models.Link, error) {
	if err := validateLink(link); err != nil {
		return nil, err
	}

	if err := s.store.UpdateLink(ctx, link); err != nil {
		return nil, err
	}

	s.cache.Invalidate(link.CustomDomain, link.Key)
	s.announce(ctx, events.KindLinkUpdated, link)
	return link, nil
}

// SetRules atomically replaces a link's routing rules, bumping the rule
// set version so split-test buckets reshuffle.
func (s *Service) SetRules(ctx context.Context, link *models.Link, rules []models.RoutingRule) (*models.RuleSet, error) {
	for i := range rules {
		if err := validateRule(&rules[i]); err != nil {
			return nil, err
		}
	}

	ruleSet, err := s.store.SetRuleSet(ctx, link.ID, rules)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(link.CustomDomain, link.Key)
	s.announce(ctx, events.KindLinkUpdated, link)
	return ruleSet, nil
}

// Delete tombstones a link. The key stays reserved for the retention
// window; resolution reports Gone via the soft-deleted row semantics.
func (s *Service) Delete(ctx context.Context, domain, key string) error {
	link, err := s.store.DeleteLink(ctx, domain, key)
	if err != nil {
		return err
	}

	s.cache.Invalidate(domain, key)
	s.announce(ctx, events.KindLinkDeleted, link)
	return nil
}

func (s *Service) announce(ctx context.Context, kind events.Kind, link *models.Link) {
	event, err := events.NewLinkEvent(kind, link)
	if err != nil {
		s.logger.Error("failed to build link event", err,
			logging.Field{Key: "kind", Value: string(kind)},
			logging.Field{Key: "link_key", Value: link.Key},
		)
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish link event", err,
			logging.Field{Key: "kind", Value: string(kind)},
			logging.Field{Key: "link_key", Value: link.Key},
		)
	}
}

func validateLink(link *models.Link) error {
	if link.Key == "" {
		return errors.ValidationError("link key is required")
	}
	if strings.ContainsAny(link.Key, "/ \t\n") {
		return errors.ValidationError("link key must not contain slashes or whitespace")
	}
	if link.OwnerID == "" {
		return errors.ValidationError("link owner is required")
	}
	if err := validateTarget(link.DefaultTarget); err != nil {
		return err
	}
	return nil
}

func validateRule(rule *models.RoutingRule) error {
	if rule.Kind == models.RuleKindSplit {
		if rule.Variant == "" {
			return errors.ValidationError("split rule requires a variant label")
		}
		if rule.Weight < 0 || rule.Weight > 100 {
			return errors.ValidationError("split rule weight must be between 0 and 100")
		}
	}
	if rule.Target == "" {
		return errors.ValidationError("routing rule requires a target")
	}
	return validateTarget(rule.Target)
}

func validateTarget(target string) error {
	if target == "" {
		return errors.ValidationError("target URL is required")
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.ValidationError("target must be an absolute http(s) URL")
	}
	return nil
}
