// Package settings provides read access to per-portal identity settings.
// Settings are owned by portal administration; the auth core only reads them.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/models"
)

// ErrPortalNotFound is returned when no settings exist for a portal.
var ErrPortalNotFound = errors.New("portal not found")

// Source returns the current settings of a portal. Returned settings are
// shared and must not be modified.
type Source interface {
	Get(ctx context.Context, portalID string) (*models.PortalSettings, error)
}

// DomainResolver maps a request domain to the portal served on it. An
// unclaimed domain yields "" and no error.
type DomainResolver interface {
	ResolveDomain(ctx context.Context, domain string) (string, error)
}

// DatabaseSource reads settings from the portals table.
type DatabaseSource struct {
	repo database.PortalRepositoryInterface
}

// NewDatabaseSource creates a Source backed by repo.
func NewDatabaseSource(repo database.PortalRepositoryInterface) *DatabaseSource {
	return &DatabaseSource{repo: repo}
}

// Get implements Source.
func (s *DatabaseSource) Get(ctx context.Context, portalID string) (*models.PortalSettings, error) {
	settings, err := s.repo.Get(ctx, portalID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("portal %s: %w", portalID, ErrPortalNotFound)
		}
		return nil, err
	}
	return settings, nil
}

// ResolveDomain implements DomainResolver.
func (s *DatabaseSource) ResolveDomain(ctx context.Context, domain string) (string, error) {
	domain = models.NormalizeDomain(domain)
	if domain == "" {
		return "", nil
	}
	portalID, err := s.repo.ResolveDomain(ctx, domain)
	if err != nil {
		if database.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return portalID, nil
}

// StaticSource serves a fixed set of portals from memory.
type StaticSource struct {
	mu      sync.RWMutex
	portals map[string]*models.PortalSettings
}

// NewStaticSource creates a Source holding the given portals.
func NewStaticSource(portals ...*models.PortalSettings) *StaticSource {
	s := &StaticSource{portals: make(map[string]*models.PortalSettings, len(portals))}
	for _, p := range portals {
		s.portals[p.PortalID] = p
	}
	return s
}

// Get implements Source.
func (s *StaticSource) Get(_ context.Context, portalID string) (*models.PortalSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portals[portalID]
	if !ok {
		return nil, fmt.Errorf("portal %s: %w", portalID, ErrPortalNotFound)
	}
	return p, nil
}

// Put replaces the settings of one portal.
func (s *StaticSource) Put(p *models.PortalSettings) {
	s.mu.Lock()
	s.portals[p.PortalID] = p
	s.mu.Unlock()
}

// ResolveDomain implements DomainResolver. When several portals claim a
// domain the lowest portal id wins.
func (s *StaticSource) ResolveDomain(_ context.Context, domain string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, p := range s.portals {
		if p.ServesDomain(domain) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Strings(ids)
	return ids[0], nil
}

// List returns all portals held by the source.
func (s *StaticSource) List() []*models.PortalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PortalSettings, 0, len(s.portals))
	for _, p := range s.portals {
		out = append(out, p)
	}
	return out
}

var (
	_ Source = (*DatabaseSource)(nil)
	_ Source = (*StaticSource)(nil)
	_ Source = (*FileSource)(nil)
	_ Source = (*Cached)(nil)

	_ DomainResolver = (*DatabaseSource)(nil)
	_ DomainResolver = (*StaticSource)(nil)
	_ DomainResolver = (*FileSource)(nil)
	_ DomainResolver = (*Cached)(nil)
)
