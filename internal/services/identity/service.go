// Package identity links external provider accounts to portal developers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/queue"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/benvon/portal-identity/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// provisionAttempts bounds retries after losing an insert race.
	provisionAttempts = 3
	// usernameProbeLimit bounds the _N suffix search.
	usernameProbeLimit = 100
	maxUsernameLength  = 64
)

// EventPublisher receives identity lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, event *queue.Event) error
}

// Service implements login-or-provision, binding and unbinding of external identities.
type Service struct {
	store    database.IdentityStore
	settings settings.Source
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEventPublisher sets the publisher for lifecycle events.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an identity service.
func NewService(store database.IdentityStore, src settings.Source, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    store,
		settings: src,
		events:   queue.NewNopPublisher(log),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginOrProvision returns the developer owning the profile's identity,
// creating developer and identity together when none exists. Developers that
// are not approved yield AccountPending.
func (s *Service) LoginOrProvision(ctx context.Context, p ExternalProfile) (*models.Developer, error) {
	if err := checkProfile(&p); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= provisionAttempts; attempt++ {
		dev, err := s.developerFor(ctx, p)
		if err == nil {
			return approved(dev)
		}
		if !database.IsNotFound(err) {
			return nil, autherr.Wrap(autherr.KindInternal, "failed to look up identity", err)
		}

		dev, err = s.provision(ctx, p)
		if err == nil {
			s.log.Info("developer_provisioned",
				zap.String("portal_id", p.PortalID),
				zap.String("provider", p.Provider),
				zap.String("developer_id", dev.ID),
				zap.String("status", string(dev.Status)),
			)
			s.publish(ctx, queue.NewEvent(queue.EventDeveloperProvisioned, p.PortalID, dev.ID).WithIdentity(p.Provider, p.Subject), p.Attributes)
			return approved(dev)
		}
		if !database.IsDuplicate(err) {
			var ae *autherr.Error
			if errors.As(err, &ae) {
				return nil, err
			}
			return nil, autherr.Wrap(autherr.KindInternal, "failed to provision developer", err)
		}
		// Lost a race on the identity or the username; re-read and retry.
		s.log.Debug("developer_provision_conflict", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, autherr.New(autherr.KindConflict, "could not provision developer, please retry")
}

func (s *Service) developerFor(ctx context.Context, p ExternalProfile) (*models.Developer, error) {
	ident, err := s.store.FindIdentity(ctx, p.PortalID, p.Provider, p.Subject)
	if err != nil {
		return nil, err
	}
	return s.store.GetDeveloper(ctx, ident.DeveloperID)
}

func (s *Service) provision(ctx context.Context, p ExternalProfile) (*models.Developer, error) {
	portal, err := s.portal(ctx, p.PortalID)
	if err != nil {
		return nil, err
	}
	username, err := s.uniqueUsername(ctx, p)
	if err != nil {
		return nil, err
	}

	status := models.DeveloperStatusPending
	if portal.AutoApproveDevelopers {
		status = models.DeveloperStatusApproved
	}
	dev := &models.Developer{
		ID:       models.NewDeveloperID(),
		PortalID: p.PortalID,
		Username: &username,
		Status:   status,
		AuthType: p.AuthType,
	}
	if p.Email != "" {
		email := p.Email
		dev.Email = &email
	}
	if err := s.store.CreateDeveloperWithIdentity(ctx, dev, s.newIdentity(p, dev.ID)); err != nil {
		return nil, err
	}
	return dev, nil
}

// uniqueUsername derives a username from the display name, appending _N
// until it is free in the portal.
func (s *Service) uniqueUsername(ctx context.Context, p ExternalProfile) (string, error) {
	base := validation.SanitizeText(p.DisplayName)
	if base == "" {
		base = p.Provider + "_" + p.Subject
	}
	base = truncate(base, maxUsernameLength-4)

	candidate := base
	for i := 1; i <= usernameProbeLimit; i++ {
		taken, err := s.store.UsernameTaken(ctx, p.PortalID, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	return fmt.Sprintf("%s_%s", base, uuid.NewString()[:8]), nil
}

func (s *Service) newIdentity(p ExternalProfile, developerID string) *models.ExternalIdentity {
	ident := &models.ExternalIdentity{
		ID:          uuid.New(),
		PortalID:    p.PortalID,
		Provider:    p.Provider,
		Subject:     p.Subject,
		RawProfile:  p.rawJSON(),
		DeveloperID: developerID,
		CreatedAt:   s.now().UTC(),
	}
	if p.DisplayName != "" {
		name := p.DisplayName
		ident.DisplayName = &name
	}
	return ident
}

// Bind links the profile's identity to developerID. Binding an identity the
// developer already owns is a no-op.
func (s *Service) Bind(ctx context.Context, developerID string, p ExternalProfile) error {
	if err := checkProfile(&p); err != nil {
		return err
	}
	portal, err := s.portal(ctx, p.PortalID)
	if err != nil {
		if errors.Is(err, autherr.ErrProviderNotFound) {
			return autherr.Newf(autherr.KindProviderDisabled, "provider %s is not enabled", p.Provider)
		}
		return err
	}
	if !portal.HasEnabledProvider(p.Provider) {
		return autherr.Newf(autherr.KindProviderDisabled, "provider %s is not enabled", p.Provider)
	}

	dev, err := s.store.GetDeveloper(ctx, developerID)
	if err != nil {
		return storeError(err, "developer not found")
	}
	if dev.PortalID != p.PortalID {
		return autherr.New(autherr.KindNotFound, "developer not found")
	}

	owned, err := s.ownedBy(ctx, p, developerID)
	if err != nil {
		return err
	}
	if owned {
		return nil
	}

	err = s.store.CreateIdentity(ctx, s.newIdentity(p, developerID))
	if database.IsDuplicate(err) {
		// Raced with another bind of the same identity.
		if owned, rerr := s.ownedBy(ctx, p, developerID); rerr == nil && owned {
			return nil
		}
		return autherr.New(autherr.KindAlreadyBound, "identity is bound to another account")
	}
	if err != nil {
		return autherr.Wrap(autherr.KindInternal, "failed to bind identity", err)
	}

	s.log.Info("identity_bound",
		zap.String("portal_id", p.PortalID),
		zap.String("provider", p.Provider),
		zap.String("developer_id", logger.SanitizeID(developerID)),
	)
	s.publish(ctx, queue.NewEvent(queue.EventIdentityBound, p.PortalID, developerID).WithIdentity(p.Provider, p.Subject), p.Attributes)
	return nil
}

// ownedBy reports whether developerID owns the identity; another owner yields AlreadyBound.
func (s *Service) ownedBy(ctx context.Context, p ExternalProfile, developerID string) (bool, error) {
	ident, err := s.store.FindIdentity(ctx, p.PortalID, p.Provider, p.Subject)
	if database.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, autherr.Wrap(autherr.KindInternal, "failed to look up identity", err)
	}
	if ident.DeveloperID != developerID {
		return false, autherr.New(autherr.KindAlreadyBound, "identity is bound to another account")
	}
	return true, nil
}

// Unbind removes one identity of a developer. The last identity of a
// developer without a password cannot be removed.
func (s *Service) Unbind(ctx context.Context, developerID, provider, subject string) error {
	var portalID string
	guard := func(dev *models.Developer, identities []*models.ExternalIdentity) error {
		portalID = dev.PortalID
		found := false
		for _, ident := range identities {
			if ident.Provider == provider && ident.Subject == subject {
				found = true
				break
			}
		}
		if !found {
			return autherr.New(autherr.KindNotFound, "identity is not bound to this account")
		}
		if !dev.HasPassword() && len(identities) <= 1 {
			return autherr.New(autherr.KindLastAuthMethod, "cannot remove the last login method")
		}
		return nil
	}

	if err := s.store.DeleteIdentity(ctx, developerID, provider, subject, guard); err != nil {
		return storeError(err, "identity is not bound to this account")
	}

	s.log.Info("identity_unbound",
		zap.String("portal_id", portalID),
		zap.String("provider", provider),
		zap.String("developer_id", logger.SanitizeID(developerID)),
	)
	s.publish(ctx, queue.NewEvent(queue.EventIdentityUnbound, portalID, developerID).WithIdentity(provider, subject), nil)
	return nil
}

// DeleteAccount announces and then removes a developer with all identities.
func (s *Service) DeleteAccount(ctx context.Context, developerID string) error {
	dev, err := s.store.GetDeveloper(ctx, developerID)
	if err != nil {
		return storeError(err, "developer not found")
	}

	s.publish(ctx, queue.NewEvent(queue.EventDeveloperDeleting, dev.PortalID, developerID), nil)

	if err := s.store.DeleteDeveloper(ctx, developerID); err != nil {
		return storeError(err, "developer not found")
	}
	s.log.Info("developer_deleted",
		zap.String("portal_id", dev.PortalID),
		zap.String("developer_id", logger.SanitizeID(developerID)),
	)
	return nil
}

// ListIdentities returns the identities bound to a developer.
func (s *Service) ListIdentities(ctx context.Context, developerID string) ([]*models.ExternalIdentity, error) {
	identities, err := s.store.ListIdentities(ctx, developerID)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "failed to list identities", err)
	}
	if identities == nil {
		identities = []*models.ExternalIdentity{}
	}
	return identities, nil
}

func (s *Service) portal(ctx context.Context, portalID string) (*models.PortalSettings, error) {
	portal, err := s.settings.Get(ctx, portalID)
	if errors.Is(err, settings.ErrPortalNotFound) {
		return nil, autherr.Wrap(autherr.KindProviderNotFound, "portal has no identity providers", err)
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load portal settings", err)
	}
	return portal, nil
}

// publish sends an event; failures are logged and never fail the operation.
func (s *Service) publish(ctx context.Context, event *queue.Event, attrs map[string]string) {
	for k, v := range attrs {
		event.Metadata[k] = v
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("identity_event_publish_failed",
			zap.String("event_type", string(event.Type)),
			zap.String("developer_id", logger.SanitizeID(event.DeveloperID)),
			zap.Error(err),
		)
	}
}

func checkProfile(p *ExternalProfile) error {
	if p.PortalID == "" || p.Provider == "" {
		return autherr.New(autherr.KindInvalidRequest, "portal and provider are required")
	}
	if p.Subject == "" {
		return autherr.New(autherr.KindClaimsMissing, "external subject is missing")
	}
	return nil
}

func approved(dev *models.Developer) (*models.Developer, error) {
	if !dev.IsApproved() {
		return nil, autherr.New(autherr.KindAccountPending, "developer account is pending approval")
	}
	return dev, nil
}

// storeError keeps autherr kinds raised inside store callbacks and maps
// ErrNotFound to NotFound.
func storeError(err error, notFound string) error {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if database.IsNotFound(err) {
		return autherr.Wrap(autherr.KindNotFound, notFound, err)
	}
	return autherr.Wrap(autherr.KindInternal, "identity store failure", err)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
