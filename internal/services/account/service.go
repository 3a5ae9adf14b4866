// Package account implements password accounts: developer registration and
// login, administrator bootstrap and login, password changes and logout.
package account

import (
	"context"
	"errors"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/revocation"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/benvon/portal-identity/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// RegisterRequest is a developer self-registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email,omitempty" validate:"omitempty,email,max=255"`
}

// LoginRequest carries username and password.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// ChangePasswordRequest replaces a password. OldPassword may be empty only
// when the account has no password yet.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"max=72"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

// Service handles password accounts
type Service struct {
	developers database.DeveloperRepositoryInterface
	admins     database.AdministratorRepositoryInterface
	settings   settings.Source
	tokens     *token.Codec
	revoked    revocation.Store
	cost       int
	// dummyHash keeps unknown-user logins as slow as wrong-password ones.
	dummyHash []byte
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the bcrypt cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates an account service.
func NewService(
	developers database.DeveloperRepositoryInterface,
	admins database.AdministratorRepositoryInterface,
	src settings.Source,
	tokens *token.Codec,
	revoked revocation.Store,
	log *zap.Logger,
	opts ...Option,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		developers: developers,
		admins:     admins,
		settings:   src,
		tokens:     tokens,
		revoked:    revoked,
		cost:       bcrypt.DefaultCost,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	return s
}

// RegisterDeveloper creates a password developer. The portal's approval
// policy decides the initial status.
func (s *Service) RegisterDeveloper(ctx context.Context, portalID string, req RegisterRequest) (*models.Developer, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	portal, err := s.settings.Get(ctx, portalID)
	if err != nil {
		if errors.Is(err, settings.ErrPortalNotFound) {
			return nil, autherr.Newf(autherr.KindNotFound, "portal %s not found", portalID)
		}
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load portal settings", err)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	dev := &models.Developer{
		ID:           models.NewDeveloperID(),
		PortalID:     portalID,
		Username:     &req.Username,
		PasswordHash: &hash,
		Status:       models.DeveloperStatusPending,
		AuthType:     models.AuthTypeBuiltin,
	}
	if req.Email != "" {
		dev.Email = &req.Email
	}
	if portal.AutoApproveDevelopers {
		dev.Status = models.DeveloperStatusApproved
	}

	if err := s.developers.Create(ctx, dev); err != nil {
		if database.IsDuplicate(err) {
			return nil, autherr.Newf(autherr.KindConflict, "username %s is taken", req.Username)
		}
		return nil, autherr.Wrap(autherr.KindInternal, "failed to create developer", err)
	}
	s.log.Info("developer_registered",
		zap.String("portal_id", portalID),
		zap.String("developer_id", dev.ID),
		zap.String("status", string(dev.Status)),
	)
	return dev, nil
}

// LoginDeveloper checks a developer's password and issues a token.
func (s *Service) LoginDeveloper(ctx context.Context, portalID string, req LoginRequest) (*token.Issued, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	dev, err := s.developers.GetByUsername(ctx, portalID, strings.TrimSpace(req.Username))
	if err != nil && !database.IsNotFound(err) {
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load developer", err)
	}

	var hash []byte
	if dev != nil && dev.HasPassword() {
		hash = []byte(*dev.PasswordHash)
	}
	if !s.check(hash, req.Password) {
		return nil, autherr.New(autherr.KindInvalidCredentials, "invalid username or password")
	}
	if !dev.IsApproved() {
		return nil, autherr.New(autherr.KindAccountPending, "developer account is awaiting approval")
	}
	return s.tokens.Issue(models.PrincipalDeveloper, dev.ID, token.PortalClaims(dev.PortalID))
}

// ChangeDeveloperPassword replaces a developer's password.
func (s *Service) ChangeDeveloperPassword(ctx context.Context, developerID string, req ChangePasswordRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	dev, err := s.developers.GetByID(ctx, developerID)
	if err != nil {
		return notFoundOr(err, "developer not found")
	}
	if dev.HasPassword() && !s.check([]byte(*dev.PasswordHash), req.OldPassword) {
		return autherr.New(autherr.KindInvalidCredentials, "old password is incorrect")
	}
	hash, err := s.hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.developers.UpdatePassword(ctx, developerID, hash); err != nil {
		return notFoundOr(err, "developer not found")
	}
	s.log.Info("developer_password_changed", zap.String("developer_id", developerID))
	return nil
}

// Developer returns the developer a principal speaks for.
func (s *Service) Developer(ctx context.Context, developerID string) (*models.Developer, error) {
	dev, err := s.developers.GetByID(ctx, developerID)
	if err != nil {
		return nil, notFoundOr(err, "developer not found")
	}
	return dev, nil
}

// AdminNeedsInit reports whether the portal has no administrator yet.
func (s *Service) AdminNeedsInit(ctx context.Context, portalID string) (bool, error) {
	n, err := s.admins.Count(ctx, portalID)
	if err != nil {
		return false, autherr.Wrap(autherr.KindInternal, "failed to count administrators", err)
	}
	return n == 0, nil
}

// InitAdmin creates the first administrator of a portal. Later calls fail
// with Conflict.
func (s *Service) InitAdmin(ctx context.Context, portalID string, req RegisterRequest) (*models.Administrator, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	admin := &models.Administrator{
		ID:           models.NewAdministratorID(),
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.admins.CreateFirst(ctx, portalID, admin); err != nil {
		if database.IsDuplicate(err) {
			return nil, autherr.New(autherr.KindConflict, "portal already has an administrator")
		}
		return nil, autherr.Wrap(autherr.KindInternal, "failed to create administrator", err)
	}
	s.log.Info("administrator_initialized", zap.String("portal_id", portalID), zap.String("admin_id", admin.ID))
	return admin, nil
}

// LoginAdmin checks an administrator's password and issues a token.
func (s *Service) LoginAdmin(ctx context.Context, portalID string, req LoginRequest) (*token.Issued, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	admin, err := s.admins.GetByUsername(ctx, portalID, strings.TrimSpace(req.Username))
	if err != nil && !database.IsNotFound(err) {
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load administrator", err)
	}

	var hash []byte
	if admin != nil {
		hash = []byte(admin.PasswordHash)
	}
	if !s.check(hash, req.Password) {
		return nil, autherr.New(autherr.KindInvalidCredentials, "invalid username or password")
	}
	return s.tokens.Issue(models.PrincipalAdministrator, admin.ID, token.PortalClaims(admin.PortalID))
}

// ChangeAdminPassword replaces an administrator's password.
func (s *Service) ChangeAdminPassword(ctx context.Context, adminID string, req ChangePasswordRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	admin, err := s.admins.GetByID(ctx, adminID)
	if err != nil {
		return notFoundOr(err, "administrator not found")
	}
	if !s.check([]byte(admin.PasswordHash), req.OldPassword) {
		return autherr.New(autherr.KindInvalidCredentials, "old password is incorrect")
	}
	hash, err := s.hash(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.admins.UpdatePassword(ctx, adminID, hash); err != nil {
		return notFoundOr(err, "administrator not found")
	}
	s.log.Info("administrator_password_changed", zap.String("admin_id", adminID))
	return nil
}

// Logout revokes a token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	exp, err := s.tokens.ExpiresAt(tokenString)
	if err != nil {
		return err
	}
	if err := s.revoked.Revoke(ctx, tokenString, exp); err != nil {
		return autherr.Wrap(autherr.KindInternal, "failed to revoke token", err)
	}
	s.log.Info("token_revoked", zap.String("token", logger.RedactToken(tokenString)), zap.Time("expires_at", exp))
	return nil
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "failed to hash password", err)
	}
	return string(b), nil
}

// check compares password with hash. An empty hash is compared against a
// dummy so the call costs the same either way, and never matches.
func (s *Service) check(hash []byte, password string) bool {
	if len(hash) == 0 {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func notFoundOr(err error, msg string) error {
	if database.IsNotFound(err) {
		return autherr.Wrap(autherr.KindNotFound, msg, err)
	}
	return autherr.Wrap(autherr.KindInternal, msg, err)
}
