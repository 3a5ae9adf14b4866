package database

import (
	"context"

	"github.com/benvon/portal-identity/internal/models"
)

// IdentityStore defines the persistence operations behind identity binding.
// Implementations must report ErrNotFound and ErrDuplicate through the error chain.
type IdentityStore interface {
	FindIdentity(ctx context.Context, portalID, provider, subject string) (*models.ExternalIdentity, error)
	GetDeveloper(ctx context.Context, developerID string) (*models.Developer, error)
	UsernameTaken(ctx context.Context, portalID, username string) (bool, error)
	ListIdentities(ctx context.Context, developerID string) ([]*models.ExternalIdentity, error)
	CreateIdentity(ctx context.Context, ident *models.ExternalIdentity) error
	CreateDeveloperWithIdentity(ctx context.Context, dev *models.Developer, ident *models.ExternalIdentity) error
	DeleteIdentity(ctx context.Context, developerID, provider, subject string, guard UnbindGuard) error
	DeleteDeveloper(ctx context.Context, developerID string) error
}

// DeveloperRepositoryInterface defines the developer account operations
type DeveloperRepositoryInterface interface {
	Create(ctx context.Context, dev *models.Developer) error
	GetByID(ctx context.Context, id string) (*models.Developer, error)
	GetByUsername(ctx context.Context, portalID, username string) (*models.Developer, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateStatus(ctx context.Context, id string, status models.DeveloperStatus) error
}

// AdministratorRepositoryInterface defines the administrator account operations
type AdministratorRepositoryInterface interface {
	Count(ctx context.Context, portalID string) (int, error)
	CreateFirst(ctx context.Context, portalID string, admin *models.Administrator) error
	GetByUsername(ctx context.Context, portalID, username string) (*models.Administrator, error)
	GetByID(ctx context.Context, id string) (*models.Administrator, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// PortalRepositoryInterface defines the portal settings operations
type PortalRepositoryInterface interface {
	Get(ctx context.Context, portalID string) (*models.PortalSettings, error)
	List(ctx context.Context) ([]*models.PortalSettings, error)
	Upsert(ctx context.Context, settings *models.PortalSettings) error
	ResolveDomain(ctx context.Context, domain string) (string, error)
}

// AuditRepositoryInterface defines the audit trail operations
type AuditRepositoryInterface interface {
	Record(ctx context.Context, ev *models.AuditEvent) error
	ListByDeveloper(ctx context.Context, portalID, developerID string, limit int) ([]*models.AuditEvent, error)
}

// Ensure concrete types implement the interfaces
var (
	_ IdentityStore                    = (*IdentityRepository)(nil)
	_ DeveloperRepositoryInterface     = (*DeveloperRepository)(nil)
	_ AdministratorRepositoryInterface = (*AdministratorRepository)(nil)
	_ PortalRepositoryInterface        = (*PortalRepository)(nil)
	_ AuditRepositoryInterface         = (*AuditRepository)(nil)
)
