package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/benvon/portal-identity/internal/services/account"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/benvon/portal-identity/internal/services/oidc"
	"github.com/benvon/portal-identity/internal/token"
)

func testIssued(tok string) *token.Issued {
	return &token.Issued{Token: tok, ExpiresAt: time.Now().Add(time.Hour), ExpiresIn: time.Hour}
}

// withCaller attaches a principal and portal the way the auth middleware would.
func withCaller(r *http.Request, p *models.Principal) *http.Request {
	ctx := request.WithPortal(r.Context(), p.PortalID)
	ctx = request.WithPrincipal(ctx, p, "caller-token")
	return r.WithContext(ctx)
}

type fakeAccounts struct {
	mu         sync.Mutex
	developers map[string]*models.Developer
	adminCount int
	loginErr   error
	loggedOut  []string
	changed    []string
}

func newFakeAccounts(devs ...*models.Developer) *fakeAccounts {
	f := &fakeAccounts{developers: map[string]*models.Developer{}}
	for _, d := range devs {
		f.developers[d.ID] = d
	}
	return f
}

func (f *fakeAccounts) RegisterDeveloper(_ context.Context, portalID string, req account.RegisterRequest) (*models.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.developers {
		if d.PortalID == portalID && d.Username != nil && *d.Username == req.Username {
			return nil, autherr.New(autherr.KindConflict, "username is taken")
		}
	}
	name := req.Username
	dev := &models.Developer{ID: "dev-" + name, PortalID: portalID, Username: &name, Status: models.DeveloperStatusPending, AuthType: models.AuthTypeBuiltin}
	f.developers[dev.ID] = dev
	return dev, nil
}

func (f *fakeAccounts) LoginDeveloper(context.Context, string, account.LoginRequest) (*token.Issued, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return testIssued("developer-token"), nil
}

func (f *fakeAccounts) ChangeDeveloperPassword(_ context.Context, developerID string, _ account.ChangePasswordRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, developerID)
	return nil
}

func (f *fakeAccounts) Developer(_ context.Context, developerID string) (*models.Developer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.developers[developerID]; ok {
		return d, nil
	}
	return nil, autherr.New(autherr.KindNotFound, "developer not found")
}

func (f *fakeAccounts) AdminNeedsInit(context.Context, string) (bool, error) {
	return f.adminCount == 0, nil
}

func (f *fakeAccounts) InitAdmin(_ context.Context, portalID string, req account.RegisterRequest) (*models.Administrator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adminCount > 0 {
		return nil, autherr.New(autherr.KindConflict, "portal already has an administrator")
	}
	f.adminCount++
	return &models.Administrator{ID: "adm-1", PortalID: portalID, Username: req.Username}, nil
}

func (f *fakeAccounts) LoginAdmin(context.Context, string, account.LoginRequest) (*token.Issued, error) {
	return testIssued("admin-token"), nil
}

func (f *fakeAccounts) ChangeAdminPassword(_ context.Context, adminID string, _ account.ChangePasswordRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, adminID)
	return nil
}

func (f *fakeAccounts) Logout(_ context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, tok)
	return nil
}

type fakeIdentities struct {
	mu       sync.Mutex
	bound    []identity.ExternalProfile
	unbound  []string
	deleted  []string
	unbindFn func(developerID, provider, subject string) error
}

func (f *fakeIdentities) Bind(_ context.Context, _ string, p identity.ExternalProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = append(f.bound, p)
	return nil
}

func (f *fakeIdentities) Unbind(_ context.Context, developerID, provider, subject string) error {
	if f.unbindFn != nil {
		return f.unbindFn(developerID, provider, subject)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbound = append(f.unbound, developerID+"/"+provider+"/"+subject)
	return nil
}

func (f *fakeIdentities) DeleteAccount(_ context.Context, developerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, developerID)
	return nil
}

func (f *fakeIdentities) ListIdentities(_ context.Context, developerID string) ([]*models.ExternalIdentity, error) {
	return []*models.ExternalIdentity{{PortalID: "portal-a", Provider: "google", Subject: "g-1", DeveloperID: developerID}}, nil
}

type fakeFlow struct {
	lastAuthorize oidc.AuthorizeRequest
	lastCallback  oidc.CallbackRequest
	authorizeErr  error
	result        *oidc.CallbackResult
	callbackErr   error
}

func (f *fakeFlow) ListProviders(context.Context, string) ([]oidc.ProviderInfo, error) {
	return []oidc.ProviderInfo{{Provider: "google", Name: "Google"}}, nil
}

func (f *fakeFlow) BuildAuthorizationURL(_ context.Context, req oidc.AuthorizeRequest) (string, error) {
	f.lastAuthorize = req
	if f.authorizeErr != nil {
		return "", f.authorizeErr
	}
	return "https://idp.example.com/authorize?state=s", nil
}

func (f *fakeFlow) HandleCallback(_ context.Context, req oidc.CallbackRequest) (*oidc.CallbackResult, error) {
	f.lastCallback = req
	return f.result, f.callbackErr
}

type fakeBearer struct {
	grant, assertion string
	err              error
}

func (f *fakeBearer) Authenticate(_ context.Context, grantType, assertion string) (*token.Issued, error) {
	f.grant, f.assertion = grantType, assertion
	if f.err != nil {
		return nil, f.err
	}
	return testIssued("bearer-token"), nil
}
