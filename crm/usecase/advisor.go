package usecase

import (
	"context"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/application"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/crypto"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
)

// LoginResult es la respuesta del login de asesores.
type LoginResult struct {
	Advisor   domain.Advisor `json:"advisor"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// IAdvisorUsecase cubre autenticación, presencia y la administración del
// catálogo de asesores y estados.
type IAdvisorUsecase interface {
	Login(ctx context.Context, username, password string) (LoginResult, error)
	Logout(ctx context.Context, advisorID string) error
	Heartbeat(ctx context.Context, advisorID string)
	SetStatus(ctx context.Context, advisorID, statusID string, manuallyOffline bool) error

	List(ctx context.Context) ([]domain.Advisor, error)
	Get(ctx context.Context, id string) (domain.Advisor, error)
	Create(ctx context.Context, adv *domain.Advisor, password string) error
	Update(ctx context.Context, adv domain.Advisor, newPassword string) error
	Delete(ctx context.Context, id string) error

	ListStatuses(ctx context.Context) ([]domain.AdvisorStatus, error)
	SaveStatus(ctx context.Context, st *domain.AdvisorStatus) error
	DeleteStatus(ctx context.Context, id string) error
	Activity(ctx context.Context, advisorID string, limit int) ([]domain.AdvisorActivityLog, error)
}

type AdvisorUsecase struct {
	advisors domain.IAdvisorRepository
	presence *application.PresenceService
	issuer   *TokenIssuer
}

func NewAdvisorUsecase(
	advisors domain.IAdvisorRepository,
	presence *application.PresenceService,
	issuer *TokenIssuer,
) *AdvisorUsecase {
	return &AdvisorUsecase{advisors: advisors, presence: presence, issuer: issuer}
}

// Login verifica la contraseña (argon2id), abre la sesión de presencia y
// emite el JWT. Usuario inexistente y contraseña incorrecta responden igual.
func (u *AdvisorUsecase) Login(ctx context.Context, username, password string) (LoginResult, error) {
	adv, err := u.advisors.GetByUsername(ctx, username)
	if err != nil {
		logrus.Warnf("[AUTH] Login failed for unknown user %q", username)
		return LoginResult{}, pkgError.AuthError("invalid credentials")
	}
	if !crypto.CheckPasswordHash(password, adv.PasswordHash) {
		logrus.Warnf("[AUTH] Login failed for %q: bad password", username)
		return LoginResult{}, pkgError.AuthError("invalid credentials")
	}

	if _, err := u.presence.Login(ctx, adv.ID); err != nil {
		return LoginResult{}, err
	}
	token, expires, err := u.issuer.Issue(adv)
	if err != nil {
		return LoginResult{}, pkgError.InternalError("failed to sign session token")
	}
	return LoginResult{Advisor: adv, Token: token, ExpiresAt: expires}, nil
}

func (u *AdvisorUsecase) Logout(ctx context.Context, advisorID string) error {
	return u.presence.Logout(ctx, advisorID)
}

func (u *AdvisorUsecase) Heartbeat(ctx context.Context, advisorID string) {
	u.presence.Heartbeat(ctx, advisorID)
}

func (u *AdvisorUsecase) SetStatus(ctx context.Context, advisorID, statusID string, manuallyOffline bool) error {
	return u.presence.SetStatus(ctx, advisorID, statusID, manuallyOffline)
}

func (u *AdvisorUsecase) List(ctx context.Context) ([]domain.Advisor, error) {
	return u.advisors.List(ctx)
}

func (u *AdvisorUsecase) Get(ctx context.Context, id string) (domain.Advisor, error) {
	return u.advisors.GetByID(ctx, id)
}

func (u *AdvisorUsecase) Create(ctx context.Context, adv *domain.Advisor, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return pkgError.InternalError("failed to hash password")
	}
	adv.PasswordHash = hash
	if adv.Role == "" {
		adv.Role = domain.RoleAdvisor
	}
	return u.advisors.Create(ctx, adv)
}

// Update conserva el hash vigente cuando no llega contraseña nueva.
func (u *AdvisorUsecase) Update(ctx context.Context, adv domain.Advisor, newPassword string) error {
	current, err := u.advisors.GetByID(ctx, adv.ID)
	if err != nil {
		return err
	}
	adv.PasswordHash = current.PasswordHash
	if newPassword != "" {
		hash, err := crypto.HashPassword(newPassword)
		if err != nil {
			return pkgError.InternalError("failed to hash password")
		}
		adv.PasswordHash = hash
	}
	return u.advisors.Update(ctx, adv)
}

func (u *AdvisorUsecase) Delete(ctx context.Context, id string) error {
	return u.advisors.Delete(ctx, id)
}

func (u *AdvisorUsecase) ListStatuses(ctx context.Context) ([]domain.AdvisorStatus, error) {
	return u.advisors.ListStatuses(ctx)
}

func (u *AdvisorUsecase) SaveStatus(ctx context.Context, st *domain.AdvisorStatus) error {
	return u.advisors.SaveStatus(ctx, st)
}

func (u *AdvisorUsecase) DeleteStatus(ctx context.Context, id string) error {
	return u.advisors.DeleteStatus(ctx, id)
}

func (u *AdvisorUsecase) Activity(ctx context.Context, advisorID string, limit int) ([]domain.AdvisorActivityLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return u.advisors.ListActivity(ctx, advisorID, limit)
}
