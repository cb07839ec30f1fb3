package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/security"
)

type CreateClientInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Company  string
	Role     string
}

// UpdateClientInput leaves nil fields untouched.
type UpdateClientInput struct {
	Name     *string
	Email    *string
	Password *string
	Phone    *string
	Company  *string
	Role     *string
	Active   *bool
}

func (in UpdateClientInput) empty() bool {
	return in.Name == nil && in.Email == nil && in.Password == nil && in.Phone == nil &&
		in.Company == nil && in.Role == nil && in.Active == nil
}

type ClientService struct {
	repo   repository.ClientRepository
	logger *slog.Logger
}

func NewClientService(repo repository.ClientRepository, logger *slog.Logger) *ClientService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientService{repo: repo, logger: logger}
}

func (s *ClientService) Create(ctx context.Context, in CreateClientInput) (*domain.Client, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 100 {
		return nil, domain.Validation(domain.ReasonInvalidInput, "name must be 1-100 characters")
	}
	email, err := parseEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := domain.RoleUser
	if in.Role != "" {
		r, ok := domain.ParseRole(in.Role)
		if !ok {
			return nil, domain.Validation(domain.ReasonInvalidInput, "unknown role")
		}
		role = r
	}
	hash, err := hashSecret(in.Password)
	if err != nil {
		return nil, err
	}
	c := &domain.Client{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Phone:        strings.TrimSpace(in.Phone),
		Company:      strings.TrimSpace(in.Company),
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClientService) Update(ctx context.Context, id uint, in UpdateClientInput) (*domain.Client, error) {
	if in.empty() {
		return nil, domain.Validation(domain.ReasonInvalidInput, "nothing to update")
	}
	var upd repository.ClientUpdate
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > 100 {
			return nil, domain.Validation(domain.ReasonInvalidInput, "name must be 1-100 characters")
		}
		upd.Name = &name
	}
	if in.Email != nil {
		email, err := parseEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if in.Password != nil {
		hash, err := hashSecret(*in.Password)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &hash
	}
	if in.Role != nil {
		r, ok := domain.ParseRole(*in.Role)
		if !ok {
			return nil, domain.Validation(domain.ReasonInvalidInput, "unknown role")
		}
		upd.Role = &r
	}
	upd.Phone = in.Phone
	upd.Company = in.Company
	upd.Active = in.Active
	return s.repo.Update(ctx, id, upd)
}

func (s *ClientService) Deactivate(ctx context.Context, id uint) (*domain.Client, error) {
	inactive := false
	return s.repo.Update(ctx, id, repository.ClientUpdate{Active: &inactive})
}

func (s *ClientService) Get(ctx context.Context, id uint) (*domain.Client, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *ClientService) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	return s.repo.FindByEmail(ctx, email)
}

func (s *ClientService) List(ctx context.Context, req repository.PageRequest) (repository.Page[domain.Client], error) {
	return s.repo.List(ctx, req)
}

func (s *ClientService) Counts(ctx context.Context) (repository.ClientCounts, error) {
	return s.repo.Counts(ctx)
}

// EnsureAdmin creates the bootstrap administrator when no client owns email yet.
// An existing account is left as is.
func (s *ClientService) EnsureAdmin(ctx context.Context, audit AuditSink, email, password string) (*domain.Client, bool, error) {
	existing, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrClientNotFound) {
		return nil, false, err
	}
	c, err := s.Create(ctx, CreateClientInput{
		Name:     "Administrator",
		Email:    email,
		Password: password,
		Role:     string(domain.RoleAdmin),
	})
	if errors.Is(err, domain.ErrEmailTaken) {
		existing, ferr := s.repo.FindByEmail(ctx, email)
		return existing, false, ferr
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := audit.Record(ctx, AuditRecord{
		Actor:      domain.ActorSystem,
		Action:     domain.ActionClientCreated,
		TargetType: domain.TargetClient,
		TargetID:   strconv.FormatUint(uint64(c.ID), 10),
		Reason:     "bootstrap",
	}); err != nil {
		return nil, false, err
	}
	s.logger.InfoContext(ctx, "bootstrap admin created", "client_id", c.ID)
	return c, true, nil
}

func parseEmail(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v || len(v) > 120 {
		return "", domain.Validation(domain.ReasonInvalidInput, "invalid email address")
	}
	return v, nil
}

func hashSecret(plain string) (string, error) {
	if len(plain) > 72 {
		return "", domain.Validation(domain.ReasonInvalidInput, "password must be at most 72 bytes")
	}
	hash, err := security.HashPassword(plain)
	if err != nil {
		return "", domain.Validation(domain.ReasonInvalidInput, err.Error())
	}
	return hash, nil
}
