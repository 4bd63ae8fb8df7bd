package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	guuid "github.com/google/uuid"
	"github.com/nzrmohammad/panelbridge/internal/account/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// TouchUser records or refreshes the Telegram user's profile fields.
func (s *Service) TouchUser(ctx context.Context, user domain.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	return s.repo.UpsertUser(ctx, s.db, &user)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.repo.FindUser(ctx, s.db, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListUsers(ctx, s.db)
}

// Settings returns the user's notification toggles; an unknown user gets
// everything enabled, matching the column defaults.
func (s *Service) Settings(ctx context.Context, id int64) (domain.Settings, error) {
	user, err := s.repo.FindUser(ctx, s.db, id)
	if err != nil {
		return domain.Settings{}, err
	}
	if user == nil {
		return domain.Settings{
			DailyReports:       true,
			ExpiryWarnings:     true,
			DataWarningHiddify: true,
			DataWarningMarzban: true,
		}, nil
	}
	return domain.Settings{
		DailyReports:       user.DailyReports,
		ExpiryWarnings:     user.ExpiryWarnings,
		DataWarningHiddify: user.DataWarningHiddify,
		DataWarningMarzban: user.DataWarningMarzban,
	}, nil
}

func (s *Service) UpdateSettings(ctx context.Context, id int64, settings domain.Settings) error {
	return s.repo.UpdateSettings(ctx, s.db, id, settings)
}

func (s *Service) SetBirthday(ctx context.Context, id int64, birthday *time.Time) error {
	return s.repo.SetBirthday(ctx, s.db, id, birthday)
}

func (s *Service) SetAdminNote(ctx context.Context, id int64, note *string) error {
	return s.repo.SetAdminNote(ctx, s.db, id, note)
}

func (s *Service) UsersWithBirthdayToday(ctx context.Context, now time.Time) ([]domain.User, error) {
	return s.repo.UsersWithBirthdayOn(ctx, s.db, now.Month(), now.Day())
}

// RegisterIdentity links a subscriber UUID to a Telegram user. A UUID parked
// by the same user is reactivated; one held by anyone else is rejected.
func (s *Service) RegisterIdentity(ctx context.Context, userID int64, uuid, name string) (*domain.Identity, error) {
	uuid = strings.ToLower(strings.TrimSpace(uuid))
	if _, err := guuid.Parse(uuid); err != nil {
		return nil, domain.ErrInvalidUUID
	}

	existing, err := s.repo.FindIdentityByUUID(ctx, s.db, uuid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, domain.ErrUUIDTaken
		}
		if existing.Active {
			return existing, nil
		}
		if err := s.repo.ReactivateIdentity(ctx, s.db, existing.ID, name); err != nil {
			return nil, err
		}
		existing.Active = true
		existing.Name = name
		return existing, nil
	}

	now := time.Now().UTC()
	identity := &domain.Identity{
		ID:        s.genID.Generate(),
		UserID:    userID,
		UUID:      uuid,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertIdentity(ctx, s.db, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *Service) IdentityByUUID(ctx context.Context, uuid string) (*domain.Identity, error) {
	return s.repo.FindIdentityByUUID(ctx, s.db, strings.ToLower(strings.TrimSpace(uuid)))
}

func (s *Service) IdentitiesForUser(ctx context.Context, userID int64) ([]domain.Identity, error) {
	return s.repo.IdentitiesForUser(ctx, s.db, userID)
}

func (s *Service) ActiveIdentities(ctx context.Context) ([]domain.Identity, error) {
	return s.repo.ActiveIdentities(ctx, s.db)
}

func (s *Service) DeactivateIdentity(ctx context.Context, id snowflake.ID) error {
	return s.repo.DeactivateIdentity(ctx, s.db, id)
}

func (s *Service) SetFirstConnected(ctx context.Context, id snowflake.ID, at time.Time) error {
	return s.repo.SetFirstConnected(ctx, s.db, id, at)
}

func (s *Service) MarkWelcomeSent(ctx context.Context, id snowflake.ID) error {
	return s.repo.MarkWelcomeSent(ctx, s.db, id)
}
