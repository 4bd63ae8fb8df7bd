package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/payment/domain"
)

const historyLimit = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("payment"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) Record(ctx context.Context, identityID snowflake.ID, note *string) (*domain.Payment, error) {
	payment := &domain.Payment{
		ID:         s.genID.Generate(),
		IdentityID: identityID,
		Note:       note,
		PaidAt:     s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, err
	}
	s.log.Info("payment recorded",
		zap.Int64("identity_id", int64(identityID)),
		zap.Time("paid_at", payment.PaidAt))
	return payment, nil
}

func (s *service) LatestPerIdentity(ctx context.Context) (map[snowflake.ID]time.Time, error) {
	return s.repo.LatestPerIdentity(ctx, s.db)
}

func (s *service) History(ctx context.Context, identityID snowflake.ID) ([]domain.Payment, error) {
	return s.repo.History(ctx, s.db, identityID, historyLimit)
}
