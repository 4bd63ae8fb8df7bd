package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/identitymap"
	paymentdomain "github.com/nzrmohammad/panelbridge/internal/payment/domain"
	reconciledomain "github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
	usagedomain "github.com/nzrmohammad/panelbridge/internal/usage/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config) *gin.Engine {
	return NewEngine(cfg)
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	accountSvc   accountdomain.Service
	reconcileSvc reconciledomain.Service
	usageSvc     usagedomain.Service
	paymentSvc   paymentdomain.Service
	idMap        *identitymap.Map
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	AccountSvc   accountdomain.Service
	ReconcileSvc reconciledomain.Service
	UsageSvc     usagedomain.Service
	PaymentSvc   paymentdomain.Service
	IDMap        *identitymap.Map
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("server"),
		accountSvc:   p.AccountSvc,
		reconcileSvc: p.ReconcileSvc,
		usageSvc:     p.UsageSvc,
		paymentSvc:   p.PaymentSvc,
		idMap:        p.IDMap,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.GET("/users", s.ListUsers)
	api.GET("/users/search", s.SearchUsers)
	api.GET("/users/:id", s.GetUser)
	api.GET("/users/:id/usage/daily", s.GetDailyUsage)
	api.GET("/users/:id/usage/windows", s.GetWindowedUsage)
	api.POST("/users/:id/modify", s.ModifyUser)
	api.POST("/users/:id/reset-usage", s.ResetUsage)
	api.DELETE("/users/:id", s.DeleteUser)

	api.GET("/accounts", s.ListAccounts)
	api.POST("/accounts", s.TouchAccount)
	api.GET("/accounts/:id", s.GetAccount)
	api.PUT("/accounts/:id/settings", s.UpdateAccountSettings)
	api.PUT("/accounts/:id/birthday", s.SetAccountBirthday)
	api.PUT("/accounts/:id/note", s.SetAccountNote)
	api.GET("/accounts/:id/identities", s.ListAccountIdentities)
	api.POST("/accounts/:id/identities", s.RegisterAccountIdentity)

	api.GET("/payments", s.LatestPayments)
	api.GET("/payments/:identity_id", s.PaymentHistory)
	api.POST("/payments", s.RecordPayment)

	api.POST("/identity-map/reload", s.ReloadIdentityMap)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
