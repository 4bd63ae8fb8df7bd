package panel

import (
	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/identitymap"
	"github.com/nzrmohammad/panelbridge/internal/panel/domain"
	"github.com/nzrmohammad/panelbridge/internal/panel/hiddify"
	"github.com/nzrmohammad/panelbridge/internal/panel/marzban"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Clients bundles the two panel clients for consumers that need both.
type Clients struct {
	Hiddify domain.Client
	Marzban domain.Client
}

var Module = fx.Module("panel",
	fx.Provide(NewClients),
)

func NewClients(cfg config.Config, ids *identitymap.Map, clk clock.Clock, log *zap.Logger) Clients {
	return Clients{
		Hiddify: WithListingCache(hiddify.New(cfg.Hiddify, clk, log), cfg.ListingCacheTTL),
		Marzban: WithListingCache(marzban.New(cfg.Marzban, ids, clk, log), cfg.ListingCacheTTL),
	}
}
