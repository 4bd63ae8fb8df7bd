package reconcile

import (
	"go.uber.org/fx"

	"github.com/nzrmohammad/panelbridge/internal/reconcile/service"
)

var Module = fx.Module("reconcile.service",
	fx.Provide(service.New),
)
