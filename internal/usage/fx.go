package usage

import (
	"go.uber.org/fx"

	"github.com/nzrmohammad/panelbridge/internal/usage/repository"
	"github.com/nzrmohammad/panelbridge/internal/usage/service"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
