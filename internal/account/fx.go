package account

import (
	"github.com/nzrmohammad/panelbridge/internal/account/repository"
	"github.com/nzrmohammad/panelbridge/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
