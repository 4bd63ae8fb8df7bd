package warning

import (
	"go.uber.org/fx"

	"github.com/nzrmohammad/panelbridge/internal/warning/repository"
	"github.com/nzrmohammad/panelbridge/internal/warning/service"
)

var Module = fx.Module("warning.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
