package report

import (
	"go.uber.org/fx"

	"github.com/nzrmohammad/panelbridge/internal/report/service"
)

var Module = fx.Module("report.service",
	fx.Provide(service.New),
)
