package payment

import (
	"go.uber.org/fx"

	"github.com/nzrmohammad/panelbridge/internal/payment/repository"
	"github.com/nzrmohammad/panelbridge/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
