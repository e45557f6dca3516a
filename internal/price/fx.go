package price

import (
	"github.com/usagekit/tally/internal/price/service"
	"go.uber.org/fx"
)

var Module = fx.Module("price.service",
	fx.Provide(service.NewService),
)
