package aggregate

import (
	"github.com/usagekit/tally/internal/aggregate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("aggregate.service",
	fx.Provide(service.NewService),
)
