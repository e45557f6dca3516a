package estimator

import (
	"github.com/usagekit/tally/internal/estimator/service"
	"go.uber.org/fx"
)

var Module = fx.Module("estimator.service",
	fx.Provide(service.NewService),
)
