package event

import (
	"github.com/usagekit/tally/internal/event/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event.store",
	fx.Provide(repository.NewStore),
)
