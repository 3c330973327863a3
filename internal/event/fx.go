package event

import (
	"github.com/smallbiznis/memberhub/internal/event/domain"
	"github.com/smallbiznis/memberhub/internal/event/repository"
	"github.com/smallbiznis/memberhub/internal/event/service"
	pkgrepository "github.com/smallbiznis/memberhub/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(pkgrepository.ProvideStore[domain.Price]),
	fx.Provide(service.New),
)
