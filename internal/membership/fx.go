package membership

import (
	"github.com/smallbiznis/memberhub/internal/cache"
	"github.com/smallbiznis/memberhub/internal/membership/domain"
	"github.com/smallbiznis/memberhub/internal/membership/repository"
	"github.com/smallbiznis/memberhub/internal/membership/service"
	pkgrepository "github.com/smallbiznis/memberhub/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(repository.Provide),
	fx.Provide(pkgrepository.ProvideStore[domain.Level]),
	fx.Provide(cache.NewMembershipLevelCache),
	fx.Provide(service.New),
)
