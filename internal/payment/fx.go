package payment

import (
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/payment/adapters"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/admin"
	"github.com/smallbiznis/memberhub/internal/payment/adapters/stripe"
	"github.com/smallbiznis/memberhub/internal/payment/domain"
	"github.com/smallbiznis/memberhub/internal/payment/repository"
	"github.com/smallbiznis/memberhub/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			domain.ProviderConfig{
				StripeSecretKey:     cfg.Stripe.SecretKey,
				StripeWebhookSecret: cfg.Stripe.WebhookSecret,
				RequestTimeout:      cfg.Stripe.RequestTimeout,
			},
			stripe.NewFactory(),
			admin.NewFactory(),
		)
	}),
	fx.Provide(webhook.NewService),
)
