package providers

import (
	"github.com/smallbiznis/memberhub/internal/providers/email"
	"github.com/smallbiznis/memberhub/internal/providers/pdf"
	"github.com/smallbiznis/memberhub/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	slack.Module,
)
