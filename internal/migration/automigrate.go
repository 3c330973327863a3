package migration

import (
	eventdomain "github.com/smallbiznis/memberhub/internal/event/domain"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	paymentdomain "github.com/smallbiznis/memberhub/internal/payment/domain"
	userdomain "github.com/smallbiznis/memberhub/internal/user/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&membershipdomain.Level{},
		&membershipdomain.Membership{},
		&eventdomain.Event{},
		&eventdomain.Price{},
		&eventdomain.Registration{},
		&eventdomain.Guest{},
		&orderdomain.OrderNumberSequence{},
		&orderdomain.Order{},
		&paymentdomain.Payment{},
		&paymentdomain.WebhookEventRecord{},
	}
}

// AutoMigrate creates the schema from the gorm models. The sqlite dialect
// uses it in place of the Postgres SQL files.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
