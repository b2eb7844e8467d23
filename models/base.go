package models

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"bitbucket.org/openscholar/ujmp_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
)

// IsDuplicateKeyErr reports whether err is a MySQL unique-constraint violation.
// Storage-level uniqueness is what closes duplicate-delivery races, so callers
// treat this error as "someone else already inserted this row".
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ActorFromContext resolves the acting user from the request context.
// A missing actor means the SYSTEM actor (webhooks, auto-transitions).
func ActorFromContext(ctx context.Context) (actorId *int, actorName string) {
	if id, ok := utils.GetUserIdFromContext(ctx); ok && id != 0 {
		name, _ := utils.GetUserNameFromContext(ctx)
		return &id, name
	}
	return nil, "SYSTEM"
}

func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
