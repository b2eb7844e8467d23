package utils

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"github.com/ttacon/libphonenumber"
)

// ValidatePhoneNumber parses and validates a phone number in E.164 or national
// format. Empty input is allowed (phone is optional on user profiles).
func ValidatePhoneNumber(phone string, defaultRegion string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	num, err := libphonenumber.Parse(phone, defaultRegion)
	if err != nil {
		return errors.New("invalid phone number")
	}
	if !libphonenumber.IsValidNumber(num) {
		return errors.New("invalid phone number")
	}
	return nil
}

// ValidateUnique checks that no row of model T has column = value,
// excluding exceptId when non-zero.
func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId int) error {
	var model T
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	if exceptId != 0 {
		dbCtx = dbCtx.Where(column+" = ? AND NOT id = ?", value, exceptId)
	} else {
		dbCtx = dbCtx.Where(column+" = ?", value)
	}
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}
