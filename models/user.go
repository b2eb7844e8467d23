package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/utils"
	"gorm.io/gorm"
)

// User is the local record of the identity collaborator's actor. The core
// trusts the role supplied at authentication time and does not re-verify.
type User struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Email       string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Password    string    `gorm:"size:255;not null" json:"-"`
	Role        Role      `gorm:"size:20;not null" json:"role"`
	Phone       string    `gorm:"size:50" json:"phone"`
	Affiliation string    `gorm:"size:255" json:"affiliation"`
	IsActive    bool      `gorm:"not null;default:1" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Email       string `json:"email" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Role        Role   `json:"role" binding:"required"`
	Phone       string `json:"phone"`
	Affiliation string `json:"affiliation"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	switch input.Role {
	case RoleAuthor, RoleReviewer, RoleAdmin:
	default:
		return nil, errors.New("invalid role")
	}

	if err := utils.ValidatePhoneNumber(input.Phone, ""); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[User](ctx, "email", input.Email, 0); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		Email:       input.Email,
		Name:        input.Name,
		Password:    string(hashed),
		Role:        input.Role,
		Phone:       input.Phone,
		Affiliation: input.Affiliation,
		IsActive:    true,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("email = ? AND is_active = 1", email).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

func GetUserById(ctx context.Context, id int) (*User, error) {
	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}
