package models

import (
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleRider   UserRole = "rider"
	RolePartner UserRole = "partner"
	RoleAdmin   UserRole = "admin"
)

// Valid reports whether r is one of the three marketplace roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleRider, RolePartner, RoleAdmin:
		return true
	}
	return false
}

// User is an account known to the engine. Credentials live with the
// identity provider; only the role and push token are kept here.
type User struct {
	gorm.Model
	Username    string   `json:"username" gorm:"column:username;unique;not null"`
	Email       string   `json:"email" gorm:"column:email;unique;not null"`
	PhoneNumber string   `json:"phoneNumber" gorm:"column:phone_number"`
	Role        UserRole `json:"role" gorm:"column:role;not null;default:'rider'"`
	PartnerID   *uint    `json:"partnerId,omitempty" gorm:"column:partner_id;index"`
	FCMToken    string   `json:"-" gorm:"column:fcm_token"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}
