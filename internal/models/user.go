package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the platform role a user holds. Staff, managers and admins may
// enter any consultation thread; customers and consultants only their own.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleConsultant Role = "consultant"
	RoleStaff      Role = "staff"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
)

// Privileged reports whether the role overrides per-thread ownership checks.
func (r Role) Privileged() bool {
	return r == RoleStaff || r == RoleManager || r == RoleAdmin
}

// User represents a platform account. Only the fields the chat subsystem
// needs are modelled here; profile data lives with the user domain.
type User struct {
	ID     string `gorm:"primaryKey" json:"id"`
	Role   Role   `gorm:"type:text;not null;default:'customer'" json:"role"`
	Active bool   `gorm:"not null;default:true" json:"active"`
}

// BeforeCreate generates a UUID when the ID is not set.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
