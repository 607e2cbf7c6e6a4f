package domain

import "time"

// UserRole classifies account permissions carried in tokens.
type UserRole string

const (
	RoleMember UserRole = "MEMBER"
	RoleAdmin  UserRole = "ADMIN"
)

// UserStatus represents account lifecycle state.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusBanned UserStatus = "BANNED"
)

// User represents a registered account.
type User struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	Role      UserRole
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
