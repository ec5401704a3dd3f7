package user

import "time"

// Role determines what a user may do with reports
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleAuthority Role = "authority"
)

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
