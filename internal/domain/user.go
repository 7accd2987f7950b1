package domain

import "time"

// User is a member of the reviewer directory.
type User struct {
	Name      string    `json:"name" yaml:"name"`
	Role      string    `json:"role" yaml:"role"`
	Level     int       `json:"level" yaml:"level"`
	Email     string    `json:"email,omitempty" yaml:"email"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
}
