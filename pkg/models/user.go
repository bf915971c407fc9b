package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal account record the core needs: identity for job
// ownership and for validating service-impersonation headers.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
