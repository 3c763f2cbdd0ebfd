package session

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// Role is the marketplace account role.
type Role = string

const (
	// RoleCustomer requests services.
	RoleCustomer Role = "customer"
	// RoleProvider offers services.
	RoleProvider Role = "provider"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RoleCustomer:
		return RoleCustomer, true
	case RoleProvider:
		return RoleProvider, true
	default:
		return "", false
	}
}

// UserProfile is the backend-authoritative user record. It is cached
// locally for fast restoration and never mutated locally except through
// a successful profile-update round trip.
type UserProfile struct {
	ID    uuid.UUID `json:"id,omitempty"`
	Name  string    `json:"name,omitempty"`
	Email string    `json:"email,omitempty"`
	Phone string    `json:"phone,omitempty"`
	Role  Role      `json:"role,omitempty"`
}

// Validate checks the profile against the backend's field constraints.
func (p UserProfile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&p.Role, validation.Required, validation.In(RoleCustomer, RoleProvider)),
	)
}

// ProfileFields is the payload for registration and profile updates.
type ProfileFields struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`
}

// Validate checks registration fields before they are sent to the backend.
func (f ProfileFields) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&f.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&f.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&f.Role, validation.Required, validation.In(RoleCustomer, RoleProvider)),
	)
}

// DefaultPhoneRegion is the region used to parse phone numbers without an
// international prefix.
var DefaultPhoneRegion = "US"

// ValidatePhoneNumber is an ozzo rule accepting empty values and any
// number phonenumbers considers valid for DefaultPhoneRegion.
func ValidatePhoneNumber(value any) error {
	raw, _ := value.(string)
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return fmt.Errorf("must be a valid phone number")
	}

	if !phonenumbers.IsValidNumber(num) {
		return fmt.Errorf("must be a valid phone number")
	}

	return nil
}
