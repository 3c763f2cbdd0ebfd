package session_test

import (
	"testing"

	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, ok := session.ParseRole("customer")
	assert.True(t, ok)
	assert.Equal(t, session.RoleCustomer, role)

	role, ok = session.ParseRole("  Provider ")
	assert.True(t, ok)
	assert.Equal(t, session.RoleProvider, role)

	_, ok = session.ParseRole("admin")
	assert.False(t, ok)

	_, ok = session.ParseRole("")
	assert.False(t, ok)
}

func TestProfileFieldsValidate(t *testing.T) {
	fields := session.ProfileFields{
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Phone: "+14155552671",
		Role:  session.RoleCustomer,
	}
	require.NoError(t, fields.Validate())
}

func TestProfileFieldsValidateRejectsBadInput(t *testing.T) {
	base := session.ProfileFields{
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Role:  session.RoleCustomer,
	}

	missing := base
	missing.Name = ""
	assert.Error(t, missing.Validate())

	badEmail := base
	badEmail.Email = "not-an-email"
	assert.Error(t, badEmail.Validate())

	badRole := base
	badRole.Role = "admin"
	assert.Error(t, badRole.Validate())

	badPhone := base
	badPhone.Phone = "555"
	assert.Error(t, badPhone.Validate())
}

func TestValidatePhoneNumber(t *testing.T) {
	assert.NoError(t, session.ValidatePhoneNumber(""))
	assert.NoError(t, session.ValidatePhoneNumber("+14155552671"))
	assert.NoError(t, session.ValidatePhoneNumber("(415) 555-2671"))
	assert.Error(t, session.ValidatePhoneNumber("123"))
	assert.Error(t, session.ValidatePhoneNumber("not a number"))
}

func TestUserProfileValidate(t *testing.T) {
	profile := testProfile()
	require.NoError(t, profile.Validate())

	profile.Role = "guest"
	assert.Error(t, profile.Validate())
}
