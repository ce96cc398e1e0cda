package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PUBLIC_BASE_URL", "https://climb.example.org/app")
	t.Setenv("SERVER_ADDR", "")
	t.Setenv("DATA_PATH", "")
	t.Setenv("ADMIN_USER_IDS", " admin-1, ,admin-2,")
	t.Setenv("TOKEN_TTL", "")
	t.Setenv("SIGNUP_DEDUPE", "")
	t.Setenv("CLUB_TZ", "")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "./data", cfg.DataPath)
	assert.Equal(t, "data/databases", cfg.DbPath)
	assert.Equal(t, []string{"admin-1", "admin-2"}, cfg.AdminUserIDs)
	assert.Equal(t, 365*24*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.SignupDedupe)
	assert.Equal(t, "https://climb.example.org", cfg.OriginURL())
	assert.Equal(t, time.Local, cfg.DateLocation())
}

func TestNew_ClubTimeZone(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PUBLIC_BASE_URL", "https://climb.example.org")
	t.Setenv("CLUB_TZ", "UTC")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, cfg.DateLocation())

	t.Setenv("CLUB_TZ", "Not/AZone")
	_, err = New()
	assert.Error(t, err)
}

func TestNew_RequiresSecretAndBaseURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PUBLIC_BASE_URL", "https://climb.example.org")
	_, err := New()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PUBLIC_BASE_URL", "")
	_, err = New()
	assert.Error(t, err)

	t.Setenv("PUBLIC_BASE_URL", "not a url")
	_, err = New()
	assert.Error(t, err)
}

func TestParseAdminIDs_Empty(t *testing.T) {
	assert.Empty(t, ParseAdminIDs(""))
	assert.Empty(t, ParseAdminIDs(" , ,"))
}
