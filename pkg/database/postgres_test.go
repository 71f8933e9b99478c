package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/darasa-api/pkg/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host: "db", Port: 5433, User: "darasa", Password: "p@ss word", Name: "classes", SSLMode: "require",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:5433", u.Host)
	assert.Equal(t, "/classes", u.Path)
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss word", password)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "darasa-api", u.Query().Get("application_name"))
}
