package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	tests := []struct {
		dsn      string
		expected string
	}{
		{"postgres://u:p@localhost:5432/db", "pgx5://u:p@localhost:5432/db"},
		{"postgresql://u:p@db/deadlines?sslmode=disable", "pgx5://u:p@db/deadlines?sslmode=disable"},
		{"pgx5://u:p@db/deadlines", "pgx5://u:p@db/deadlines"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, driverURL(tt.dsn))
	}
}

func TestEmbeddedFilesArePaired(t *testing.T) {
	ups, err := fs.Glob(files, "sql/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(files, "sql/*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
