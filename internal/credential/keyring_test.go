package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/core"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(keyring.NewArrayKeyring(nil))
}

func TestStore_TokenLifecycle(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Token()
	require.ErrorIs(t, err, core.ErrNoCredentials)

	require.NoError(t, s.SetToken("tok-1"))
	got, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)

	require.NoError(t, s.DeleteToken())
	_, err = s.Token()
	assert.ErrorIs(t, err, core.ErrNoCredentials)

	assert.NoError(t, s.DeleteToken(), "deleting twice is fine")
}

func TestStore_Resolve(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.SetToken("saved"))

	tests := []struct {
		name     string
		explicit string
		want     string
	}{
		{"explicit wins", "from-env", "from-env"},
		{"falls back to keyring", "", "saved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Resolve(tt.explicit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
