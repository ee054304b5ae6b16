package credentials_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestSessionValid(t *testing.T) {
	id := &credentials.Identity{ID: "u1", DisplayName: "Ada", Role: "instructor"}

	require.True(t, credentials.Session{Identity: id, AccessToken: "a"}.Valid())
	require.False(t, credentials.Session{Identity: id}.Valid())
	require.False(t, credentials.Session{AccessToken: "a", RefreshToken: "r"}.Valid())
	require.False(t, credentials.Session{Identity: &credentials.Identity{}, AccessToken: "a"}.Valid())
	require.True(t, credentials.Session{}.IsEmpty())
	require.False(t, credentials.Session{RefreshToken: "r"}.IsEmpty())
}

func TestUpdateApply(t *testing.T) {
	start := credentials.Session{
		Identity:     &credentials.Identity{ID: "u1"},
		AccessToken:  "a1",
		RefreshToken: "r1",
	}

	t.Run("nil fields untouched", func(t *testing.T) {
		got := credentials.Update{AccessToken: utils.Ptr("a2")}.Apply(start)
		require.Equal(t, "a2", got.AccessToken)
		require.Equal(t, "r1", got.RefreshToken)
		require.Equal(t, "u1", got.Identity.ID)
	})

	t.Run("zero values clear", func(t *testing.T) {
		got := credentials.Update{
			AccessToken:  utils.Ptr(""),
			RefreshToken: utils.Ptr(""),
			Identity:     &credentials.Identity{},
		}.Apply(start)
		require.True(t, got.IsEmpty())
	})

	t.Run("identity is copied", func(t *testing.T) {
		id := &credentials.Identity{ID: "u2"}
		got := credentials.Update{Identity: id}.Apply(start)
		id.ID = "mutated"
		require.Equal(t, "u2", got.Identity.ID)
	})
}
