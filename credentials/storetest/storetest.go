// Package storetest is a conformance suite for credentials.Store
// implementations.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a store. Calling it twice with the same namespace must return
// stores over the same underlying data when durable is true.
type Factory func(t *testing.T, namespace string) credentials.Store

// Run exercises the credentials.Store contract.
func Run(t *testing.T, open Factory, durable bool) {
	t.Helper()
	ctx := context.Background()

	fullSession := credentials.Update{
		AccessToken:  utils.Ptr("access-1"),
		RefreshToken: utils.Ptr("refresh-1"),
		Identity:     &credentials.Identity{ID: "u-1", DisplayName: "Ada Lovelace", Role: "instructor", OrgUnit: "maths"},
	}

	t.Run("load empty", func(t *testing.T) {
		s := open(t, "empty")
		require.True(t, s.Load(ctx).IsEmpty())
	})

	t.Run("save and load", func(t *testing.T) {
		s := open(t, "save")
		require.NoError(t, s.Save(ctx, fullSession))

		got := s.Load(ctx)
		require.True(t, got.Valid())
		require.Equal(t, "access-1", got.AccessToken)
		require.Equal(t, "refresh-1", got.RefreshToken)
		require.Equal(t, credentials.Identity{ID: "u-1", DisplayName: "Ada Lovelace", Role: "instructor", OrgUnit: "maths"}, *got.Identity)
	})

	t.Run("partial update keeps other fields", func(t *testing.T) {
		s := open(t, "partial")
		require.NoError(t, s.Save(ctx, fullSession))
		require.NoError(t, s.Save(ctx, credentials.Update{AccessToken: utils.Ptr("access-2")}))

		got := s.Load(ctx)
		require.Equal(t, "access-2", got.AccessToken)
		require.Equal(t, "refresh-1", got.RefreshToken)
		require.Equal(t, "u-1", got.Identity.ID)
	})

	t.Run("explicit empty clears field", func(t *testing.T) {
		s := open(t, "clear-field")
		require.NoError(t, s.Save(ctx, fullSession))
		require.NoError(t, s.Save(ctx, credentials.Update{RefreshToken: utils.Ptr("")}))

		got := s.Load(ctx)
		require.Equal(t, "", got.RefreshToken)
		require.Equal(t, "access-1", got.AccessToken)
	})

	t.Run("clear removes everything", func(t *testing.T) {
		s := open(t, "clear")
		require.NoError(t, s.Save(ctx, fullSession))
		require.NoError(t, s.Clear(ctx))
		require.True(t, s.Load(ctx).IsEmpty())

		// idempotent
		require.NoError(t, s.Clear(ctx))
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		a := open(t, "ns-a")
		b := open(t, "ns-b")
		require.NoError(t, a.Save(ctx, fullSession))
		require.True(t, b.Load(ctx).IsEmpty())
		require.NoError(t, b.Clear(ctx))
		require.True(t, a.Load(ctx).Valid())
	})

	t.Run("concurrent saves", func(t *testing.T) {
		s := open(t, "concurrent")
		require.NoError(t, s.Save(ctx, fullSession))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Save(ctx, credentials.Update{AccessToken: utils.Ptr("access-n")}))
			}()
		}
		wg.Wait()

		got := s.Load(ctx)
		require.Equal(t, "access-n", got.AccessToken)
		require.Equal(t, "refresh-1", got.RefreshToken)
	})

	if !durable {
		return
	}

	t.Run("survives reopen", func(t *testing.T) {
		first := open(t, "durable")
		require.NoError(t, first.Save(ctx, fullSession))
		require.NoError(t, first.Close())

		second := open(t, "durable")
		got := second.Load(ctx)
		require.True(t, got.Valid())
		require.Equal(t, "refresh-1", got.RefreshToken)

		require.NoError(t, second.Clear(ctx))
		require.NoError(t, second.Close())

		third := open(t, "durable")
		require.True(t, third.Load(ctx).IsEmpty())
	})
}
