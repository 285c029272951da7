package sqliteprefs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/prefs"
)

func TestPersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "prefs.db")
	p, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Load(ctx, "u1")
	assert.True(t, core.IsNotFound(err))

	want := prefs.Preferences{Role: core.RoleTeacher, FontScale: 1.25, ReduceMotion: true}
	require.NoError(t, p.Save(ctx, "u1", want))
	want.DyslexicFont = true
	require.NoError(t, p.Save(ctx, "u1", want))
	require.NoError(t, p.Close())

	// survives a restart
	p, err = Open(path)
	require.NoError(t, err)
	defer p.Close()
	got, err := p.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPersister_Store(t *testing.T) {
	p, err := Open(":memory:")
	require.NoError(t, err)
	defer p.Close()

	validate, translator := core.NewValidator()
	store := prefs.NewStore("u1", p, validate, translator)
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prefs.Defaults(), loaded)

	_, err = store.Update(context.Background(), prefs.Preferences{Role: core.RoleAdmin, FontScale: 2, HighContrast: true})
	require.NoError(t, err)

	again := prefs.NewStore("u1", p, validate, translator)
	loaded, err = again.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, loaded.Role)
	assert.True(t, loaded.HighContrast)
}
