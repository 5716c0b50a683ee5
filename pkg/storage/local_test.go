package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "avatars", "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "avatars", "fox.png"), []byte("fox"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "avatars", "nested", "deep.png"), []byte("x"), 0644))

	st, err := New(context.Background(), Config{Local: LocalConfig{BasePath: dir, URLPrefix: "/static/"}})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("list is flat", func(t *testing.T) {
		objects, err := st.List(ctx, "/avatars/")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, "avatars/fox.png", objects[0].Key)
		assert.EqualValues(t, 3, objects[0].Size)
	})

	t.Run("missing dir", func(t *testing.T) {
		objects, err := st.List(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, objects)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := st.Exists(ctx, "avatars/fox.png")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.Exists(ctx, "avatars")
		require.NoError(t, err)
		assert.False(t, ok, "directories are not objects")

		ok, err = st.Exists(ctx, "../etc/passwd")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("url", func(t *testing.T) {
		url, err := st.URL(ctx, "avatars/fox.png", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "/static/avatars/fox.png", url)

		_, err = st.URL(ctx, "avatars/wolf.png", time.Hour)
		assert.True(t, errors.Is(err, ErrNotExist))
	})
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "ftp"})
	assert.Error(t, err)
}
