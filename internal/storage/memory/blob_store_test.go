package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "run/page.pdf", "application/pdf", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://run/page.pdf", uri)

	payload[0] = 'C'
	stored, ok := store.Object("run/page.pdf")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "application/pdf", store.ContentType("run/page.pdf"))
}

func TestBlobStoreCreateCommitsOnClose(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	w, err := store.Create(context.Background(), "results.csv", "text/csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("a,b,c\n"))
	require.NoError(t, err)

	_, ok := store.Object("results.csv")
	require.False(t, ok)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	got, ok := store.Object("results.csv")
	require.True(t, ok)
	require.Equal(t, "a,b,c\n", string(got))
	require.Equal(t, "memory://results.csv", w.URI())
	require.Equal(t, 1, store.Len())

	_, err = w.Write([]byte("late"))
	require.Error(t, err)
}

func TestBlobStoreCreateRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().Create(context.Background(), "", "text/csv")
	require.Error(t, err)
}
