package httpfetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layerfs/avfs/internal/remote/httpfetch"
)

func TestListParsesDirectoryIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="../">../</a><a href="sub/">sub/</a><a href="file.txt">file.txt</a></body></html>`))
	}))
	defer srv.Close()

	tr, err := httpfetch.New(httpfetch.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	defer tr.Close()

	entries, err := tr.List(context.Background(), "/")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "sub")
	assert.Contains(t, names, "file.txt")
	assert.NotContains(t, names, "..")
}

func TestGetHonorsRangeHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=4-", r.Header.Get("Range"))
		w.Write([]byte("partial"))
	}))
	defer srv.Close()

	tr, err := httpfetch.New(httpfetch.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	defer tr.Close()

	body, err := tr.Get(context.Background(), "/file.txt", 4)
	require.NoError(t, err)
	defer body.Close()
}
