package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobsProbe(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.URL.Query().Get("head") == "0" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`["job_a"]`))
	}))
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		probe := jobsProbe(srv.Client(), srv.URL+"/", 10)
		require.NoError(t, probe(context.Background()))
		assert.Equal(t, "/jobs", gotPath)
		assert.Equal(t, "head=10", gotQuery)
	})

	t.Run("non-200 fails", func(t *testing.T) {
		probe := jobsProbe(srv.Client(), srv.URL, 0)
		err := probe(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("unreachable server fails", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		url := dead.URL
		dead.Close()

		probe := jobsProbe(http.DefaultClient, url, 10)
		assert.Error(t, probe(context.Background()))
	})
}
