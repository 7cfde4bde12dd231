package flightless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPURLChecker_Alive(t *testing.T) {
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				switch r.URL.Path {
				case "/kiwi.png":
					w.WriteHeader(http.StatusOK)
				case "/moved.png":
					w.WriteHeader(http.StatusFound)
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			},
		),
	)
	defer srv.Close()

	c := newHTTPURLChecker(&URLCheckConfig{Timeout: time.Second}, srv.Client())
	// redirects aren't followed, so only a direct 200 counts
	c.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	ctx := context.Background()

	alive, err := c.Alive(ctx, srv.URL+"/kiwi.png")
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = c.Alive(ctx, srv.URL+"/gone.png")
	require.NoError(t, err)
	assert.False(t, alive)

	alive, err = c.Alive(ctx, srv.URL+"/moved.png")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestHTTPURLChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/kiwi.png"
	client := srv.Client()
	srv.Close()

	c := newHTTPURLChecker(&URLCheckConfig{Timeout: time.Second}, client)
	alive, err := c.Alive(context.Background(), url)
	assert.Error(t, err)
	assert.False(t, alive)
}

func TestHTTPURLChecker_BadURL(t *testing.T) {
	c := newHTTPURLChecker(nil, nil)
	assert.Equal(t, DefaultURLCheckTimeout, c.timeout)
	assert.Same(t, http.DefaultClient, c.client)

	_, err := c.Alive(context.Background(), "http://[::1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error building request")
}
