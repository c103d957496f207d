package report_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/report"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_FetchQuizReport(t *testing.T) {
	tests := map[string]struct {
		handler http.HandlerFunc
		assert  func(t *testing.T, err error)
	}{
		"decodes a report": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/game_reports/r1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(sampleReport))
			},
			assert: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		"missing report is not found": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			assert: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, errors.CodeNotFound))
				assert.True(t, report.IsUnavailable(err))
			},
		},
		"server error is unavailable": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			assert: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, errors.CodeUnavailable))
			},
		},
		"malformed body is data loss": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"participants": 1}`))
			},
			assert: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, errors.CodeDataLoss))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := newServer(t, tt.handler)
			c := report.NewClient(report.Config{BaseURL: srv.URL})

			_, err := c.FetchQuizReport(context.Background(), "r1")
			tt.assert(t, err)
		})
	}
}

func TestClient_FetchesOneAtATime(t *testing.T) {
	var inflight, peak int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte(sampleReport))
	})

	c := report.NewClient(report.Config{BaseURL: srv.URL, SettleDelay: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchQuizReport(context.Background(), "r1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

func TestClient_CanceledWhileSettling(t *testing.T) {
	var calls int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	c := report.NewClient(report.Config{BaseURL: srv.URL, SettleDelay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FetchQuizReport(ctx, "r1")
	assert.True(t, errors.Is(err, errors.CodeUnavailable))
	assert.Zero(t, atomic.LoadInt32(&calls))
}
