package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lychee-technology/duplex/internal/flagstore"
	"github.com/lychee-technology/duplex/internal/memstore"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresProbe(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	probe := PostgresProbe("primary-postgres", mock)
	require.NoError(t, runProbe(context.Background(), probe, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProbe_PingFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = runProbe(context.Background(), PostgresProbe("primary-postgres", mock), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres ping failed")
}

func TestS3Probe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer denied.Close()

	assert.NoError(t, runProbe(context.Background(), S3Probe(ok.URL), 0))

	err := runProbe(context.Background(), S3Probe(denied.URL), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth error")
}

func TestServiceHealth(t *testing.T) {
	svc, err := NewService(ServiceOptions{
		Config:  testConfig(),
		Primary: memstore.New(),
		Cache:   memstore.New(),
		Flags:   flagstore.NewMemoryStore(),
		Probes: []HealthProbe{
			{Name: "good", Check: func(context.Context) error { return nil }},
			{Name: "bad", Check: func(context.Context) error { return errors.New("unreachable") }},
		},
	})
	require.NoError(t, err)
	defer svc.Close()

	report := svc.Health(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, "ok", report.Checks["good"])
	assert.Equal(t, "unreachable", report.Checks["bad"])
	assert.True(t, report.Circuit.CacheEnabled)
}

func TestServiceHealth_NoProbes(t *testing.T) {
	sf := newTestService(t)
	defer sf.svc.Close()

	report := sf.svc.Health(context.Background())
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Checks)
}
