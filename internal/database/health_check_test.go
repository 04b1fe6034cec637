package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestHealthChecker_Basic(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	checker := NewHealthChecker(db, quietLogger())
	assert.False(t, checker.IsHealthy())

	require.NoError(t, checker.Check(context.Background()))
	assert.True(t, checker.IsHealthy())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_FailureAndRecovery(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := NewHealthChecker(db, quietLogger())
	ctx := context.Background()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, checker.Check(ctx))
	assert.False(t, checker.IsHealthy())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.Equal(t, "connection refused", result.Components["database"].LastError)

	mock.ExpectPing()
	assert.NoError(t, checker.Check(ctx))
	assert.True(t, checker.IsHealthy())
	assert.Empty(t, checker.GetHealthResult().Components["database"].LastError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_OptionalCheckDoesNotFailCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	rdb, rmock := redismock.NewClientMock()
	rmock.ExpectPing().SetErr(errors.New("redis down"))
	mock.ExpectPing()

	checker := NewHealthChecker(db, quietLogger())
	checker.AddCheck("redis", RedisPing(rdb))

	require.NoError(t, checker.Check(context.Background()))

	result := checker.GetHealthResult()
	assert.True(t, result.Healthy)
	assert.True(t, result.Components["database"].Healthy)
	assert.False(t, result.Components["redis"].Healthy)
	assert.Equal(t, "redis down", result.Components["redis"].LastError)
	assert.False(t, result.LastCheck.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestHealthChecker_BackgroundMonitoring(t *testing.T) {
	checker := NewHealthChecker(nil, quietLogger())
	checker.AddCheck("database", func(context.Context) error { return nil })
	checker.SetCheckInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	require.NoError(t, checker.WaitForHealthy(ctx, time.Second))
	checker.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health checker did not stop")
	}
}

func TestHealthChecker_WaitForHealthyTimeout(t *testing.T) {
	checker := NewHealthChecker(nil, quietLogger())
	checker.AddCheck("database", func(context.Context) error { return errors.New("down") })
	_ = checker.Check(context.Background())

	err := checker.WaitForHealthy(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
