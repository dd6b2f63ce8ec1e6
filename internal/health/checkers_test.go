package health

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/bentman/JARVISv5/internal/circuitbreaker"
)

func TestRedisHealthChecker_HealthyPing(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	logger := zaptest.NewLogger(t)
	wrapper := circuitbreaker.NewRedisWrapper(client, logger, "health-test")
	checker := NewRedisHealthChecker(client, wrapper, logger)

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %v (%s)", result.Status, result.Message)
	}
	if checker.IsCritical() {
		t.Fatal("redis checker should be non-critical")
	}
}

func TestRedisHealthChecker_UnreachableIsUnhealthy(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	logger := zaptest.NewLogger(t)
	checker := NewRedisHealthChecker(client, nil, logger)

	result := checker.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %v", result.Status)
	}
}

func TestDatabaseHealthChecker_HealthyPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	logger := zaptest.NewLogger(t)
	checker := NewDatabaseHealthChecker("episodic", db, nil, logger)

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %v (%s)", result.Status, result.Message)
	}
	if result.Component != "episodic" {
		t.Fatalf("expected component episodic, got %s", result.Component)
	}
	if !checker.IsCritical() {
		t.Fatal("database checker should be critical")
	}
}

func TestDatabaseHealthChecker_PingErrorIsUnhealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)

	checker := NewDatabaseHealthChecker("episodic", db, nil, zaptest.NewLogger(t))

	result := checker.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %v", result.Status)
	}
}

func TestLLMServiceHealthChecker_AlwaysReportsHealthy(t *testing.T) {
	checker := NewLLMServiceHealthChecker("http://localhost:9000", zaptest.NewLogger(t))
	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %v", result.Status)
	}
	if checker.IsCritical() {
		t.Fatal("llm service checker should be non-critical")
	}
}
