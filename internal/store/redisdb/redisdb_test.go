package redisdb

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/logship/internal/store/storetest"
)

// startRedisContainer starts a Redis container and returns its URL. It
// skips the test if Docker is unavailable.
func startRedisContainer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	url := startRedisContainer(t)

	db, err := New(url, "conformance")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	storetest.Run(t, db)

	a, err := New(url, "a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := New(url, "b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	storetest.RunIsolation(t, a, b)
}

func TestParseFieldsSortsNumerically(t *testing.T) {
	got := parseFields([]string{"10", "2", "x", "-1", "0"})
	if !slices.Equal(got, []int{0, 2, 10}) {
		t.Fatalf("unexpected: %v", got)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("http://nope", "ns"); err == nil {
		t.Fatalf("expected error for non-redis url")
	}
}
