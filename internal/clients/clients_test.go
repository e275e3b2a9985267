package clients

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNewRedisWithoutAddr(t *testing.T) {
	client, err := NewRedis(context.Background(), RedisOptions{})
	if err != nil || client != nil {
		t.Fatalf("expected nil client without address, got %v %v", client, err)
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestNewRedisIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := NewRedis(context.Background(), RedisOptions{Addr: addr, DialTimeout: 2 * time.Second})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	_ = client.Close()
}
