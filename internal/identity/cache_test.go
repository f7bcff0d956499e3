package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), "redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewRedisCache(t *testing.T) {
	cache, _ := setupTestRedis(t)

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), "not a url", time.Minute); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestSetAndGetNickname(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.SetNickname(ctx, 42, "ada"); err != nil {
		t.Fatalf("SetNickname failed: %v", err)
	}

	nickname, ok, err := cache.GetNickname(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("GetNickname = %q, %v, %v", nickname, ok, err)
	}
	if nickname != "ada" {
		t.Errorf("expected nickname ada, got %s", nickname)
	}
	if !s.Exists("nickname:42") {
		t.Error("expected key nickname:42 in redis")
	}
}

func TestNicknameExpires(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.SetNickname(ctx, 7, "grace"); err != nil {
		t.Fatalf("SetNickname failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	_, ok, err := cache.GetNickname(ctx, 7)
	if err != nil {
		t.Fatalf("GetNickname failed: %v", err)
	}
	if ok {
		t.Fatal("expected expired nickname to be a miss")
	}
}

func TestGetNicknameMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, ok, err := cache.GetNickname(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetNickname failed: %v", err)
	}
	if ok {
		t.Fatal("expected miss for unknown user")
	}
}
