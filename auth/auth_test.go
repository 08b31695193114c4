package auth

import (
	"context"
	"testing"
)

func TestNewCookieJar(t *testing.T) {
	cookies := map[string]string{
		"_session_id":         "abc123",
		"remember_user_token": "xyz789",
	}

	jar, err := NewCookieJar("feed.example", cookies)
	if err != nil {
		t.Fatalf("NewCookieJar failed: %v", err)
	}
	if jar == nil {
		t.Fatal("jar should not be nil")
	}
}

func TestNewCookieJarEmpty(t *testing.T) {
	jar, err := NewCookieJar("feed.example", map[string]string{})
	if err != nil {
		t.Fatalf("NewCookieJar failed: %v", err)
	}
	if jar == nil {
		t.Fatal("jar should not be nil even with empty cookies")
	}
}

func TestEnvSource(t *testing.T) {
	t.Setenv("MUZZLE_SESSION_ID", "test-session")

	cookies, err := EnvSource{}.Cookies(context.Background(), "feed.example")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	if cookies["_session_id"] != "test-session" {
		t.Errorf("cookies = %v, want _session_id=test-session", cookies)
	}
}

func TestEnvSourceEmpty(t *testing.T) {
	t.Setenv("MUZZLE_SESSION_ID", "")
	t.Setenv("MUZZLE_REMEMBER_TOKEN", "")

	cookies, err := EnvSource{}.Cookies(context.Background(), "feed.example")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	if cookies != nil {
		t.Errorf("cookies = %v, want nil", cookies)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]string{"_session_id": "v"})
	cookies, err := src.Cookies(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	cookies["_session_id"] = "mutated"

	again, _ := src.Cookies(context.Background(), "anything")
	if again["_session_id"] != "v" {
		t.Error("StaticSource must return a copy")
	}
}

func TestChainSources(t *testing.T) {
	empty := NewStaticSource(nil)
	full := NewStaticSource(map[string]string{"_session_id": "v"})

	cookies, err := ChainSources(context.Background(), "feed.example", empty, full)
	if err != nil {
		t.Fatalf("ChainSources failed: %v", err)
	}
	if cookies["_session_id"] != "v" {
		t.Errorf("cookies = %v", cookies)
	}
}
