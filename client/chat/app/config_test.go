package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(configEnvKey, "")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ReconnectBase != 500*time.Millisecond || cfg.ReconnectMax != 30*time.Second {
		t.Errorf("backoff = %s/%s", cfg.ReconnectBase, cfg.ReconnectMax)
	}
	if cfg.ReconnectMaxAttempts != 50 || !cfg.AutoReconnect {
		t.Errorf("attempts = %d auto = %v", cfg.ReconnectMaxAttempts, cfg.AutoReconnect)
	}
	if cfg.QueueCapacity != 200 || cfg.RateCapacity != 20 || cfg.RateInterval != time.Second {
		t.Errorf("queue/rate = %d/%d/%s", cfg.QueueCapacity, cfg.RateCapacity, cfg.RateInterval)
	}
	if cfg.LiveMessageCap != 100 || cfg.BulkMessageCap != 500 {
		t.Errorf("caps = %d/%d", cfg.LiveMessageCap, cfg.BulkMessageCap)
	}
	if cfg.bridgeAddr() != "127.0.0.1:7070" {
		t.Errorf("bridge = %s", cfg.bridgeAddr())
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatclient.yaml")
	body := `
socket_url: wss://chat.example.com/ws
api_endpoints:
  - https://a.example.com
  - https://b.example.com
  - https://a.example.com
reconnect_base: 250ms
rate_capacity: 5
redis_addr: localhost:6380
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RATE_CAPACITY", "7")
	t.Setenv("RECONNECT_MAX_MS", "10000")
	t.Setenv("AUTO_RECONNECT", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SocketURL != "wss://chat.example.com/ws" {
		t.Errorf("socket = %s", cfg.SocketURL)
	}
	if want := []string{"https://a.example.com", "https://b.example.com"}; !reflect.DeepEqual(cfg.APIEndpoints, want) {
		t.Errorf("endpoints = %v", cfg.APIEndpoints)
	}
	if cfg.ReconnectBase != 250*time.Millisecond {
		t.Errorf("base = %s", cfg.ReconnectBase)
	}
	if cfg.ReconnectMax != 10*time.Second {
		t.Errorf("max = %s", cfg.ReconnectMax)
	}
	if cfg.RateCapacity != 7 {
		t.Errorf("rate capacity = %d, env should win", cfg.RateCapacity)
	}
	if cfg.AutoReconnect {
		t.Error("auto reconnect should be off")
	}
	if cfg.RedisAddr != "localhost:6380" {
		t.Errorf("redis = %s", cfg.RedisAddr)
	}

	rc := cfg.reconnectConfig()
	if rc.Session.URL != cfg.SocketURL || rc.AutoReconnect || rc.BaseDelay != 250*time.Millisecond {
		t.Errorf("reconnect config = %+v", rc)
	}
}

func TestLoadConfig_FromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("bridge_port: \"9999\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(configEnvKey, path)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BridgePort != "9999" {
		t.Errorf("port = %s", cfg.BridgePort)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("queue_capacity: [1, 2"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed yaml should fail")
	}
}
