package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"meramandi/internal/market"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaultsWithMock(t *testing.T) {
	path := writeConfig(t, "prices:\n  use_mock: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Prices.RequestTimeout != 15*time.Second {
		t.Fatalf("默认超时应为 15s, 实际 %s", cfg.Prices.RequestTimeout)
	}
	if cfg.Prices.Retries != 2 || cfg.Prices.Backoff != time.Second {
		t.Fatalf("默认重试参数不正确: %d %s", cfg.Prices.Retries, cfg.Prices.Backoff)
	}
	if cfg.Scheduler.Interval != time.Hour {
		t.Fatalf("默认调度间隔应为 1h, 实际 %s", cfg.Scheduler.Interval)
	}
	if cfg.ModalPolicy() != market.ModalMean {
		t.Fatalf("默认 modal 策略应为 mean, 实际 %s", cfg.ModalPolicy())
	}
	if cfg.Auth.EmailOTPTTL != 10*time.Minute {
		t.Fatalf("默认邮箱验证码有效期应为 10m, 实际 %s", cfg.Auth.EmailOTPTTL)
	}
	if cfg.Matching.LocationWildcards {
		t.Fatal("默认不应开启地区通配")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "matching:\n  modal_policy: representative\n")
	t.Setenv("MERAMANDI_PRICES_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Prices.APIKey != "from-env" {
		t.Fatalf("环境变量应覆盖 api_key, 实际 %q", cfg.Prices.APIKey)
	}
	if cfg.ModalPolicy() != market.ModalRepresentative {
		t.Fatalf("应读取 representative 策略, 实际 %s", cfg.ModalPolicy())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing api key", "prices:\n  use_mock: false\n"},
		{"bad modal policy", "prices:\n  use_mock: true\nmatching:\n  modal_policy: median\n"},
		{"bad timezone", "prices:\n  use_mock: true\nnotifier:\n  timezone: Mars/Base\n"},
		{"twilio without creds", "prices:\n  use_mock: true\ntwilio:\n  enabled: true\n"},
		{"zero workers", "prices:\n  use_mock: true\nnotifier:\n  workers: 0\n"},
		{"zero otp ttl", "prices:\n  use_mock: true\nauth:\n  email_otp_ttl: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("应返回校验错误")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	if cfg.ResolveMaxPoints(0) != 50 || cfg.ResolveMaxPoints(10) != 10 {
		t.Fatal("ResolveMaxPoints 应优先使用覆盖值")
	}
}
