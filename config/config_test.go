package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "evald/internal/errors"
)

func TestNew_Defaults(t *testing.T) {
	c := New()
	if c.LocalPort != DefaultPort || c.Port != DefaultPort {
		t.Errorf("ports = %d/%d, want %d", c.LocalPort, c.Port, DefaultPort)
	}
	if c.InputTimeout != 5*time.Minute {
		t.Errorf("InputTimeout = %v, want 5m", c.InputTimeout)
	}
	if c.ExecTimeout != 0 {
		t.Errorf("ExecTimeout = %v, want unbounded", c.ExecTimeout)
	}
	if c.OneShotTimeout != 5*time.Second {
		t.Errorf("OneShotTimeout = %v, want 5s", c.OneShotTimeout)
	}
	if c.Path != "/ws" {
		t.Errorf("Path = %q", c.Path)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantAction string
		wantTunnel bool
		wantErr    bool
	}{
		{name: "nothing to derive"},
		{name: "code implies run", cfg: Config{Code: "1"}, wantAction: ActionRun},
		{name: "file implies run", cfg: Config{ScriptFile: "x.js"}, wantAction: ActionRun},
		{name: "explicit action kept", cfg: Config{Code: "1", Action: ActionCompile}, wantAction: ActionCompile},
		{name: "tunnel spec", cfg: Config{TunnelSpec: "deploy@gw:2222"}, wantTunnel: true},
		{name: "bad tunnel spec", cfg: Config{TunnelSpec: "gw"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cfg
			err := c.Resolve()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ce *apperrors.ConfigError
				if !errors.As(err, &ce) || ce.Field != "tunnel" {
					t.Errorf("err = %v, want a tunnel ConfigError", err)
				}
				return
			}
			if c.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", c.Action, tt.wantAction)
			}
			if c.TunnelEnabled != tt.wantTunnel {
				t.Errorf("TunnelEnabled = %v", c.TunnelEnabled)
			}
			if tt.wantTunnel && (c.TunnelUser != "deploy" || c.TunnelHost != "gw" || c.TunnelPort != 2222) {
				t.Errorf("tunnel = %s@%s:%d", c.TunnelUser, c.TunnelHost, c.TunnelPort)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	server := func(mod func(*Config)) Config {
		c := New()
		c.Listen = true
		mod(c)
		return *c
	}
	client := func(mod func(*Config)) Config {
		c := New()
		mod(c)
		return *c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantField string // "" = valid
	}{
		{"server defaults", server(func(*Config) {}), ""},
		{"server no port", server(func(c *Config) { c.LocalPort = 0 }), "port"},
		{"server through tunnel", server(func(c *Config) { c.TunnelEnabled = true }), "tunnel"},
		{"server with action", server(func(c *Config) { c.Action = ActionRun }), "action"},
		{"negative input timeout", server(func(c *Config) { c.InputTimeout = -time.Second }), "input-timeout"},
		{"negative exec timeout", server(func(c *Config) { c.ExecTimeout = -time.Second }), "exec-timeout"},
		{"zero input timeout is fine", server(func(c *Config) { c.InputTimeout = 0 }), ""},
		{"negative max output", server(func(c *Config) { c.MaxOutputBytes = -1 }), "max-output"},
		{"zero call depth", server(func(c *Config) { c.MaxCallDepth = 0 }), "max-call-depth"},

		{"interactive client", client(func(*Config) {}), ""},
		{"client no host", client(func(c *Config) { c.Host = "" }), "host"},
		{"client bad port", client(func(c *Config) { c.Port = 70000 }), "port"},
		{"run with code", client(func(c *Config) { c.Action, c.Code = ActionRun, "1" }), ""},
		{"run without code", client(func(c *Config) { c.Action = ActionRun }), "action"},
		{"code and file", client(func(c *Config) { c.Code, c.ScriptFile = "1", "x.js" }), "code"},
		{"test without tests", client(func(c *Config) { c.Action, c.Code = ActionTest, "1" }), "tests"},
		{"test with tests", client(func(c *Config) { c.Action, c.Code, c.TestsFile = ActionTest, "1", "t.js" }), ""},
		{"tests without action", client(func(c *Config) { c.TestsFile = "t.js" }), "tests"},
		{"unknown action", client(func(c *Config) { c.Action, c.Code = "eval", "1" }), "action"},
		{"retries forever", client(func(c *Config) { c.Retries = -1 }), ""},
		{"retries below -1", client(func(c *Config) { c.Retries = -2 }), "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *apperrors.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (%v)", ce.Field, tt.wantField, err)
			}
		})
	}
}

func TestValidate_HintsAreShown(t *testing.T) {
	c := New()
	c.Listen, c.LocalPort = true, 0
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "hint:") {
		t.Fatalf("err = %v, want a hint", err)
	}
}

func TestSourceAndTests(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "main.js")
	tests := filepath.Join(dir, "tests.js")
	os.WriteFile(script, []byte("print(1)"), 0o600) //nolint:errcheck
	os.WriteFile(tests, []byte("function testA() {}"), 0o600) //nolint:errcheck

	t.Run("inline code wins", func(t *testing.T) {
		c := &Config{Code: "2", ScriptFile: script}
		if src, _ := c.Source(); src != "2" {
			t.Errorf("Source = %q", src)
		}
	})
	t.Run("file", func(t *testing.T) {
		c := &Config{ScriptFile: script, TestsFile: tests}
		src, err := c.Source()
		if err != nil || src != "print(1)" {
			t.Errorf("Source = %q, %v", src, err)
		}
		tsrc, err := c.Tests()
		if err != nil || tsrc != "function testA() {}" {
			t.Errorf("Tests = %q, %v", tsrc, err)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		c := &Config{ScriptFile: filepath.Join(dir, "nope.js")}
		if _, err := c.Source(); err == nil {
			t.Error("expected an error")
		}
	})
	t.Run("no tests", func(t *testing.T) {
		if s, err := (&Config{}).Tests(); s != "" || err != nil {
			t.Errorf("Tests = %q, %v", s, err)
		}
	})
}

func TestInteractive(t *testing.T) {
	if !(&Config{}).Interactive() {
		t.Error("client without action should be interactive")
	}
	if (&Config{Action: ActionRun}).Interactive() {
		t.Error("client with an action is not interactive")
	}
	if (&Config{Listen: true}).Interactive() {
		t.Error("server is never interactive")
	}
}
