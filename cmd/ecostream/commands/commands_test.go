package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the root command with a fresh configuration.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	globalConfig = nil
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, ""), "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ecostream") {
		t.Fatalf("expected 'ecostream', got: %s", out)
	}
}

func TestDecide(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "--config", cfg, "decide", "-o", "text", "estou", "muito", "triste", "com", "o", "meu", "trabalho...")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"decision", "intensity", "tech block"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	out, err = execute(t, "--config", cfg, "decide", "-o", "json", "oi")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"intensity"`) {
		t.Errorf("expected JSON, got: %s", out)
	}

	if _, err := execute(t, "--config", cfg, "decide", "-o", "xml", "oi"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestModules(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "developer_prompt.txt"), []byte("Você é a Eco."), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, "modules:\n  dir: "+dir+"\n")

	out, err := execute(t, "--config", cfg, "modules", "-o", "text", "--prompt", "estou triste")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Você é a Eco.") {
		t.Errorf("prompt output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "modules", "-o", "json", "--prompt=false", "estou triste")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "developer_prompt.txt") || !strings.Contains(out, `"hash"`) {
		t.Errorf("json output = %s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "--config", path, "config", "init", "--force=false"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := execute(t, "--config", path, "config", "init", "--force=false"); err == nil {
		t.Error("second init should fail without --force")
	}

	shown := writeConfig(t, "provider:\n  api_key: sk-abcdef123456\n")
	out, err := execute(t, "--config", shown, "config", "show", "-o", "text")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "sk-abcdef123456") || !strings.Contains(out, "3456") {
		t.Errorf("api key not masked:\n%s", out)
	}
	if !strings.Contains(out, "# source: "+shown) {
		t.Errorf("missing source line:\n%s", out)
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"$OPENROUTER_API_KEY", "$OPENROUTER_API_KEY"},
		{"abc", "****"},
		{"sk-123456", "*****3456"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.in); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
