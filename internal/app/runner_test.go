package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ggonzalez94/route-engine/internal/version"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	runner := NewRunnerWithWriters(&stdout, &stderr)
	code := runner.Run(args)
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(stdout) != version.Version {
		t.Fatalf("unexpected version output %q", stdout)
	}
}

func TestVersionLongCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version", "--long")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "commit:") {
		t.Fatalf("expected build metadata, got %q", stdout)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	code, _, stderr := runCLI(t, "definitely-not-a-command")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stderr == "" {
		t.Fatal("expected error output")
	}
}

func TestSwapRequiresAmount(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	code, _, stderr := runCLI(t, "swap",
		"--from-chain", "1", "--to-chain", "8453",
		"--from-token", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"--to-token", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "--amount is required") {
		t.Fatalf("unexpected error output %q", stderr)
	}
}
