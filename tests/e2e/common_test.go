package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// buildTandemBinary builds the tandem binary in the specified directory and returns its path.
// It handles the build command execution and error checking.
func buildTandemBinary(t *testing.T, dir string) string {
	t.Helper()
	tandemBin := filepath.Join(dir, "tandem.exe")
	// Assumes tests are running from tests/e2e or similar depth.
	buildCmd := exec.Command("go", "build", "-o", tandemBin, "../../cmd/tandem")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build tandem: %v\n%s", err, string(out))
	}
	return tandemBin
}

// run executes a command and fails the test if it exits non-zero.
func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	fmt.Printf("[%s] Executing: %s %v\n", dir, name, args)
	if err := cmd.Run(); err != nil {
		t.Fatalf("Command %s %v failed in %s: %v", name, args, dir, err)
	}
}

// runOut executes a command and returns its combined output for assertions.
func runOut(t *testing.T, dir string, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	fmt.Printf("[%s] Executing: %s %v\n", dir, name, args)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Command %s %v failed in %s: %v\n%s", name, args, dir, err, string(out))
	}
	return string(out)
}

// mustContain asserts output includes the given substring.
func mustContain(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Errorf("Expected output to contain %q, got:\n%s", want, out)
	}
}
