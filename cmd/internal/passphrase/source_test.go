package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestGetPrefersEnvironment(t *testing.T) {
	t.Setenv("CHANNELD_TEST_PASS", "hunter2")
	src := NewSource("CHANNELD_TEST_PASS", "node keystore")
	src.prompt = func() ([]byte, error) { return nil, errors.New("prompted") }

	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}
}

func TestGetRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("CHANNELD_TEST_PASS", "   ")
	src := NewSource("CHANNELD_TEST_PASS", "node keystore")
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestGetPromptsOnce(t *testing.T) {
	calls := 0
	src := NewSource("", "node keystore")
	src.prompt = func() ([]byte, error) {
		calls++
		return []byte("correct horse"), nil
	}
	for i := 0; i < 3; i++ {
		got, err := src.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "correct horse" {
			t.Fatalf("unexpected passphrase %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestGetRejectsBlankPrompt(t *testing.T) {
	src := NewSource("", "node keystore")
	src.prompt = func() ([]byte, error) { return []byte(" \t"), nil }
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "node keystore passphrase cannot be empty") {
		t.Fatalf("expected empty passphrase error, got %v", err)
	}
}

func TestGetWithoutTerminal(t *testing.T) {
	src := NewSource("CHANNELD_TEST_UNSET_PASS", "")
	src.prompt = nil
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "CHANNELD_TEST_UNSET_PASS") {
		t.Fatalf("expected hint naming the variable, got %v", err)
	}
}
