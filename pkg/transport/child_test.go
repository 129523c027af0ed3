package transport

import (
	"bufio"
	"errors"
	"runtime"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on unix shell utilities")
	}
}

func TestSpawn_EchoRoundTrip(t *testing.T) {
	skipOnWindows(t)

	child, err := Spawn("cat", nil, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer child.Close()

	if child.ID == "" {
		t.Error("child should have a transport id")
	}
	if child.Pid() == 0 {
		t.Error("child should have a pid")
	}

	if err := child.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(child.Stdout()).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "hello\n" {
		t.Errorf("got %q", line)
	}
}

func TestSpawn_CommandNotFound(t *testing.T) {
	_, err := Spawn("definitely-not-a-real-command-xyz", nil, nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Errorf("error type = %T, want *SpawnError", err)
	}
}

func TestSpawn_EnvPassthrough(t *testing.T) {
	skipOnWindows(t)

	child, err := Spawn("sh", []string{"-c", "printf '%s\\n' \"$MCPTAP_TEST_VAR\""}, map[string]string{
		"MCPTAP_TEST_VAR": "wired",
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer child.Close()

	line, err := bufio.NewReader(child.Stdout()).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "wired\n" {
		t.Errorf("env not passed through, got %q", line)
	}
}

func TestChild_StderrIsSeparate(t *testing.T) {
	skipOnWindows(t)

	child, err := Spawn("sh", []string{"-c", "echo diag >&2; echo data"}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer child.Close()

	out, err := bufio.NewReader(child.Stdout()).ReadString('\n')
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if out != "data\n" {
		t.Errorf("stdout = %q", out)
	}

	diag, err := bufio.NewReader(child.Stderr()).ReadString('\n')
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if diag != "diag\n" {
		t.Errorf("stderr = %q", diag)
	}
}

func TestChild_WriteAfterClose(t *testing.T) {
	skipOnWindows(t)

	child, err := Spawn("cat", nil, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := child.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err = child.Write([]byte("too late\n"))
	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Errorf("error = %v (%T), want *WriteError", err, err)
	}
}

func TestChild_CloseIdempotent(t *testing.T) {
	skipOnWindows(t)

	child, err := Spawn("cat", nil, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	first := child.Close()
	second := child.Close()
	if first != second {
		t.Errorf("repeated Close returned different results: %v vs %v", first, second)
	}
}

func TestChild_CloseReapsExitedProcess(t *testing.T) {
	skipOnWindows(t)

	child, err := Spawn("sh", []string{"-c", "exit 0"}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	// Give the child a moment to exit on its own, then verify Close still
	// completes promptly.
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- child.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung on an already-exited child")
	}
}
