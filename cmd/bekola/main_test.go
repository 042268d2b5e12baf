package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexston/bekola-backend/internal/app"
	"github.com/nexston/bekola-backend/internal/services"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	want := []string{"serve", "worker", "sweep-certificates", "pending-certificates", "transcode"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

func TestLoadEnvReadsDotenvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BEKOLA_TEST_A=from-file\nBEKOLA_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BEKOLA_TEST_A", "")
	os.Unsetenv("BEKOLA_TEST_A")
	t.Setenv("BEKOLA_TEST_B", "from-env")
	t.Setenv("CONFIG_FILE", "")

	if err := loadEnv(path, "bekola.yaml"); err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	if got := os.Getenv("BEKOLA_TEST_A"); got != "from-file" {
		t.Fatalf("A: got %q", got)
	}
	if got := os.Getenv("BEKOLA_TEST_B"); got != "from-env" {
		t.Fatalf("B: got %q", got)
	}
	if got := os.Getenv("CONFIG_FILE"); got != "bekola.yaml" {
		t.Fatalf("CONFIG_FILE: got %q", got)
	}
	if err := loadEnv(filepath.Join(dir, "missing.env"), ""); err != nil {
		t.Fatalf("missing dotenv should be ignored: %v", err)
	}
}

func TestTranscodeRejectsBadVideoID(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--env-file", "", "transcode", "not-a-uuid"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid video id") {
		t.Fatalf("want invalid video id error, got %v", err)
	}
}

func TestWithAppSurfacesBuildErrors(t *testing.T) {
	boom := errors.New("database unreachable")
	ctx := &commandContext{newApp: func(context.Context) (*app.App, error) { return nil, boom }}
	err := ctx.withApp(context.Background(), func(context.Context, *app.App) error {
		t.Fatalf("fn should not run when the app fails to build")
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestRenderPending(t *testing.T) {
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	later := now.Add(72 * time.Hour)
	pending := []*services.PendingCertificate{
		{RequestID: uuid.New(), ReferenceNo: "NEX/INT/2025/01", Email: "ada@example.com", CourseTitle: "Go Internship", RequestedAt: now, EligibleAt: &due},
		{RequestID: uuid.New(), ReferenceNo: "NEX/INT/2025/02", Email: "alan@example.com", CourseTitle: "Go Internship", RequestedAt: now, EligibleAt: &later},
		{RequestID: uuid.New(), ReferenceNo: "NEX/INT/2025/03", Email: "grace@example.com", CourseTitle: "Go Internship", RequestedAt: now},
	}
	got := renderPending(tableStyle(&strings.Builder{}), pending, now)
	for _, want := range []string{"Reference", "NEX/INT/2025/01", "NEX/INT/2025/02", "2025-01-23 (3 days from now)", "no payment date", "now"} {
		if !strings.Contains(got, want) {
			t.Fatalf("table missing %q:\n%s", want, got)
		}
	}
}
