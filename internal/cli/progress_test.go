package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProgressCommandPrintsChain(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quizzes/course/3/list-cached" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, `{"quizzes":[{"id":2,"title":"Loops"},{"id":1,"title":"Basics"}],"passedQuizIds":[1]}`)
	}))
	defer backend.Close()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("backend:\n  base_url: \""+backend.URL+"\"\nlog:\n  level: error\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	path := configFile
	cmd := NewProgressCmd(&path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--course", "3", "--user", "7"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "Basics") || !strings.Contains(lines[1], "COMPLETED") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if !strings.Contains(lines[2], "Loops") || !strings.Contains(lines[2], "AVAILABLE") {
		t.Fatalf("unexpected second row %q", lines[2])
	}
}
