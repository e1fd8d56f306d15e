package dotenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	entries, err := Parse(strings.NewReader("" +
		"# comment\n" +
		"\n" +
		"PLAIN=value # trailing\n" +
		"QUOTED=\"hello # world\"\n" +
		"SINGLE='a b'\n" +
		"export EXPORTED=ok\n" +
		"NOEQUALS\n" +
		"=orphan\n" +
		"EMPTY=\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	want := []Entry{
		{"PLAIN", "value"},
		{"QUOTED", "hello # world"},
		{"SINGLE", "a b"},
		{"EXPORTED", "ok"},
		{"EMPTY", ""},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries=%+v, want %+v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry[%d]=%+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	tempDir := t.TempDir()
	envPath := filepath.Join(tempDir, ".env")
	content := "" +
		"OPENAI_API_KEY_TEST=sk-from-file\n" +
		"REALTIME_BROKER_ADDR_TEST=\":5001\"\n" +
		"EXISTING_TEST=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING_TEST", "already_set")
	t.Setenv("OPENAI_API_KEY_TEST", "")
	os.Unsetenv("OPENAI_API_KEY_TEST")
	t.Setenv("REALTIME_BROKER_ADDR_TEST", "")
	os.Unsetenv("REALTIME_BROKER_ADDR_TEST")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got := os.Getenv("OPENAI_API_KEY_TEST"); got != "sk-from-file" {
		t.Fatalf("OPENAI_API_KEY_TEST=%q", got)
	}
	if got := os.Getenv("REALTIME_BROKER_ADDR_TEST"); got != ":5001" {
		t.Fatalf("REALTIME_BROKER_ADDR_TEST=%q", got)
	}
	if got := os.Getenv("EXISTING_TEST"); got != "already_set" {
		t.Fatalf("EXISTING_TEST=%q, want existing value preserved", got)
	}
}

func TestLoadFiles_EarlierFileWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env.local")
	second := filepath.Join(dir, ".env")
	if err := os.WriteFile(first, []byte("DOTENV_ORDER_TEST=local\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("DOTENV_ORDER_TEST=shared\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOTENV_ORDER_TEST", "")
	os.Unsetenv("DOTENV_ORDER_TEST")

	if err := LoadFiles(first, "", second); err != nil {
		t.Fatalf("LoadFiles error: %v", err)
	}
	if got := os.Getenv("DOTENV_ORDER_TEST"); got != "local" {
		t.Fatalf("DOTENV_ORDER_TEST=%q, want local", got)
	}
}
