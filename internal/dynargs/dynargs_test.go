package dynargs

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseArgsParam(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"--verbose", []string{"--verbose"}},
		{"--mode,prod", []string{"--mode", "prod"}},
		{" --a , --b ", []string{"--a", "--b"}},
		{",,", nil},
		{"--a,,--b", []string{"--a", "--b"}},
	}
	for _, c := range cases {
		if got := ParseArgsParam(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("ParseArgsParam(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestWriteParams(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.WriteParams("/games", []string{"--level", "3"}); err != nil {
		t.Fatalf("WriteParams: %v", err)
	}
	data, err := os.ReadFile(store.ParamFile("/games"))
	if err != nil {
		t.Fatalf("reading param file: %v", err)
	}
	if string(data) != "--level\n3\n" {
		t.Errorf("unexpected file content: %q", data)
	}

	// Overwrite replaces the pending set entirely.
	if err := store.WriteParams("/games", nil); err != nil {
		t.Fatalf("WriteParams (empty): %v", err)
	}
	data, err = os.ReadFile(store.ParamFile("/games"))
	if err != nil {
		t.Fatalf("reading param file after overwrite: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty file, got %q", data)
	}
}

func TestParamFile_RouteNames(t *testing.T) {
	store := NewStore(t.TempDir())

	root := store.ParamFile("/")
	games := store.ParamFile("/games")
	nested := store.ParamFile("/a/b")

	if root == games || games == nested || root == nested {
		t.Error("param files for distinct routes must not collide")
	}
	for _, p := range []string{root, games, nested} {
		if strings.ContainsAny(p[strings.LastIndex(p, "ttymux_params"):], "/") {
			t.Errorf("param file name contains a path separator: %s", p)
		}
	}
}

func TestCreateWrapper(t *testing.T) {
	store := NewStore(t.TempDir())

	path, err := store.CreateWrapper("/games", []string{"python", "game.py", "--fast"})
	if err != nil {
		t.Fatalf("CreateWrapper: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat wrapper: %v", err)
	}
	if info.Mode()&0o100 == 0 {
		t.Error("wrapper is not executable")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading wrapper: %v", err)
	}
	script := string(data)
	if !strings.HasPrefix(script, "#!/bin/sh") {
		t.Error("wrapper missing shebang")
	}
	if !strings.Contains(script, store.ParamFile("/games")) {
		t.Error("wrapper does not reference the route's param file")
	}
	if !strings.Contains(script, "exec 'python' 'game.py' '--fast' $EXTRA_ARGS") {
		t.Errorf("wrapper exec line malformed:\n%s", script)
	}
}

func TestCreateWrapper_EmptyCommand(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.CreateWrapper("/games", nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.WriteParams("/old", []string{"--x"}); err != nil {
		t.Fatalf("WriteParams: %v", err)
	}
	if err := store.WriteParams("/fresh", []string{"--y"}); err != nil {
		t.Fatalf("WriteParams: %v", err)
	}

	past := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(store.ParamFile("/old"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	store.CleanupStale(5 * time.Minute)

	if _, err := os.Stat(store.ParamFile("/old")); !os.IsNotExist(err) {
		t.Error("stale param file was not removed")
	}
	if _, err := os.Stat(store.ParamFile("/fresh")); err != nil {
		t.Errorf("fresh param file was removed: %v", err)
	}
}
