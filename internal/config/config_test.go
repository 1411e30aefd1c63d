package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes content as a config file in a fresh temp dir and
// returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte("alpha\nbeta\n"), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	corpusPath := writeCorpus(t)
	path := writeConfig(t, `
# server settings
linuxpath=`+corpusPath+`
REREAD_ON_QUERY=False
USE_SSL=true
PORT=44445
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CorpusPath != corpusPath {
		t.Errorf("CorpusPath: expected %q, got %q", corpusPath, cfg.CorpusPath)
	}
	if cfg.RereadOnQuery {
		t.Error("RereadOnQuery: expected false")
	}
	if !cfg.UseSSL {
		t.Error("UseSSL: expected true")
	}
	if cfg.Port != 44445 {
		t.Errorf("Port: expected 44445, got %d", cfg.Port)
	}
	if cfg.Dir != filepath.Dir(path) {
		t.Errorf("Dir: expected %q, got %q", filepath.Dir(path), cfg.Dir)
	}
}

func TestLoadBoolSpellings(t *testing.T) {
	corpusPath := writeCorpus(t)
	for _, tc := range []struct {
		val  string
		want bool
	}{
		{"true", true}, {"TRUE", true}, {"1", true}, {"Yes", true},
		{"false", false}, {"0", false}, {"no", false},
	} {
		path := writeConfig(t, "linuxpath="+corpusPath+"\nREREAD_ON_QUERY="+tc.val+"\nUSE_SSL=false\nPORT=1000\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.val, err)
		}
		if cfg.RereadOnQuery != tc.want {
			t.Errorf("%q: expected %v", tc.val, tc.want)
		}
	}
}

func TestLoadMissingKey(t *testing.T) {
	corpusPath := writeCorpus(t)
	for _, tc := range []struct {
		name    string
		content string
		key     string
	}{
		{"no linuxpath", "REREAD_ON_QUERY=true\nUSE_SSL=false\nPORT=1000\n", "linuxpath"},
		{"no reread", "linuxpath=" + corpusPath + "\nUSE_SSL=false\nPORT=1000\n", "REREAD_ON_QUERY"},
		{"no ssl", "linuxpath=" + corpusPath + "\nREREAD_ON_QUERY=true\nPORT=1000\n", "USE_SSL"},
		{"no port", "linuxpath=" + corpusPath + "\nREREAD_ON_QUERY=true\nUSE_SSL=false\n", "PORT"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if cfgErr.Key != tc.key {
				t.Errorf("expected key %q, got %q", tc.key, cfgErr.Key)
			}
		})
	}
}

func TestLoadBadBool(t *testing.T) {
	corpusPath := writeCorpus(t)
	path := writeConfig(t, "linuxpath="+corpusPath+"\nREREAD_ON_QUERY=maybe\nUSE_SSL=false\nPORT=1000\n")
	var cfgErr *Error
	if _, err := Load(path); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestLoadPortRange(t *testing.T) {
	corpusPath := writeCorpus(t)
	for _, port := range []string{"0", "-1", "65536", "notaport"} {
		path := writeConfig(t, "linuxpath="+corpusPath+"\nREREAD_ON_QUERY=true\nUSE_SSL=false\nPORT="+port+"\n")
		var cfgErr *Error
		if _, err := Load(path); !errors.As(err, &cfgErr) {
			t.Errorf("port %q: expected *Error, got %v", port, err)
		}
	}
}

func TestLoadCorpusNotAFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "linuxpath="+dir+"\nREREAD_ON_QUERY=true\nUSE_SSL=false\nPORT=1000\n")
	var cfgErr *Error
	if _, err := Load(path); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error for directory corpus, got %v", err)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	var cfgErr *Error
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt")); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestLoadIgnoresCommentsAndUnknownKeys(t *testing.T) {
	corpusPath := writeCorpus(t)
	path := writeConfig(t, `
# comment
linuxpath=`+corpusPath+`

not a key value line
extra_key=whatever
REREAD_ON_QUERY=true
USE_SSL=false
PORT=2000
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
