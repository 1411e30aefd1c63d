// Package config parses the key=value server configuration file.
//
// The file format is one `key=value` pair per line. Blank lines and lines
// starting with '#' are skipped, as are lines without an '='. Keys are
// matched case-insensitively; unknown keys are ignored so config files can
// carry deployment-specific extras.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPath is used when no --config_path flag is given.
const DefaultPath = "config.txt"

// Config holds the parsed server configuration.
type Config struct {
	// CorpusPath is the path to the corpus file (the `linuxpath` key).
	CorpusPath string

	// RereadOnQuery selects reread mode: the corpus is re-read on every
	// query and no index is built.
	RereadOnQuery bool

	// UseSSL wraps the listener in TLS.
	UseSSL bool

	// Port is the TCP listen port, 1..65535.
	Port int

	// Dir is the directory containing the config file. cert.pem and
	// key.pem are expected (or generated) here when UseSSL is set.
	Dir string
}

// Error is returned for any configuration problem: a missing file, a
// missing required key, an unparseable value, or a corpus path that does
// not resolve to a readable regular file.
type Error struct {
	Key    string // offending key, empty for file-level problems
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: key %q: %s", e.Key, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// parseBool accepts the same spellings the config file has always used:
// true/false, 1/0, yes/no, case-insensitive.
func parseBool(key, val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, &Error{Key: key, Reason: fmt.Sprintf("invalid boolean %q (expected true/false, 1/0, or yes/no)", val)}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("open %s: %v", path, err), Err: err}
	}
	defer f.Close()

	var (
		corpusPath            *string
		rereadOnQuery, useSSL *bool
		port                  *int
	)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "linuxpath":
			corpusPath = &val
		case "reread_on_query":
			b, err := parseBool("REREAD_ON_QUERY", val)
			if err != nil {
				return nil, err
			}
			rereadOnQuery = &b
		case "use_ssl":
			b, err := parseBool("USE_SSL", val)
			if err != nil {
				return nil, err
			}
			useSSL = &b
		case "port":
			p, err := strconv.Atoi(val)
			if err != nil {
				return nil, &Error{Key: "PORT", Reason: fmt.Sprintf("invalid port %q", val), Err: err}
			}
			port = &p
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("read %s: %v", path, err), Err: err}
	}

	switch {
	case corpusPath == nil:
		return nil, &Error{Key: "linuxpath", Reason: "missing required key"}
	case rereadOnQuery == nil:
		return nil, &Error{Key: "REREAD_ON_QUERY", Reason: "missing required key"}
	case useSSL == nil:
		return nil, &Error{Key: "USE_SSL", Reason: "missing required key"}
	case port == nil:
		return nil, &Error{Key: "PORT", Reason: "missing required key"}
	}

	if *port < 1 || *port > 65535 {
		return nil, &Error{Key: "PORT", Reason: fmt.Sprintf("port %d out of range 1..65535", *port)}
	}

	if err := checkReadableFile(*corpusPath); err != nil {
		return nil, &Error{Key: "linuxpath", Reason: err.Error(), Err: err}
	}

	return &Config{
		CorpusPath:    *corpusPath,
		RereadOnQuery: *rereadOnQuery,
		UseSSL:        *useSSL,
		Port:          *port,
		Dir:           filepath.Dir(path),
	}, nil
}

// checkReadableFile verifies that path is a readable regular file.
func checkReadableFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return f.Close()
}
