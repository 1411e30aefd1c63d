// Package cert builds the server TLS configuration from cert.pem and
// key.pem on disk, generating a self-signed pair when neither exists.
//
// The manager watches the files and reloads the pair on change, so a cert
// renewal does not require a restart. The loaded certificate sits behind
// an atomic pointer read by GetCertificate on every handshake.
package cert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"linefind/internal/logging"
)

// File names expected next to the configuration file.
const (
	CertFileName = "cert.pem"
	KeyFileName  = "key.pem"
)

// Error reports a fatal TLS setup problem.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("tls %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Manager loads and holds the server certificate pair.
// Safe for concurrent use.
type Manager struct {
	logger   *slog.Logger
	certFile string
	keyFile  string

	cert atomic.Pointer[tls.Certificate]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// New loads the pair from dir, self-signing into dir first when both
// files are absent, and starts the file watcher.
func New(dir string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		logger:   logging.Default(logger).With("component", "cert"),
		certFile: filepath.Join(dir, CertFileName),
		keyFile:  filepath.Join(dir, KeyFileName),
	}

	if !fileExists(m.certFile) && !fileExists(m.keyFile) {
		m.logger.Info("no certificate found, generating self-signed pair",
			"cert", m.certFile, "key", m.keyFile)
		if err := GenerateSelfSigned(m.certFile, m.keyFile); err != nil {
			return nil, &Error{Path: m.certFile, Err: err}
		}
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	m.startWatcher()
	return m, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// load reads and parses the pair from disk.
func (m *Manager) load() error {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return &Error{Path: m.certFile, Err: err}
	}
	m.cert.Store(&cert)
	return nil
}

// startWatcher watches the cert and key files and reloads on change. A
// watcher failure is not fatal: the pair loaded at startup stays active.
func (m *Manager) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("fsnotify start failed", "error", err)
		return
	}
	for _, path := range []string{m.certFile, m.keyFile} {
		if err := watcher.Add(path); err != nil {
			m.logger.Warn("watch cert file", "file", path, "error", err)
		}
	}

	m.mu.Lock()
	m.watcher = watcher
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("watcher error", "error", err)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.load(); err != nil {
					m.logger.Warn("certificate reload failed", "error", err)
					continue
				}
				m.logger.Info("certificate reloaded", "file", ev.Name)
			}
		}
	}()
}

// getCertificate serves the current pair regardless of SNI; the server
// holds a single certificate.
func (m *Manager) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c := m.cert.Load()
	if c == nil {
		return nil, fmt.Errorf("no certificate loaded")
	}
	return c, nil
}

// TLSConfig returns the server-side TLS configuration. TLS 1.2 is the
// floor; client certificates are neither required nor verified.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: m.getCertificate,
	}
}

// Close stops the file watcher.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}
