package cert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateSelfSigned(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, CertFileName)
	keyPath := filepath.Join(dir, KeyFileName)

	if err := GenerateSelfSigned(certPath, keyPath); err != nil {
		t.Fatalf("generate: %v", err)
	}

	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("pair does not parse: %v", err)
	}

	block, _ := pem.Decode(mustRead(t, certPath))
	if block == nil {
		t.Fatal("no PEM block in cert")
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if parsed.Subject.CommonName != "localhost" {
		t.Errorf("CN = %q, want localhost", parsed.Subject.CommonName)
	}
	if got := parsed.NotAfter.Sub(parsed.NotBefore); got != 365*24*time.Hour {
		t.Errorf("validity = %v, want 365 days", got)
	}
	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Errorf("hostname: %v", err)
	}
	if err := parsed.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("ip SAN: %v", err)
	}
	if len(pair.Certificate) == 0 {
		t.Error("empty chain")
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestManagerSelfSignsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()

	if _, err := os.Stat(filepath.Join(dir, CertFileName)); err != nil {
		t.Errorf("cert.pem not generated: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, KeyFileName)); err != nil {
		t.Errorf("key.pem not generated: %v", err)
	}

	conf := m.TLSConfig()
	if conf.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", conf.MinVersion)
	}
	c, err := conf.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || c == nil {
		t.Fatalf("GetCertificate: %v %v", c, err)
	}
}

func TestManagerLoadsExistingPair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, CertFileName)
	keyPath := filepath.Join(dir, KeyFileName)
	if err := GenerateSelfSigned(certPath, keyPath); err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := mustRead(t, certPath)

	m, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()

	// An existing pair must not be overwritten.
	if string(mustRead(t, certPath)) != string(before) {
		t.Error("existing certificate was replaced")
	}
}

func TestManagerRejectsCorruptPair(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, CertFileName), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, KeyFileName), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New(dir, nil)
	if err == nil {
		t.Fatal("expected error for corrupt pair")
	}
	var tlsErr *Error
	if !errors.As(err, &tlsErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
}

func TestManagerReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()

	first, err := m.TLSConfig().GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatal(err)
	}

	// Regenerate the pair in place and wait for the watcher to pick it up.
	if err := GenerateSelfSigned(filepath.Join(dir, CertFileName), filepath.Join(dir, KeyFileName)); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur, err := m.TLSConfig().GetCertificate(&tls.ClientHelloInfo{})
		if err == nil && string(cur.Certificate[0]) != string(first.Certificate[0]) {
			return // reloaded
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("certificate was not reloaded after change")
}
