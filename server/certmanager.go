package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/zlog/v2"
)

const certCheckInterval = 5 * time.Minute

var errNoCertificate = errors.New("no certificate available")

// CertManager holds the certificate material of one encrypted listener and
// reloads it when the files change on disk.
type CertManager struct {
	certPath string
	keyPath  string

	// EndpointName is the name HTTPS and QUIC clients are expected to ask
	// for; empty accepts any.
	EndpointName string

	mu          sync.RWMutex
	certificate *tls.Certificate
	lastModTime time.Time

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// LoadCertificate loads the material named by cfg. Relative paths are taken
// from dir.
func LoadCertificate(cfg *config.TLSCertConfig, dir string) (*CertManager, error) {
	if cfg == nil {
		return nil, errors.New("tls_cert not configured")
	}

	cm, err := NewCertManager(resolvePath(dir, cfg.Path), resolvePath(dir, cfg.PrivateKey))
	if err != nil {
		return nil, err
	}
	cm.EndpointName = cfg.EndpointName

	return cm, nil
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// NewCertManager loads the pair and starts watching both files.
func NewCertManager(certPath, keyPath string) (*CertManager, error) {
	cm := &CertManager{
		certPath: certPath,
		keyPath:  keyPath,
		stopCh:   make(chan struct{}),
	}

	if err := cm.loadCertificate(); err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", certPath, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	cm.watcher = watcher

	// directories, not files: renewals usually swap symlinks
	for _, dir := range uniqueDirs(certPath, keyPath) {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go cm.watch()

	return cm, nil
}

func uniqueDirs(paths ...string) []string {
	var dirs []string
	seen := make(map[string]bool)

	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	return dirs
}

func (cm *CertManager) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(cm.certPath, cm.keyPath)
	if err != nil {
		return err
	}

	modTime, err := cm.modTime()
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.certificate = &cert
	cm.lastModTime = modTime
	cm.mu.Unlock()

	zlog.Info("TLS certificate loaded", "cert", cm.certPath, "modTime", modTime)

	return nil
}

// modTime is the newest modification time of the pair.
func (cm *CertManager) modTime() (time.Time, error) {
	var newest time.Time

	for _, p := range []string{cm.certPath, cm.keyPath} {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}

	return newest, nil
}

// GetCertificate returns the current certificate
func (cm *CertManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.certificate == nil {
		return nil, errNoCertificate
	}

	return cm.certificate, nil
}

// GetTLSConfig returns a fresh config serving the current certificate.
func (cm *CertManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: cm.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// HTTPSConfig is GetTLSConfig with HTTP/2 negotiation.
func (cm *CertManager) HTTPSConfig() *tls.Config {
	conf := cm.GetTLSConfig()
	conf.NextProtos = []string{"h2", "http/1.1"}
	return conf
}

// Paths returns the certificate and key files.
func (cm *CertManager) Paths() (certPath, keyPath string) {
	return cm.certPath, cm.keyPath
}

func (cm *CertManager) watch() {
	defer cm.watcher.Close()

	// fsnotify can miss events on some filesystems
	ticker := time.NewTicker(certCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.stopCh:
			return

		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}

			if cm.isRelevantEvent(event) {
				zlog.Debug("Certificate file event", "event", event.String())
				cm.checkAndReload()
			}

		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Certificate watcher error", "error", err.Error())

		case <-ticker.C:
			cm.checkAndReload()
		}
	}
}

func (cm *CertManager) isRelevantEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)

	return name == filepath.Base(cm.certPath) || name == filepath.Base(cm.keyPath) ||
		event.Name == cm.certPath || event.Name == cm.keyPath
}

func (cm *CertManager) checkAndReload() {
	modTime, err := cm.modTime()
	if err != nil {
		zlog.Error("Failed to stat certificate files", "cert", cm.certPath, "key", cm.keyPath, "error", err.Error())
		return
	}

	cm.mu.RLock()
	lastMod := cm.lastModTime
	cm.mu.RUnlock()

	if modTime.After(lastMod) {
		zlog.Info("Certificate files changed, reloading", "cert", cm.certPath)
		if err := cm.Reload(); err != nil {
			// keep serving the previous certificate
			zlog.Error("Failed to reload certificate", "error", err.Error())
		}
	}
}

// Reload forces a certificate reload
func (cm *CertManager) Reload() error {
	return cm.loadCertificate()
}

// Stop stops watching for changes. It is safe to call more than once.
func (cm *CertManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
