package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pengling9405/miaoyu/internal/settings"
)

// ProgressFunc receives download progress. totalBytes is zero when the
// server did not report a content length.
type ProgressFunc func(modelID string, receivedBytes, totalBytes int64)

// Manager owns the on-disk model files under dir, the persisted model
// selection, and the single-download-at-a-time invariant.
type Manager struct {
	dir      string
	settings settings.Store
	catalog  Catalog
	client   *http.Client

	mu          sync.Mutex
	downloading atomic.Bool

	progress ProgressFunc
	busy     func() bool
	probe    probeFunc
	now      func() time.Time
	logf     func(format string, args ...any)
}

// Option configures a Manager.
type Option func(*Manager)

// WithProgress sets the download progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(m *Manager) { m.progress = fn }
}

// WithSessionGuard installs a check consulted before model activation.
// Activation is rejected while the guard reports an active session.
func WithSessionGuard(busy func() bool) Option {
	return func(m *Manager) { m.busy = busy }
}

// WithCatalog overrides the built-in registry.
func WithCatalog(c Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithHTTPClient overrides the download client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// NewManager creates a manager rooted at dir, persisting selection and
// usage through store.
func NewManager(dir string, store settings.Store, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	m := &Manager{
		dir:      dir,
		settings: store,
		catalog:  DefaultCatalog(),
		client:   &http.Client{},
		now:      time.Now,
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.probe == nil {
		m.probe = m.defaultProbe
	}
	return m, nil
}

// Catalog returns the static model registry.
func (m *Manager) Catalog() Catalog {
	return m.catalog
}

func (m *Manager) modelDir(desc Descriptor) string {
	return filepath.Join(m.dir, string(desc.Kind), desc.ID)
}

// ModelFile resolves the on-disk path of one file of a ready model.
func (m *Manager) ModelFile(modelID, name string) (string, error) {
	desc, ok := m.catalog.FindOffline(modelID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	path := filepath.Join(m.modelDir(desc), name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s missing %s", ErrModelNotReady, modelID, name)
	}
	return path, nil
}

// ModelStatus is the readiness of one offline model.
type ModelStatus struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Ready        bool     `json:"ready"`
	MissingFiles []string `json:"missingFiles"`
	InstallDir   string   `json:"installDir"`
}

// OfflineStatus is the readiness of every offline model.
type OfflineStatus struct {
	Ready        bool          `json:"ready"`
	MissingFiles []string      `json:"missingFiles"`
	InstallDir   string        `json:"installDir"`
	Models       []ModelStatus `json:"models"`
}

// Status reports readiness computed from on-disk presence plus
// checksum verification. A file with a wrong checksum counts missing.
func (m *Manager) Status() OfflineStatus {
	out := OfflineStatus{InstallDir: m.dir}
	all := append(append([]Descriptor{}, m.catalog.AsrModels...), m.catalog.AuxModels...)
	for _, desc := range all {
		st := m.statusFor(desc)
		if !st.Ready {
			out.MissingFiles = append(out.MissingFiles, st.MissingFiles...)
		}
		out.Models = append(out.Models, st)
	}
	out.Ready = len(out.MissingFiles) == 0
	return out
}

// IsReady reports whether one offline model is fully present and
// checksum-verified.
func (m *Manager) IsReady(modelID string) bool {
	desc, ok := m.catalog.FindOffline(modelID)
	if !ok {
		return false
	}
	return m.statusFor(desc).Ready
}

// EnsureReady returns ErrModelNotReady unless the model is verified on
// disk. Called before a dictation session may start.
func (m *Manager) EnsureReady(modelID string) error {
	desc, ok := m.catalog.FindOffline(modelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	st := m.statusFor(desc)
	if !st.Ready {
		return fmt.Errorf("%w: %s missing %v", ErrModelNotReady, modelID, st.MissingFiles)
	}
	return nil
}

func (m *Manager) statusFor(desc Descriptor) ModelStatus {
	dir := m.modelDir(desc)
	st := ModelStatus{ID: desc.ID, Title: desc.Title, InstallDir: dir}
	for _, file := range desc.Files {
		path := filepath.Join(dir, file.Name)
		sum, err := fileSHA256(path)
		if err != nil || sum != file.SHA256 {
			st.MissingFiles = append(st.MissingFiles, desc.ID+"/"+file.Name)
		}
	}
	st.Ready = len(st.MissingFiles) == 0
	return st
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Download fetches every file of a model into a staging directory,
// verifies checksums, then moves the staged directory into place in
// one rename. At most one download runs at a time process-wide; a
// failure removes all partial files and leaves readiness unchanged.
func (m *Manager) Download(ctx context.Context, modelID string) error {
	desc, ok := m.catalog.FindOffline(modelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	if !m.downloading.CompareAndSwap(false, true) {
		return ErrDownloadInProgress
	}
	defer m.downloading.Store(false)

	staging, err := os.MkdirTemp(m.dir, "download-"+desc.ID+"-*")
	if err != nil {
		return fmt.Errorf("%w: create staging dir: %v", ErrDownloadFailed, err)
	}
	defer os.RemoveAll(staging)

	var received int64
	for _, file := range desc.Files {
		n, err := m.fetchFile(ctx, desc.ID, file, filepath.Join(staging, file.Name), received)
		if err != nil {
			return err
		}
		received += n
	}

	target := m.modelDir(desc)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create model dir: %v", ErrDownloadFailed, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("%w: clear previous install: %v", ErrDownloadFailed, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return fmt.Errorf("%w: install model files: %v", ErrDownloadFailed, err)
	}
	m.logf("model %s downloaded and verified", desc.ID)
	return nil
}

func (m *Manager) fetchFile(ctx context.Context, modelID string, spec FileSpec, dest string, already int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s returned %s", ErrDownloadFailed, spec.URL, resp.Status)
	}

	total := int64(0)
	if resp.ContentLength > 0 {
		total = already + resp.ContentLength
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer out.Close()

	h := sha256.New()
	m.emitProgress(modelID, already, total)

	var written int64
	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
			}
			h.Write(buf[:n])
			written += int64(n)
			m.emitProgress(modelID, already+written, total)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, fmt.Errorf("%w: %v", ErrDownloadFailed, readErr)
		}
	}

	if sum := hex.EncodeToString(h.Sum(nil)); sum != spec.SHA256 {
		return written, fmt.Errorf("%w: %s (got %s)", ErrChecksumMismatch, spec.Name, sum)
	}
	return written, nil
}

func (m *Manager) emitProgress(modelID string, received, total int64) {
	if m.progress != nil {
		m.progress(modelID, received, total)
	}
}

func (m *Manager) sessionActive() bool {
	return m.busy != nil && m.busy()
}

// SetActiveAsrModel switches ASR model selection. Offline models must
// be ready, and no dictation session may be running.
func (m *Manager) SetActiveAsrModel(modelID string) (Store, error) {
	desc, ok := m.catalog.FindOffline(modelID)
	if !ok {
		return Store{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	if m.sessionActive() {
		return Store{}, ErrSessionActive
	}
	if desc.Offline && !m.statusFor(desc).Ready {
		return Store{}, fmt.Errorf("%w: %s", ErrModelNotReady, modelID)
	}
	return m.withStore(func(data *Store) error {
		data.ActiveAsrModel = modelID
		for i := range data.AsrModels {
			data.AsrModels[i].Active = data.AsrModels[i].ModelID == modelID
		}
		return nil
	})
}

// SetActiveTextModel switches the text model used for polishing.
func (m *Manager) SetActiveTextModel(modelID string) (Store, error) {
	if _, ok := m.catalog.FindLlm(modelID); !ok {
		return Store{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	if m.sessionActive() {
		return Store{}, ErrSessionActive
	}
	return m.withStore(func(data *Store) error {
		data.ActiveLlmModel = modelID
		return nil
	})
}
