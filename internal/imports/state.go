package imports

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Step is one transition of the import state machine.
type Step string

const (
	StepExtracted      Step = "Extracted"
	StepImagesLoaded   Step = "ImagesLoaded"
	StepImagesRetagged Step = "ImagesRetagged"
	StepImagesPushed   Step = "ImagesPushed"
	StepChartRelocated Step = "ChartRelocated"
	StepChartPublished Step = "ChartPublished"
)

// stateRecord is the persisted completed-steps log. It survives a failed
// import so a rerun can skip work that already reached the target registry.
type stateRecord struct {
	Bundle         string   `json:"bundle"`
	BundleDigest   string   `json:"bundleDigest"`
	Target         string   `json:"target"`
	CompletedSteps []Step   `json:"completedSteps"`
	PushedImages   []string `json:"pushedImages,omitempty"`
	ChartRef       string   `json:"chartRef,omitempty"`
	UpdatedAt      string   `json:"updatedAt"`
}

func (r *stateRecord) completed(step Step) bool {
	for _, s := range r.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

func (r *stateRecord) markCompleted(step Step) {
	if !r.completed(step) {
		r.CompletedSteps = append(r.CompletedSteps, step)
	}
}

func (r *stateRecord) pushed(ref string) bool {
	for _, p := range r.PushedImages {
		if p == ref {
			return true
		}
	}
	return false
}

func (r *stateRecord) markPushed(ref string) {
	if !r.pushed(ref) {
		r.PushedImages = append(r.PushedImages, ref)
	}
}

// stateStore persists stateRecords, one file per (bundle digest, target)
// pair, under a state directory.
type stateStore struct {
	fs  afero.Fs
	dir string
}

func newStateStore(fs afero.Fs, dir string) *stateStore {
	return &stateStore{fs: fs, dir: dir}
}

func (s *stateStore) path(digest, target string) string {
	key := sha256.Sum256([]byte(digest + "|" + target))
	return filepath.Join(s.dir, fmt.Sprintf("import-%x.json", key[:8]))
}

// load returns the existing record for the bundle/target pair, or a fresh
// one when none has been written yet.
func (s *stateStore) load(archivePath, digest, target string) (*stateRecord, error) {
	record := &stateRecord{
		Bundle:       filepath.Base(archivePath),
		BundleDigest: digest,
		Target:       target,
	}

	raw, err := afero.ReadFile(s.fs, s.path(digest, target))
	if os.IsNotExist(err) {
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read import state: %w", err)
	}

	if err := json.Unmarshal(raw, record); err != nil {
		// A corrupt state file should not block the import; start over.
		return &stateRecord{
			Bundle:       filepath.Base(archivePath),
			BundleDigest: digest,
			Target:       target,
		}, nil
	}

	return record, nil
}

func (s *stateStore) save(record *stateRecord) error {
	record.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.path(record.BundleDigest, record.Target), raw, 0o644)
}

// bundleDigest identifies the archive content so state records survive the
// file being moved or renamed.
func bundleDigest(archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}
