package imports

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opdev/chartpack/internal/bundle"
	"github.com/opdev/chartpack/internal/image"
)

// relocationMap maps every known written form of a source reference to its
// target-registry form.
type relocationMap map[string]string

// buildRelocationMap derives the rewrite table from the bundle manifest.
// Both the as-written form and the normalized form of each inventory entry
// are mapped, since charts may use either.
func buildRelocationMap(manifest *bundle.Manifest, host, project string) relocationMap {
	m := relocationMap{}
	for _, record := range manifest.Images {
		target := TargetReference(host, project, record.Reference)
		m[record.Normalized] = target
		if record.FullReference != "" && record.FullReference != record.Normalized {
			m[record.FullReference] = target
		}
	}
	return m
}

// TargetReference is the reference an image gets in the target registry:
// <host>/<project>/<name>:<tag>.
func TargetReference(host, project string, ref image.Reference) string {
	tag := ref.Tag
	if tag == "" {
		tag = image.DefaultTag
	}
	return fmt.Sprintf("%s/%s/%s:%s", host, project, ref.Name, tag)
}

// relocateChart rewrites every mapped reference occurrence in the chart
// tree's values files and templates, sub-charts included, and returns the
// number of files changed. Source files are rewritten in place; the tree
// is the importer's extracted working copy, never the user's chart.
func relocateChart(chartDir string, m relocationMap) (int, error) {
	// Longer references first so a prefix of another reference can never
	// steal its match.
	sources := make([]string, 0, len(m))
	for src := range m {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if len(sources[i]) != len(sources[j]) {
			return len(sources[i]) > len(sources[j])
		}
		return sources[i] < sources[j]
	})

	changed := 0
	err := filepath.Walk(chartDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || !relocatableFile(chartDir, path) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		content := string(raw)
		rewritten := content
		for _, src := range sources {
			rewritten = strings.ReplaceAll(rewritten, src, m[src])
		}
		if rewritten == content {
			return nil
		}

		if err := os.WriteFile(path, []byte(rewritten), info.Mode().Perm()); err != nil {
			return err
		}
		changed++
		return nil
	})

	return changed, err
}

// relocatableFile reports whether path is a values file or template that may
// carry image references.
func relocatableFile(chartDir, path string) bool {
	base := filepath.Base(path)
	if base == "values.yaml" || base == "values.yml" {
		return true
	}

	rel, err := filepath.Rel(chartDir, path)
	if err != nil {
		return false
	}
	if !strings.Contains(filepath.ToSlash(rel), "templates/") {
		return false
	}

	switch filepath.Ext(base) {
	case ".yaml", ".yml", ".tpl":
		return true
	}
	return false
}
