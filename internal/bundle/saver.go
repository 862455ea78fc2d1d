package bundle

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/crane"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/image"
	"github.com/opdev/chartpack/internal/option"
)

// ImageSaver materializes a single image as a tarball on disk. It stands
// in for the external container runtime during assembly.
type ImageSaver interface {
	Save(ctx context.Context, ref image.Reference, dest string) error
}

// CraneSaver pulls images from their source registry with crane and saves
// them in docker-archive format.
type CraneSaver struct {
	Platform     string
	DockerConfig string
	Insecure     bool
}

var _ ImageSaver = &CraneSaver{}

func (s *CraneSaver) CranePlatform() string     { return s.Platform }
func (s *CraneSaver) CraneDockerConfig() string { return s.DockerConfig }
func (s *CraneSaver) CraneInsecure() bool       { return s.Insecure }

var _ option.CraneConfig = &CraneSaver{}

func (s *CraneSaver) Save(ctx context.Context, ref image.Reference, dest string) error {
	opts := option.GenerateCraneOptions(ctx, s)

	img, err := crane.Pull(ref.Normalized(), opts...)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", errors.ErrImageUnavailable, ref.Normalized(), err)
	}

	if err := crane.Save(img, ref.Normalized(), dest); err != nil {
		return fmt.Errorf("unable to save %s: %w", ref.Normalized(), err)
	}

	return nil
}

// archiveFileName is the stable, filesystem-safe name for an image tarball
// inside the bundle.
func archiveFileName(ref image.Reference) string {
	sanitized := strings.NewReplacer("/", "_", ":", "_", "@", "_").Replace(ref.Normalized())
	return sanitized + ".tar"
}
