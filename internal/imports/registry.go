package imports

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	helmregistry "helm.sh/helm/v3/pkg/registry"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/authn"
	"github.com/opdev/chartpack/internal/option"
)

// Registry is the importer's view of the target registry. Image operations
// and chart publication go through it so tests can substitute a fake.
type Registry interface {
	// Exists reports whether ref is already present in the target registry.
	Exists(ctx context.Context, ref string) (bool, error)
	// PushArchive loads the image tarball at archivePath and pushes it as ref.
	PushArchive(ctx context.Context, archivePath, ref string) error
	// PushChart publishes the packaged chart at chartArchive as the OCI
	// reference ref.
	PushChart(ctx context.Context, chartArchive, ref string) error
}

// CraneRegistry talks to the target registry with crane for images and the
// helm registry client for chart artifacts.
type CraneRegistry struct {
	Host         string
	Username     string
	Password     string
	Platform     string
	DockerConfig string
	Insecure     bool
}

var _ Registry = &CraneRegistry{}

func (r *CraneRegistry) CranePlatform() string     { return r.Platform }
func (r *CraneRegistry) CraneDockerConfig() string { return r.DockerConfig }
func (r *CraneRegistry) CraneInsecure() bool       { return r.Insecure }

var _ option.CraneConfig = &CraneRegistry{}

func (r *CraneRegistry) craneOptions(ctx context.Context) []crane.Option {
	if r.Username != "" {
		// Register the import target's credentials before the keychain is
		// consulted; GenerateCraneOptions reuses the singleton.
		authn.ChartpackKeychain(ctx, authn.WithStaticCredentials(r.Host, r.Username, r.Password))
	}
	return option.GenerateCraneOptions(ctx, r)
}

func (r *CraneRegistry) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := crane.Head(ref, r.craneOptions(ctx)...)
	if err == nil {
		return true, nil
	}

	var terr *transport.Error
	if goerrors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, classifyRegistryError(err)
}

func (r *CraneRegistry) PushArchive(ctx context.Context, archivePath, ref string) error {
	img, err := tarball.ImageFromPath(archivePath, nil)
	if err != nil {
		return fmt.Errorf("%w: unable to load image archive %s: %s", errors.ErrArchiveCorrupt, archivePath, err)
	}

	if err := crane.Push(img, ref, r.craneOptions(ctx)...); err != nil {
		return classifyRegistryError(err)
	}
	return nil
}

func (r *CraneRegistry) PushChart(ctx context.Context, chartArchive, ref string) error {
	opts := []helmregistry.ClientOption{}
	if r.Insecure {
		opts = append(opts, helmregistry.ClientOptPlainHTTP())
	}

	client, err := helmregistry.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("unable to create chart registry client: %w", err)
	}

	if r.Username != "" {
		loginOpts := []helmregistry.LoginOption{
			helmregistry.LoginOptBasicAuth(r.Username, r.Password),
		}
		if r.Insecure {
			loginOpts = append(loginOpts, helmregistry.LoginOptInsecure(true))
		}
		if err := client.Login(r.Host, loginOpts...); err != nil {
			return fmt.Errorf("%w: registry login failed: %s", errors.ErrRegistryAuth, err)
		}
	}

	raw, err := os.ReadFile(chartArchive)
	if err != nil {
		return err
	}

	if _, err := client.Push(raw, ref); err != nil {
		return classifyRegistryError(err)
	}
	return nil
}

// classifyRegistryError maps a raw registry error onto the import error
// taxonomy. Auth and quota failures are permanent; everything else,
// including plain network errors, is treated as transient and retried.
func classifyRegistryError(err error) error {
	var terr *transport.Error
	if goerrors.As(err, &terr) {
		switch {
		case terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", errors.ErrRegistryAuth, err)
		case terr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", errors.ErrRegistryQuota, err)
		case terr.StatusCode >= 500:
			return fmt.Errorf("%w: %s", errors.ErrRegistryTransient, err)
		}
	}
	return fmt.Errorf("%w: %s", errors.ErrRegistryTransient, err)
}
