package errors

import "errors"

// Library-wide error messages are here.
var (
	// Discovery-time errors.
	ErrRender               = errors.New("unable to render chart templates")
	ErrRenderValuesRequired = errors.New("chart rendering requires values that were not provided")
	ErrMalformedAnnotation  = errors.New("malformed image annotation")
	ErrCyclicDependency     = errors.New("cyclic chart dependency")
	ErrTemplateExpression   = errors.New("reference contains an unresolved template expression")

	// Bundle-time errors.
	ErrImageUnavailable = errors.New("image could not be pulled")
	ErrNoImagesSaved    = errors.New("no images could be pulled")
	ErrArchiveCorrupt   = errors.New("bundle archive is corrupt")

	// Import-time errors.
	ErrRegistryAuth      = errors.New("registry authentication failed")
	ErrRegistryQuota     = errors.New("registry quota exceeded")
	ErrRegistryTransient = errors.New("transient registry error")

	// Input validation errors.
	ErrImageEmpty             = errors.New("image is empty")
	ErrChartEmpty             = errors.New("chart value is empty")
	ErrBundleEmpty            = errors.New("bundle value is empty")
	ErrUnsupportedChartScheme = errors.New("unsupported chart source")
)
