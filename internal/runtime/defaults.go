package runtime

// Defaults applied after viper-stored values are read.
const (
	DefaultOutputDir        = "."
	DefaultProject          = "library"
	DefaultPlatform         = "amd64"
	DefaultDiscoveryWorkers = 4
	DefaultPushWorkers      = 4
)
