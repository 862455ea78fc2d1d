package cmd

const (
	DefaultLogFile  = "chartpack.log"
	DefaultLogLevel = "warn"
)
