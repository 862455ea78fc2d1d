// Package viper provides the chartpack-wide instance of Viper. Every
// command binds its flags against this instance so CHARTPACK_* environment
// overrides and config.yaml values resolve consistently, without touching
// Viper's global instance.
package viper

import (
	"sync"

	spfviper "github.com/spf13/viper"
)

var (
	instance *spfviper.Viper
	mu       = sync.Mutex{}
)

// Instance provides the chartpack instance of Viper, or lazy-loads a new
// one if one has not been defined.
func Instance() *spfviper.Viper {
	if instance != nil {
		return instance
	}

	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = spfviper.New()
	}
	return instance
}
