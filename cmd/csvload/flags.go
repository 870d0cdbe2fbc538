package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each flag to its config key. Unset flags leave the
// environment, the dotenv file and the defaults in charge.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if f := fs.Lookup(flag); f != nil {
			// only fails on a nil flag
			_ = v.BindPFlag(key, f)
		}
	}
}
