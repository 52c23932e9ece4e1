// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

// Package process wires cobra commands to process-wide configuration:
// a config file, environment variables and logging flags.
package process

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the default process error class.
var Error = errs.Class("process error")

// DefaultConfigDir returns the directory the config file lives in.
func DefaultConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.Println(err)
		return ".stateops"
	}
	return filepath.Join(home, ".stateops")
}

func defaultConfigPath(name string) string {
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	return filepath.Join(DefaultConfigDir(), fmt.Sprintf("%s.yaml", name))
}

// Execute runs a *cobra.Command and sets up process-wide configuration
// like a configuration file and environment binding.
func Execute(cmd *cobra.Command) {
	cfgFile := flag.String("config", defaultConfigPath(cmd.Name()), "config file")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cobra.OnInitialize(func() {
		viper.BindPFlags(cmd.Flags())
		viper.SetEnvPrefix("stateops")
		viper.AutomaticEnv()
		if *cfgFile != "" {
			viper.SetConfigFile(*cfgFile)
			viper.ReadInConfig()
		}
	})

	Must(cmd.Execute())
}

// Must exits the process non-zero when err is set.
func Must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
