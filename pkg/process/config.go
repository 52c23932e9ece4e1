// Copyright (C) 2019 Stateops Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v2"
)

// SaveConfig writes the current values of the flags bound to cmd to
// outfile as yaml, with 'overrides' overridden.
func SaveConfig(cmd *cobra.Command, outfile string, overrides map[string]interface{}) error {
	settings := map[string]interface{}{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" {
			return
		}
		settings[f.Name] = f.Value.String()
	})
	for key, value := range overrides {
		settings[key] = value
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return Error.Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(outfile), 0700); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(atomicWrite(outfile, 0600, data))
}

// atomicWrite writes to a temporary file next to outfile and renames it
// into place, so a crash never leaves a half-written config.
func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	tmp, err := ioutil.TempFile(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outfile)
}
