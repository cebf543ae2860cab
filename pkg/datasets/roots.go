// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"

	"github.com/gomlx/sudormrf/pkg/config"
)

// DefaultRootsFile is where LoadRoots looks for the dataset roots if no file is given.
const DefaultRootsFile = "~/.sudormrf/datasets.yaml"

// Roots holds the root directory of each dataset. MUSDB18 has one root per sample rate.
//
// It is read from a YAML file like:
//
//	wham: ~/data/wham/wav8k/min
//	libri2mix: /data/Libri2Mix/wav8k/min
//	musdb_8k: /data/musdb18_wav_8k
type Roots struct {
	WHAM      string `yaml:"wham"`
	WHAMR     string `yaml:"whamr"`
	FUSS      string `yaml:"fuss"`
	Libri2Mix string `yaml:"libri2mix"`
	MUSDB     string `yaml:"musdb"`
	MUSDB8k   string `yaml:"musdb_8k"`
}

// rootEnvVars are used for the roots not set in the YAML file.
var rootEnvVars = []struct {
	name  string
	field func(r *Roots) *string
}{
	{"WHAM_ROOT_PATH", func(r *Roots) *string { return &r.WHAM }},
	{"WHAMR_ROOT_PATH", func(r *Roots) *string { return &r.WHAMR }},
	{"FUSS_ROOT_PATH", func(r *Roots) *string { return &r.FUSS }},
	{"LIBRI2MIX_ROOT_PATH", func(r *Roots) *string { return &r.Libri2Mix }},
	{"MUSDBWAV_ROOT_PATH", func(r *Roots) *string { return &r.MUSDB }},
	{"MUSDBWAV8K_ROOT_PATH", func(r *Roots) *string { return &r.MUSDB8k }},
}

// LoadRoots reads the dataset roots from the YAML file in path, or from DefaultRootsFile if path is empty.
// A missing DefaultRootsFile is not an error.
//
// Roots not set in the file are taken from the environment variables WHAM_ROOT_PATH, WHAMR_ROOT_PATH,
// FUSS_ROOT_PATH, LIBRI2MIX_ROOT_PATH, MUSDBWAV_ROOT_PATH and MUSDBWAV8K_ROOT_PATH.
// A "~" prefix is replaced by the home directory.
func LoadRoots(path string) (*Roots, error) {
	isDefault := path == ""
	if isDefault {
		path = DefaultRootsFile
	}
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	roots := &Roots{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, roots); err != nil {
			return nil, errors.Wrapf(err, "failed to parse dataset roots file %q", path)
		}
	case isDefault && errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrapf(err, "failed to read dataset roots file %q", path)
	}
	for _, env := range rootEnvVars {
		field := env.field(roots)
		if *field == "" {
			*field = os.Getenv(env.name)
		}
		if *field, err = fsutil.ReplaceTildeInDir(*field); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// Save the roots as YAML to path.
func (r *Roots) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode dataset roots")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write dataset roots to %q", path)
}

// RootFor returns the root directory of the dataset kind. MUSDB18 roots depend on the sample rate,
// and only 8000Hz and 44100Hz are supported.
func (r *Roots) RootFor(kind Kind, fs int) (string, error) {
	var root string
	switch kind {
	case WHAM:
		root = r.WHAM
	case WHAMR:
		root = r.WHAMR
	case FUSS:
		root = r.FUSS
	case LIBRI2MIX:
		root = r.Libri2Mix
	case MUSDB:
		switch fs {
		case 8000:
			root = r.MUSDB8k
		case 44100:
			root = r.MUSDB
		default:
			return "", config.Invalidf("sample rate %dHz not supported for MUSDB, use 8000 or 44100", fs)
		}
	default:
		return "", config.Invalidf("unknown dataset kind %d", kind)
	}
	if root == "" {
		return "", config.Invalidf("root directory for dataset %s (fs=%d) not configured", kind, fs)
	}
	return root, nil
}
