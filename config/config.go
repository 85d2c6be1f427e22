// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

// Package config loads the process-wide core.Config/core.Control
// tunables from the environment or a YAML file, strictly outside the
// per-rule hot path those two types govern.
//
// Grounded on Comcast-rulio's examples/go-client/configuration/EnvConfig.go
// for the envconfig struct-tag convention, and on service/httpd.go's
// use of gopkg.in/yaml.v2 for the file-based form.
package config

import (
	"fmt"
	"io/ioutil"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/productfarm/ruleengine/core"
)

// EnvConfig is the environment-variable surface for a ruleenginectl
// process. Field names are chosen to match core.Config/core.Control so
// ToCoreConfig/ToControl is a direct copy.
type EnvConfig struct {
	// 250 matches core.DefaultPromotionThreshold.
	PromotionThreshold uint64 `envconfig:"promotion-threshold" default:"250"`
	MaxCacheEntries    int    `envconfig:"max-cache-entries" default:"0"`

	NoTiming   bool   `envconfig:"no-timing" default:"false"`
	Verbosity  string `envconfig:"verbosity" default:"EVERYTHING"`
	Logging    string `envconfig:"logging" default:"CSV"`
	CacheTTL   string `envconfig:"cache-ttl" default:"0s"`
	Deadline   string `envconfig:"evaluation-deadline" default:"0s"`
	ScriptTime string `envconfig:"script-timeout" default:"2s"`

	StorageType   string `envconfig:"storage" default:"mem"`
	StorageConfig string `envconfig:"storage-config" default:""`

	HttpAddr string `envconfig:"http-addr" default:"localhost:8001"`
}

// FromEnviron reads an EnvConfig from the process's environment,
// using the RULEENGINE_ prefix on every variable (e.g.
// RULEENGINE_PROMOTION_THRESHOLD).
func FromEnviron() (*EnvConfig, error) {
	conf := &EnvConfig{}
	if err := envconfig.Process("ruleengine", conf); err != nil {
		return nil, fmt.Errorf("config.FromEnviron: %s", err)
	}
	return conf, nil
}

// FileConfig is the YAML-file counterpart of EnvConfig, for operators
// who prefer a checked-in config file over an environment block.
type FileConfig struct {
	PromotionThreshold uint64 `yaml:"promotion_threshold"`
	MaxCacheEntries    int    `yaml:"max_cache_entries"`

	NoTiming   bool   `yaml:"no_timing"`
	Verbosity  string `yaml:"verbosity"`
	Logging    string `yaml:"logging"`
	CacheTTL   string `yaml:"cache_ttl"`
	Deadline   string `yaml:"evaluation_deadline"`
	ScriptTime string `yaml:"script_timeout"`

	StorageType   string `yaml:"storage"`
	StorageConfig string `yaml:"storage_config"`

	HttpAddr string `yaml:"http_addr"`
}

// FromFile loads a FileConfig from a YAML file at path.
func FromFile(path string) (*FileConfig, error) {
	bs, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.FromFile: reading %s: %s", path, err)
	}
	conf := &FileConfig{}
	if err := yaml.Unmarshal(bs, conf); err != nil {
		return nil, fmt.Errorf("config.FromFile: parsing %s: %s", path, err)
	}
	return conf, nil
}

// ToCoreConfig builds a core.Config from an EnvConfig, falling back
// to core.Config's own defaults for zero values.
func (e *EnvConfig) ToCoreConfig() *core.Config {
	c := core.DefaultConfig()
	if e.PromotionThreshold != 0 {
		c.PromotionThreshold = e.PromotionThreshold
	}
	c.MaxCacheEntries = e.MaxCacheEntries
	return c
}

// ToControl builds a core.Control from an EnvConfig, parsing its
// duration fields and verbosity string through core's own parsers so
// a bad value surfaces as an error here rather than a silently
// mis-tuned process.
func (e *EnvConfig) ToControl() (*core.Control, error) {
	c := core.DefaultControl()
	c.NoTiming = e.NoTiming
	c.Logging = e.Logging

	v, err := core.ParseVerbosity(e.Verbosity)
	if err != nil {
		return nil, fmt.Errorf("config: bad verbosity %q: %s", e.Verbosity, err)
	}
	c.Verbosity = v

	if d, err := parseDuration(e.CacheTTL); err != nil {
		return nil, fmt.Errorf("config: bad cache-ttl %q: %s", e.CacheTTL, err)
	} else {
		c.CacheTTL = d
	}
	if d, err := parseDuration(e.Deadline); err != nil {
		return nil, fmt.Errorf("config: bad evaluation-deadline %q: %s", e.Deadline, err)
	} else {
		c.EvaluationDeadline = d
	}
	if d, err := parseDuration(e.ScriptTime); err != nil {
		return nil, fmt.Errorf("config: bad script-timeout %q: %s", e.ScriptTime, err)
	} else {
		c.ScriptTimeout = d
	}
	return c, nil
}

func parseDuration(s string) (core.Duration, error) {
	if s == "" {
		return core.Duration(0), nil
	}
	var d core.Duration
	if err := d.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return core.Duration(0), err
	}
	return d, nil
}
