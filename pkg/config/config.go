/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// DeviceRange binds a range of USB product IDs for one vendor ID to a
// protocol name. Which adapters speak which protocol generation is pure
// configuration, not something the capture itself tells us.
type DeviceRange struct {
	VID      uint16 `json:"vid"`
	PIDLow   uint16 `json:"pid_low"`
	PIDHigh  uint16 `json:"pid_high"`
	Protocol string `json:"protocol"`
}

// Match reports whether the given vendor/product pair falls in the range.
func (r *DeviceRange) Match(vid, pid uint16) bool {
	return vid == r.VID && pid >= r.PIDLow && pid <= r.PIDHigh
}

type ApiConfig struct {
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
}

type Config struct {
	LogLevel     string         `json:"loglevel,omitempty"`
	DBPath       string         `json:"dbpath,omitempty"`
	Api          *ApiConfig     `json:"api,omitempty"`
	DeviceRanges []*DeviceRange `json:"devices"`
	filepath     string
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	err = ioutil.WriteFile(c.filepath, data, 0644)
	if err != nil {
		return err
	}

	return nil
}

// Load reads the config file if it exists. A missing file is not an error,
// the defaults simply stay in effect.
func (c *Config) Load() error {
	data, err := ioutil.ReadFile(c.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DBFile)
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		DBPath:   DefaultDBPath(),
		Api: &ApiConfig{
			Address: DefaultApiAddress,
			Port:    DefaultApiPort,
		},
		DeviceRanges: []*DeviceRange{
			{VID: VendorMCT, PIDLow: 0x5800, PIDHigh: 0x581f, Protocol: ProtocolTrigger5},
			{VID: VendorMCT, PIDLow: 0x5600, PIDHigh: 0x561f, Protocol: ProtocolTrigger6},
			{VID: VendorInsignia, PIDLow: 0x5600, PIDHigh: 0x561f, Protocol: ProtocolTrigger6},
		},
		filepath: DefaultConfigPath(),
	}
}

// ProtocolFor returns the protocol name configured for a vendor/product
// pair, or the empty string when no range matches.
func (c *Config) ProtocolFor(vid, pid uint16) string {
	for _, r := range c.DeviceRanges {
		if r.Match(vid, pid) {
			return r.Protocol
		}
	}
	return ""
}
