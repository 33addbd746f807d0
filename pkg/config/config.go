package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".kmem"
	configFile string = "config.yml"

	// configDirEnv overrides the directory holding config.yml and the
	// console history.
	configDirEnv = "KMEM_CONFIG_DIR"
)

// Address is a 64-bit address that can be written in YAML either as an
// integer or as a hexadecimal string ("0xfffffff007004000").
type Address uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var n uint64
		if err := unmarshal(&n); err != nil {
			return err
		}
		*a = Address(n)
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", s, err)
	}
	*a = Address(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Address) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%#x", uint64(a)), nil
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Variant selects the rtclock_datap offset used by the kernel base
	// scan. One of "auto", "arm64" or "arm64e".
	Variant string `yaml:"variant,omitempty"`

	// LinkAddress is the unslid kernel link address.
	LinkAddress *Address `yaml:"link-address,omitempty"`

	// ChunkSize lowers the per call transfer size. Values above the
	// transport limit are ignored.
	ChunkSize int `yaml:"chunk-size,omitempty"`

	// PageSize overrides the kernel page size reported by the backend.
	PageSize int `yaml:"page-size,omitempty"`

	// Extended and ShowGaps set the default region listing mode.
	Extended bool `yaml:"extended"`
	ShowGaps bool `yaml:"show-gaps"`

	// TagLabels adds to or replaces entries of the allocation tag table.
	TagLabels map[int]string `yaml:"tag-labels,omitempty"`

	// Console command aliases.
	Aliases map[string][]string `yaml:"aliases"`
}

// Validate reports configuration values that can never work.
func (c *Config) Validate() error {
	switch c.Variant {
	case "", "auto", "arm64", "arm64e":
	default:
		return fmt.Errorf("unknown variant %q (want auto, arm64 or arm64e)", c.Variant)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk-size must not be negative")
	}
	if c.PageSize < 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page-size must be a power of two")
	}
	for tag := range c.TagLabels {
		if tag < 0 || tag > 255 {
			return fmt.Errorf("tag-labels: tag %d out of range", tag)
		}
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes and validates a configuration document.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return &Config{}, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for kmem and kmap.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Which rtclock_datap offset the kernel base scan uses: auto, arm64 or arm64e.
# variant: auto

# Unslid kernel link address.
# link-address: 0xfffffff007004000

# Bytes moved per vm_read/vm_write call, at most 4095.
# chunk-size: 4095

# Kernel page size used by the kernel base scan.
# page-size: 16384

# Default region listing mode.
extended: false
show-gaps: false

# Extra allocation tag labels.
# tag-labels:
#   240: "?/custom"

# Provided aliases will be added to the default aliases for a given console command.
aliases:
  # command: ["alias1", "alias2"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return filepath.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
