package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/ini.v1"

	pm "github.com/steelcutops/toolupdater/toolupdater/packagemanager"
)

const defaultPath = "~/.config/toolupdater/config.ini"

type Config struct {
	Runtime  RuntimeConfig  `ini:"runtime"`
	Listing  ListingConfig  `ini:"listing"`
	Probe    ProbeConfig    `ini:"probe"`
	Apply    ApplyConfig    `ini:"apply"`
	Remote   RemoteConfig   `ini:"remote"`
	Packages PackagesConfig `ini:"packages"`
}

type RuntimeConfig struct {
	Binary    string        `ini:"binary"`
	ListArgs  string        `ini:"list_args"`
	ProbeArgs string        `ini:"probe_args"`
	ApplyArgs string        `ini:"apply_args"`
	Env       []string      `ini:"env" delim:","`
	Sudo      bool          `ini:"sudo"`
	Timeout   time.Duration `ini:"timeout"`
}

type ListingConfig struct {
	HeaderToken string `ini:"header_token"`
	SkipRows    int    `ini:"skip_rows"`
}

type ProbeConfig struct {
	Marker     string `ini:"marker"`
	IgnoreCase bool   `ini:"ignore_case"`
	Pattern    string `ini:"pattern"`
}

type ApplyConfig struct {
	Classify string `ini:"classify"`
}

type RemoteConfig struct {
	Hostname              string `ini:"hostname"`
	Port                  int    `ini:"port"`
	User                  string `ini:"user"`
	KnownHosts            string `ini:"known_hosts"`
	InsecureIgnoreHostKey bool   `ini:"insecure_ignore_host_key"`
}

type PackagesConfig struct {
	Exclude []string `ini:"exclude" delim:","`
}

// ValidationError reports a config value that cannot be used.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Default returns the configuration for .NET global tools on the local machine.
func Default() Config {
	commands := pm.DefaultCommands()
	parser := pm.DefaultListingParser()
	return Config{
		Runtime: RuntimeConfig{
			Binary:    commands.Binary,
			ListArgs:  commands.ListArgs,
			ProbeArgs: commands.ProbeArgs,
			ApplyArgs: commands.ApplyArgs,
		},
		Listing: ListingConfig{
			HeaderToken: parser.HeaderToken,
			SkipRows:    parser.SkipRows,
		},
		Probe: ProbeConfig{
			Marker:     pm.DefaultUpdateMarker,
			IgnoreCase: true,
		},
		Apply: ApplyConfig{
			Classify: string(pm.ClassifyStderr),
		},
		Remote: RemoteConfig{
			Hostname: "localhost",
			Port:     22,
		},
	}
}

func DefaultPath() (string, error) {
	return homedir.Expand(defaultPath)
}

// Load reads the INI file at path on top of the defaults. An empty path means
// the default location, which is allowed to be missing.
func Load(path string) (Config, error) {
	optional := path == ""
	if optional {
		p, err := DefaultPath()
		if err != nil {
			return Default(), err
		}
		path = p
	} else {
		p, err := homedir.Expand(path)
		if err != nil {
			return Default(), err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse maps INI data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	// Command lines routinely contain ';' and '#', so only whole line comments count.
	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return cfg, fmt.Errorf("parse: %w", err)
	}
	if err := file.MapTo(&cfg); err != nil {
		return cfg, fmt.Errorf("map: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := c.Commands().Validate(); err != nil {
		return &ValidationError{Field: "runtime", Err: err}
	}
	if c.Runtime.Timeout < 0 {
		return &ValidationError{Field: "runtime.timeout", Err: errors.New("must not be negative")}
	}
	if c.Listing.SkipRows < 0 {
		return &ValidationError{Field: "listing.skip_rows", Err: errors.New("must not be negative")}
	}
	if _, err := c.UpdateProbe(); err != nil {
		return &ValidationError{Field: "probe", Err: err}
	}
	if _, err := c.ClassifyPolicy(); err != nil {
		return &ValidationError{Field: "apply.classify", Err: err}
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		return &ValidationError{Field: "remote.port", Err: fmt.Errorf("%d is out of range", c.Remote.Port)}
	}
	return nil
}

func (c Config) Commands() pm.Commands {
	env := make([]string, 0, len(c.Runtime.Env))
	for _, kv := range c.Runtime.Env {
		if kv = strings.TrimSpace(kv); kv != "" {
			env = append(env, kv)
		}
	}
	return pm.Commands{
		Binary:    c.Runtime.Binary,
		ListArgs:  c.Runtime.ListArgs,
		ProbeArgs: c.Runtime.ProbeArgs,
		ApplyArgs: c.Runtime.ApplyArgs,
		Env:       env,
		Sudo:      c.Runtime.Sudo,
		Timeout:   c.Runtime.Timeout,
	}
}

func (c Config) ListingParser() pm.ListingParser {
	return pm.ListingParser{HeaderToken: c.Listing.HeaderToken, SkipRows: c.Listing.SkipRows}
}

// UpdateProbe builds the probe; a pattern takes precedence over the marker.
func (c Config) UpdateProbe() (pm.UpdateProbe, error) {
	if c.Probe.Pattern != "" {
		matcher, err := pm.NewRegexMatcher(c.Probe.Pattern)
		if err != nil {
			return pm.UpdateProbe{}, fmt.Errorf("pattern: %w", err)
		}
		return pm.UpdateProbe{Matcher: matcher}, nil
	}
	if strings.TrimSpace(c.Probe.Marker) == "" {
		return pm.UpdateProbe{}, errors.New("marker or pattern is required")
	}
	return pm.UpdateProbe{Matcher: pm.SubstringMatcher{Substring: c.Probe.Marker, IgnoreCase: c.Probe.IgnoreCase}}, nil
}

func (c Config) ClassifyPolicy() (pm.ClassifyPolicy, error) {
	return pm.ParseClassifyPolicy(c.Apply.Classify)
}

// Excluded returns the exclude list without blank entries.
func (c Config) Excluded() []string {
	var out []string
	for _, name := range c.Packages.Exclude {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
