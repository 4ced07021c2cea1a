package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration. Environment variables take precedence over it.
type File struct {
	Server struct {
		Port           string   `yaml:"port"`
		BaseURL        string   `yaml:"base_url"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	API struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"api"`
	Provider struct {
		URL          string   `yaml:"url"`
		Realm        string   `yaml:"realm"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Strategy     string   `yaml:"strategy"`
		Scopes       []string `yaml:"scopes"`
		Timeout      string   `yaml:"timeout"`
	} `yaml:"provider"`
	Session struct {
		PollInterval string `yaml:"poll_interval"`
		RefreshSkew  string `yaml:"refresh_skew"`

		ProfileIdleTimeout string `yaml:"profile_idle_timeout"`
	} `yaml:"session"`
	Storage struct {
		Dir          string `yaml:"dir"`
		Key          string `yaml:"key"`
		RedisAddr    string `yaml:"redis_addr"`
		RedisProfile string `yaml:"redis_profile"`
	} `yaml:"storage"`
	Admin struct {
		Realm        string `yaml:"realm"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"admin"`
}

// Load reads a YAML configuration file. A missing file yields the environment-only configuration.
func Load(path string) (Config, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("[config Load] read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("[config Load] parse %s: %w", path, err)
	}
	return newConfig(&f), nil
}
