package config

import (
	pkgconfig "github.com/lewisedginton/mesh_llm_relay/pkg/config"
)

// Load reads the optional YAML file at path, overlays the environment and
// applies defaults before validating.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := pkgconfig.GetConfig(&cfg, path, false); err != nil {
		return nil, err
	}
	return &cfg, nil
}
