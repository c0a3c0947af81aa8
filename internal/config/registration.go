package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Registration is the subset of the Matrix appservice registration file
// the bridge needs at runtime. Writing the file is the deployment's job;
// the bridge only reads it.
type Registration struct {
	ID              string        `yaml:"id"`
	ASToken         string        `yaml:"as_token"`
	HSToken         string        `yaml:"hs_token"`
	SenderLocalpart string        `yaml:"sender_localpart"`
	URL             string        `yaml:"url"`
	Namespaces      RegNamespaces `yaml:"namespaces"`
}

// RegNamespaces lists the namespaces the appservice claims.
type RegNamespaces struct {
	Users   []RegNamespace `yaml:"users"`
	Aliases []RegNamespace `yaml:"aliases"`
	Rooms   []RegNamespace `yaml:"rooms"`
}

// RegNamespace is one claimed regex namespace.
type RegNamespace struct {
	Exclusive bool   `yaml:"exclusive"`
	Regex     string `yaml:"regex"`
}

// LoadRegistration parses an appservice registration YAML file.
func LoadRegistration(path string) (*Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration: %w", err)
	}

	var reg Registration
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registration: %w", err)
	}
	if reg.ASToken == "" || reg.HSToken == "" {
		return nil, fmt.Errorf("registration is missing as_token or hs_token")
	}
	return &reg, nil
}
