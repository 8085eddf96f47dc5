package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoChat Configuration File
#
# Every value below is the built-in default. Any key may be overridden with
# an environment variable: DITTOCHAT_<SECTION>_<KEY>, for example
# DITTOCHAT_LOGGING_LEVEL=DEBUG.
`

// sectionComments are attached above each top-level key of the sample file.
var sectionComments = map[string]string{
	"logging": "Log output. level: DEBUG, INFO, WARN, ERROR. format: text, json. output: stdout, stderr or a file path.",
	"server": "data_dir holds the state file and the default database paths.\n" +
		"state_file keeps the chosen storage settings and the sessions to restore on restart.",
	"storage": "backends are offered to the first client, which picks one during setup.\n" +
		"Set backend (and settings) to pre-select one for unattended installs.",
	"tls":      "Certificate offered to clients that ask for TLS. Relative paths resolve against server.data_dir.",
	"adapters": "Front-end client listener. max_connections bounds sockets that have not logged in yet.",
}

// InitConfig writes a sample configuration file to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one
// comment per section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping content alternates key and value nodes.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return buf.String(), nil
}
