// Package templates embeds the default configuration file.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS

// ConfigName is the embedded default configuration file.
const ConfigName = "config.yaml"
