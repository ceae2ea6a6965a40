package e2e

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/iaasstore/restmailer/userconfig"
)

// appConfigOptions is used to fill in a config template with details unique
// to a specific test environment. Keep this as small as possible so the
// input remains as close to a "real" YAML document as we can make it.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	AuthTokens []string
	RuntimeDir string
}

// createUserConfig renders a configuration document the way an operator
// would write one and runs it through the usual parsing and validation, so
// the e2e tests cover the config path along with everything else.
func createUserConfig(opts appConfigOptions) (userconfig.Meta, error) {
	configTemplate := `---
mail:
  domain: sender.example.com
  serverName: gw.sender.example.com
  connectTimeout: 5s
  sendTimeout: 30s
  ignoreStarttlsCert: true
  maxConcurrent: 4
http:
  listenHost: 127.0.0.1
  maxBody: 1MiB
  docsEnabled: true
{{- if .AuthTokens }}
  authTokens:
{{- range .AuthTokens }}
    - {{ . }}
{{- end }}
{{- end }}
runtime:
  retention: 1h
  cleanupInterval: 10m
{{- if .RuntimeDir }}
  dir: {{ .RuntimeDir }}
{{- end }}
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	m, err := userconfig.Parse(&config)
	if err != nil {
		return userconfig.Meta{}, fmt.Errorf("couldn't parse the rendered config: %v", err)
	}

	return m.CheckAndSetDefaults()
}
