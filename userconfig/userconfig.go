package userconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"

	"github.com/iaasstore/restmailer/api"
	"github.com/iaasstore/restmailer/mailer"
	"github.com/iaasstore/restmailer/storage"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Mail mailer.Config `yaml:"mail"`
	HTTP api.Config    `yaml:"http"`
	// Runtime configures the store that delivery records live in.
	Runtime storage.KVConfig `yaml:"runtime"`
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	mc, err := m.Mail.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Mail = mc

	hc, err := m.HTTP.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.HTTP = hc

	rc, err := m.Runtime.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Runtime = rc

	return c, nil
}

// Parse reads a user-provided YAML configuration without validating it: the
// environment may still fill required fields the file leaves out. An error
// indicates a problem with parsing.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}
	return &m, nil
}

// LoadEnvFiles overlays .env and then .env.example onto the process
// environment. godotenv never overwrites a variable that is already set, so
// the precedence ends up: process environment, then .env, then .env.example.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.example"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("can't load the env file")
		}
	}
}

// Load builds the validated runtime configuration: the optional YAML file
// first, the environment on top, then defaults. path may be empty to run on
// environment variables alone.
func Load(path string) (Meta, error) {
	m := &Meta{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Meta{}, fmt.Errorf("can't open the config file: %v", err)
		}
		defer f.Close()

		if m, err = Parse(f); err != nil {
			return Meta{}, err
		}
	}

	// Only variables that are actually set overwrite file values.
	if err := cleanenv.ReadEnv(m); err != nil {
		return Meta{}, fmt.Errorf("can't read the configuration from the environment: %v", err)
	}

	return m.CheckAndSetDefaults()
}
