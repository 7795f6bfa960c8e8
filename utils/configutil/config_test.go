package configutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/validator.v2"
)

type engineConfig struct {
	Addr     string        `yaml:"addr" validate:"nonzero"`
	MaxPeers int           `yaml:"max_peers" validate:"min=1"`
	Secrets  []string
	Storage  storageConfig `yaml:"storage"`
}

type storageConfig struct {
	Source string `yaml:"source"`
}

const goodConfig = `
addr: localhost:8080
max_peers: 50
storage:
  source: /var/lib/hypertube.db
Secrets:
  - s1
  - s2
`

const invalidConfig = `
addr:
max_peers: 0
`

const extendsConfig = `
extends: %s
max_peers: 75
`

func writeFile(t *testing.T, contents string) string {
	f, err := os.CreateTemp("", "configutil-test")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestLoadParsesYAML(t *testing.T) {
	fname := writeFile(t, goodConfig)
	defer os.Remove(fname)

	var cfg engineConfig
	require.NoError(t, Load(fname, &cfg))
	require.Equal(t, "localhost:8080", cfg.Addr)
	require.Equal(t, 50, cfg.MaxPeers)
	require.Equal(t, "/var/lib/hypertube.db", cfg.Storage.Source)
	require.Equal(t, []string{"s1", "s2"}, cfg.Secrets)
}

func TestLoadValidatesOnce(t *testing.T) {
	fname := writeFile(t, invalidConfig)
	defer os.Remove(fname)

	var cfg engineConfig
	err := Load(fname, &cfg)
	require.Error(t, err)

	verr, ok := err.(ValidationError)
	require.True(t, ok)
	require.Equal(t, validator.ErrorArray{validator.ErrZeroValue}, verr.ErrForField("Addr"))
	require.Equal(t, validator.ErrorArray{validator.ErrMin}, verr.ErrForField("MaxPeers"))
}

func TestLoadMissingFile(t *testing.T) {
	var cfg engineConfig
	require.Error(t, Load("./does-not-exist.yaml", &cfg))
}

func TestLoadExtendsMergesBaseFirst(t *testing.T) {
	base := writeFile(t, goodConfig)
	defer os.Remove(base)

	extends := fmt.Sprintf(extendsConfig, filepath.Base(base))
	extendsFile := writeFile(t, extends)
	defer os.Remove(extendsFile)

	var cfg engineConfig
	require.NoError(t, Load(extendsFile, &cfg))
	require.Equal(t, "localhost:8080", cfg.Addr)
	require.Equal(t, 75, cfg.MaxPeers)
}

func TestResolveExtendsDetectsCycle(t *testing.T) {
	targets := map[string]string{
		"/configs/a": "b",
		"/configs/b": "a",
	}
	fn := func(filename string) (string, error) {
		return targets[filename], nil
	}

	_, err := resolveExtends("/configs/a", fn)
	require.Equal(t, ErrCycleRef, err)
}

func TestResolveExtendsOrdersBaseBeforeChild(t *testing.T) {
	targets := map[string]string{
		"/configs/a": "/etc/b",
		"/etc/b":     "c",
	}
	fn := func(filename string) (string, error) {
		return targets[filename], nil
	}

	filenames, err := resolveExtends("/configs/a", fn)
	require.NoError(t, err)
	require.Equal(t, []string{"/etc/c", "/etc/b", "/configs/a"}, filenames)
}
