// Package configutil loads YAML configuration files, following an
// "extends" chain of base files before validating the merged result.
// Grounded on utils/configutil's retrieved test file, which is the only
// surviving artifact of this package in the teacher repo -- the test
// cases fully pin down Load/loadFiles/resolveExtends's behavior, so this
// file reconstructs the implementation those tests describe rather than
// inventing new semantics.
package configutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned when a chain of "extends" directives loops
// back on a file already visited.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps the per-field errors produced by validating a
// loaded config against its `validate:"..."` struct tags.
type ValidationError struct {
	errs validator.ErrorMap
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", v.errs)
}

// ErrForField returns the validation errors recorded against field, or
// nil if field passed validation.
func (v ValidationError) ErrForField(field string) validator.ErrorArray {
	return v.errs[field]
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// Load reads filename, resolves and merges its "extends" chain (base
// files first, filename last so its values win), and validates the
// result.
func Load(filename string, config interface{}) error {
	filenames, err := resolveExtends(filename, readExtends)
	if err != nil {
		return err
	}
	return loadFiles(config, filenames)
}

// readExtends returns the (possibly relative) target of filename's
// "extends" field, or "" if it has none.
func readExtends(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	var stub extendsStub
	if err := yaml.Unmarshal(data, &stub); err != nil {
		return "", fmt.Errorf("invalid yaml in %s: %s", filename, err)
	}
	return stub.Extends, nil
}

// resolveExtends walks filename's "extends" chain, reporting the
// filenames from the base-most ancestor down to filename itself.
// readExtends is injected so tests can drive the chain without files on
// disk.
func resolveExtends(filename string, readExtends func(string) (string, error)) ([]string, error) {
	visited := make(map[string]bool)
	var chain []string

	current := filename
	for {
		if visited[current] {
			return nil, ErrCycleRef
		}
		visited[current] = true
		chain = append(chain, current)

		target, err := readExtends(current)
		if err != nil {
			return nil, err
		}
		if target == "" {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = target
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// loadFiles merges each file in filenames into config in order, so
// later files override fields set by earlier ones, then validates the
// merged result once.
func loadFiles(config interface{}, filenames []string) error {
	for _, fn := range filenames {
		data, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("invalid yaml in %s: %s", fn, err)
		}
	}

	if err := validator.Validate(config); err != nil {
		if errs, ok := err.(validator.ErrorMap); ok {
			return ValidationError{errs}
		}
		return err
	}
	return nil
}
