package plan

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk override format:
//
//	plans:
//	  - tier: free
//	    limits:
//	      courses: 3
//	      quizzes: 5
type catalogFile struct {
	Plans []Definition `yaml:"plans"`
}

// LoadYAML reads a catalog override from r.
// The file must describe a complete catalog; partial overrides are rejected
// by the same validation as the compiled-in defaults.
func LoadYAML(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}
	if len(f.Plans) == 0 {
		return nil, errors.Join(ErrFailedToLoad, errors.New("no plans defined"))
	}

	return NewCatalog(f.Plans...)
}

// LoadYAMLFile reads a catalog override from the given path.
func LoadYAMLFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	return LoadYAML(f)
}
