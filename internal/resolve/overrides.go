package resolve

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Overrides pins ancestor names to canonical horse ids. The matcher abstains
// on ambiguous names rather than guess; an operator who has resolved a name
// by hand records the verdict here so every future sighting links.
type Overrides struct {
	byName map[string]string
}

// LoadOverrides reads a pinned-match file. Keys are horse names as they
// appear in pedigree data (normalization is applied on load), values are
// canonical horse ids.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read overrides %s", path)
	}

	// The YAML has a top-level "overrides" key
	var wrapper struct {
		Overrides map[string]string `yaml:"overrides"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "resolve: parse overrides")
	}

	o := &Overrides{byName: make(map[string]string, len(wrapper.Overrides))}
	for name, id := range wrapper.Overrides {
		norm := NormalizeName(name)
		if norm == "" || id == "" {
			return nil, eris.Errorf("resolve: invalid override %q: %q", name, id)
		}
		if existing, ok := o.byName[norm]; ok && existing != id {
			return nil, eris.Errorf("resolve: conflicting overrides for %q", name)
		}
		o.byName[norm] = id
	}
	return o, nil
}

// Lookup returns the pinned horse id for a normalized name.
func (o *Overrides) Lookup(nameNorm string) (string, bool) {
	if o == nil {
		return "", false
	}
	id, ok := o.byName[nameNorm]
	return id, ok
}

// Len reports the number of pinned names.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	return len(o.byName)
}
