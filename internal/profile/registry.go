package profile

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/alvarorichard/cimaresolver/internal/util"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed sites/*.yaml
var builtin embed.FS

// ErrUnknownSite is returned by Get for an unregistered site id
var ErrUnknownSite = errors.New("unknown site")

// Registry maps site identifiers to profiles
type Registry struct {
	profiles map[string]*SiteProfile
}

// NewRegistry builds a registry from already constructed profiles. Later
// profiles replace earlier ones with the same id.
func NewRegistry(profiles ...*SiteProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]*SiteProfile, len(profiles))}
	for _, p := range profiles {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		p.applyDefaults()
		if err := p.validate(); err != nil {
			return nil, err
		}
		r.profiles[p.ID] = p
	}
	return r, nil
}

// Load reads every *.yaml / *.yml file at the root of fsys
func Load(fsys fs.FS) (*Registry, error) {
	profiles, err := readProfiles(fsys, ".")
	if err != nil {
		return nil, err
	}
	return NewRegistry(profiles...)
}

// Default returns the built-in profiles with environment overrides applied
func Default() (*Registry, error) {
	return LoadWithOverrides("")
}

// LoadWithOverrides loads the built-in profiles, then the profiles found in
// dir (when non-empty) which replace built-ins with the same id, then
// applies CIMA_<ID>_BASE_URL and CIMA_<ID>_FALLBACK from the environment.
func LoadWithOverrides(dir string) (*Registry, error) {
	profiles, err := readProfiles(builtin, "sites")
	if err != nil {
		return nil, err
	}

	if dir != "" {
		extra, err := readProfiles(os.DirFS(dir), ".")
		if err != nil {
			return nil, errors.Wrapf(err, "load profiles from %s", dir)
		}
		profiles = append(profiles, extra...)
	}

	for _, p := range profiles {
		applyEnv(p)
	}
	return NewRegistry(profiles...)
}

func readProfiles(fsys fs.FS, dir string) ([]*SiteProfile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrap(err, "read profile directory")
	}

	var profiles []*SiteProfile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		var p SiteProfile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		util.Debug("Loaded site profile", "id", p.ID, "file", name)
		profiles = append(profiles, &p)
	}
	return profiles, nil
}

func envKey(id, field string) string {
	id = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
	return "CIMA_" + id + "_" + field
}

func applyEnv(p *SiteProfile) {
	if v, ok := os.LookupEnv(envKey(p.ID, "BASE_URL")); ok && v != "" {
		util.Debug("Base URL overridden from environment", "site", p.ID, "url", v)
		p.BaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := os.LookupEnv(envKey(p.ID, "FALLBACK")); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			p.Fallback = b
		}
	}
}

// Get returns the profile registered under id
func (r *Registry) Get(id string) (*SiteProfile, error) {
	p, ok := r.profiles[strings.ToLower(id)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSite, "%q", id)
	}
	return p, nil
}

// IDs returns the registered site ids in sorted order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every profile ordered by id
func (r *Registry) All() []*SiteProfile {
	var all []*SiteProfile
	for _, id := range r.IDs() {
		all = append(all, r.profiles[id])
	}
	return all
}
