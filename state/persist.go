package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Persisted state file layout:
//
//	{
//	  "variables": { name: {metadata, value, default, value_type} },
//	  "groups":    { name: {name, description, variables} },
//	  "timestamp": ISO-8601
//	}
//
// Validators are code and are not persisted; loaded variables carry no
// validator until one is reattached.

type varMetaRecord struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Scope       string    `json:"scope"`
	Permission  string    `json:"permission"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Owner       string    `json:"owner,omitempty"`
	AccessList  []string  `json:"access_list"`
	TTLSeconds  float64   `json:"ttl,omitempty"`
}

type varRecord struct {
	Metadata  varMetaRecord `json:"metadata"`
	Value     any           `json:"value"`
	Default   any           `json:"default"`
	ValueType string        `json:"value_type"`
}

type groupRecord struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Variables   map[string]struct{} `json:"variables"`
}

type stateFile struct {
	Variables map[string]varRecord   `json:"variables"`
	Groups    map[string]groupRecord `json:"groups"`
	Timestamp time.Time              `json:"timestamp"`
}

// Save writes the full store (variables and groups) to filename. A bare
// filename is resolved against the store's persistence directory. The write
// is atomic: data goes to a temp file first, then renames over the target.
func (s *Store) Save(filename string) error {
	s.mu.Lock()
	file := stateFile{
		Variables: make(map[string]varRecord, len(s.vars)),
		Groups:    make(map[string]groupRecord, len(s.groups)),
		Timestamp: s.now().UTC(),
	}
	for name, v := range s.vars {
		file.Variables[name] = varRecord{
			Metadata: varMetaRecord{
				Name:        v.Name,
				Description: v.Description,
				Scope:       string(v.Scope),
				Permission:  string(v.Permission),
				Tags:        v.Tags,
				CreatedAt:   v.CreatedAt,
				UpdatedAt:   v.UpdatedAt,
				Owner:       v.Owner,
				AccessList:  v.AccessList,
				TTLSeconds:  v.TTL.Seconds(),
			},
			Value:     v.value,
			Default:   v.def,
			ValueType: string(v.valueType),
		}
	}
	for name, g := range s.groups {
		members := make(map[string]struct{}, len(g.members))
		for m := range g.members {
			members[m] = struct{}{}
		}
		file.Groups[name] = groupRecord{Name: g.Name, Description: g.Description, Variables: members}
	}
	dir := s.dir
	s.mu.Unlock()

	path := resolvePath(dir, filename, "state.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Load replaces the store's variables and groups with the contents of
// filename. Hooks and the change history are preserved.
func (s *Store) Load(filename string) error {
	s.mu.Lock()
	dir := s.dir
	s.mu.Unlock()

	path := resolvePath(dir, filename, "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode state file %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars = make(map[string]*Variable, len(file.Variables))
	s.groups = make(map[string]*Group, len(file.Groups))
	for name, rec := range file.Variables {
		v, err := variableFromRecord(rec)
		if err != nil {
			s.logger.Warn("skipping unloadable variable", "variable", name, "error", err)
			continue
		}
		s.vars[name] = v
	}
	for name, rec := range file.Groups {
		g := NewGroup(rec.Name, rec.Description)
		for m := range rec.Variables {
			if _, ok := s.vars[m]; ok {
				g.add(m)
			}
		}
		s.groups[name] = g
	}
	return nil
}

func variableFromRecord(rec varRecord) (*Variable, error) {
	vt, err := ParseValueType(rec.ValueType)
	if err != nil {
		vt = TypeAny
	}
	value := normalizeJSON(rec.Value, vt)
	def := normalizeJSON(rec.Default, vt)
	v := &Variable{
		Name:        rec.Metadata.Name,
		Description: rec.Metadata.Description,
		Scope:       Scope(rec.Metadata.Scope),
		Permission:  Permission(rec.Metadata.Permission),
		Tags:        rec.Metadata.Tags,
		Owner:       rec.Metadata.Owner,
		AccessList:  rec.Metadata.AccessList,
		TTL:         time.Duration(rec.Metadata.TTLSeconds * float64(time.Second)),
		CreatedAt:   rec.Metadata.CreatedAt,
		UpdatedAt:   rec.Metadata.UpdatedAt,
		value:       value,
		def:         def,
		valueType:   vt,
	}
	if v.Name == "" {
		return nil, fmt.Errorf("variable record has no name")
	}
	return v, nil
}

// normalizeJSON reconciles encoding/json's float64 decoding with the
// recorded value type so a save/load round trip preserves integer values.
func normalizeJSON(v any, vt ValueType) any {
	if v == nil {
		return nil
	}
	if vt == TypeInteger {
		if c, ok := Coerce(v, TypeInteger); ok {
			return c
		}
	}
	return v
}

func resolvePath(dir, filename, fallback string) string {
	if filename == "" {
		filename = fallback
	}
	if filepath.IsAbs(filename) || dir == "" {
		return filename
	}
	return filepath.Join(dir, filename)
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
