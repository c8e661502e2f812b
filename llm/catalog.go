package llm

import (
	"fmt"
	"strings"
)

// regionPrefixes are the geography qualifiers Bedrock uses for
// cross-region inference profile IDs.
var regionPrefixes = []string{"us-gov.", "us.", "eu.", "apac.", "global."}

// regionPrefix returns the inference-profile prefix of a model ID, or "".
func regionPrefix(modelID string) string {
	for _, p := range regionPrefixes {
		if strings.HasPrefix(modelID, p) {
			return p
		}
	}
	return ""
}

// BareModelID strips any inference-profile region prefix from a model ID.
func BareModelID(modelID string) string {
	return strings.TrimPrefix(modelID, regionPrefix(modelID))
}

// ProfilePrefixForRegion returns the inference-profile prefix for an AWS
// region, or "" when the region has no known geography (ca-, sa-, me-, ...).
func ProfilePrefixForRegion(region string) string {
	switch {
	case strings.HasPrefix(region, "us-gov-"):
		return "us-gov."
	case strings.HasPrefix(region, "us-"):
		return "us."
	case strings.HasPrefix(region, "eu-"):
		return "eu."
	case strings.HasPrefix(region, "ap-"):
		return "apac."
	default:
		return ""
	}
}

// Catalog is an immutable model lookup table keyed by friendly name, alias
// and model ID. Lookups are case-insensitive.
type Catalog struct {
	entries []ModelCatalogEntry
	byName  map[string]int
	byID    map[string]int
	byBare  map[string]int // bare IDs of profile-only models
}

// NewCatalog builds a catalog, rejecting entries that break the
// inference-profile invariant or reuse a name.
func NewCatalog(entries ...ModelCatalogEntry) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]int),
		byID:   make(map[string]int),
		byBare: make(map[string]int),
	}
	for _, e := range entries {
		if err := c.add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var defaultCatalog = mustCatalog(defaultEntries())

func mustCatalog(entries []ModelCatalogEntry) *Catalog {
	c, err := NewCatalog(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the built-in Bedrock model catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c *Catalog) add(e ModelCatalogEntry) error {
	if strings.TrimSpace(e.FriendlyName) == "" {
		return fmt.Errorf("catalog entry for %q has no friendly name", e.ModelID)
	}
	if strings.TrimSpace(e.ModelID) == "" {
		return fmt.Errorf("catalog entry %q has no model ID", e.FriendlyName)
	}
	if _, ok := providerNames[e.Provider]; !ok {
		return fmt.Errorf("catalog entry %q has unknown provider %d", e.FriendlyName, int(e.Provider))
	}
	if e.RequiresInferenceProfile && regionPrefix(e.ModelID) == "" {
		return &Error{
			Code:  CodeUnsupportedInvocationMode,
			Msg:   fmt.Sprintf("catalog entry %q requires an inference profile but %q has no region prefix", e.FriendlyName, e.ModelID),
			Model: e.ModelID,
		}
	}

	idx := len(c.entries)
	names := append([]string{e.FriendlyName}, e.Aliases...)
	for _, n := range names {
		key := normalizeName(n)
		if key == "" {
			continue
		}
		if prev, ok := c.byName[key]; ok {
			return fmt.Errorf("catalog name %q used by both %q and %q", n, c.entries[prev].FriendlyName, e.FriendlyName)
		}
		c.byName[key] = idx
	}
	c.byID[normalizeName(e.ModelID)] = idx
	if e.RequiresInferenceProfile {
		bare := normalizeName(BareModelID(e.ModelID))
		if _, ok := c.byBare[bare]; !ok {
			c.byBare[bare] = idx
		}
	}

	e.Aliases = append([]string(nil), e.Aliases...)
	c.entries = append(c.entries, e)
	return nil
}

// Resolve looks up a friendly name, alias or model ID.
//
// A bare model ID whose family requires an inference profile fails with
// unsupported_invocation_mode. A profile ID for another geography of a known
// model resolves to that entry with the requested ID.
func (c *Catalog) Resolve(name string) (ModelCatalogEntry, error) {
	key := normalizeName(name)
	if idx, ok := c.byName[key]; ok {
		return c.entry(idx), nil
	}
	if idx, ok := c.byID[key]; ok {
		return c.entry(idx), nil
	}

	prefix := regionPrefix(key)
	bare := strings.TrimPrefix(key, prefix)
	if idx, ok := c.byBare[bare]; ok {
		if prefix == "" {
			e := c.entries[idx]
			return ModelCatalogEntry{}, &Error{
				Code:  CodeUnsupportedInvocationMode,
				Msg:   fmt.Sprintf("%q cannot be invoked on demand; use the inference profile %q", name, e.ModelID),
				Model: name,
			}
		}
		e := c.entry(idx)
		e.ModelID = strings.TrimSpace(name)
		return e, nil
	}

	return ModelCatalogEntry{}, &Error{
		Code:  CodeUnknownModel,
		Msg:   fmt.Sprintf("model %q is not in the catalog", name),
		Model: name,
	}
}

// ResolveForRegion resolves name and moves a "us." inference profile to the
// geography serving region. Only lookups by friendly name or alias are
// rewritten; explicit model IDs, entries pinned to another geography
// (such as "Claude 3.5 Haiku (EU)") and regions with no known geography are
// returned unchanged.
func (c *Catalog) ResolveForRegion(name, region string) (ModelCatalogEntry, error) {
	e, err := c.Resolve(name)
	if err != nil {
		return e, err
	}
	if _, byName := c.byName[normalizeName(name)]; !byName || region == "" {
		return e, nil
	}
	prefix := ProfilePrefixForRegion(region)
	if prefix != "" && e.RequiresInferenceProfile && regionPrefix(e.ModelID) == "us." {
		e.ModelID = prefix + BareModelID(e.ModelID)
	}
	return e, nil
}

// Entries returns all catalog entries in insertion order.
func (c *Catalog) Entries() []ModelCatalogEntry {
	out := make([]ModelCatalogEntry, 0, len(c.entries))
	for i := range c.entries {
		out = append(out, c.entry(i))
	}
	return out
}

// ByProvider returns the entries of one model family.
func (c *Catalog) ByProvider(p Provider) []ModelCatalogEntry {
	var out []ModelCatalogEntry
	for i, e := range c.entries {
		if e.Provider == p {
			out = append(out, c.entry(i))
		}
	}
	return out
}

// Merge returns a new catalog where overrides replace entries with the same
// friendly name and any other overrides are appended.
func (c *Catalog) Merge(overrides ...ModelCatalogEntry) (*Catalog, error) {
	replaced := make(map[string]ModelCatalogEntry, len(overrides))
	for _, o := range overrides {
		replaced[normalizeName(o.FriendlyName)] = o
	}

	merged := make([]ModelCatalogEntry, 0, len(c.entries)+len(overrides))
	for _, e := range c.entries {
		key := normalizeName(e.FriendlyName)
		if o, ok := replaced[key]; ok {
			merged = append(merged, o)
			delete(replaced, key)
			continue
		}
		merged = append(merged, e)
	}
	for _, o := range overrides {
		if _, ok := replaced[normalizeName(o.FriendlyName)]; ok {
			merged = append(merged, o)
		}
	}
	return NewCatalog(merged...)
}

func (c *Catalog) entry(idx int) ModelCatalogEntry {
	e := c.entries[idx]
	e.Aliases = append([]string(nil), e.Aliases...)
	return e
}
