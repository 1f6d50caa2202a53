package engine

// Resolver defaults.
const (
	// DefaultDelimiter joins a source name and a variable name when a
	// collision is disambiguated.
	DefaultDelimiter = "_"

	// DefaultTimestampKey is the reserved record key for the cycle timestamp.
	DefaultTimestampKey = "Time"

	// maxResolvePasses bounds the number of disambiguation passes per output.
	maxResolvePasses = 8
)

// SourceVariables describes a bound source for the resolver.
type SourceVariables struct {
	Name      string
	Variables []string
}

// OutputSpec describes a bound output for the resolver.
type OutputSpec struct {
	Name              string
	RequiresTimestamp bool
}

// ResolveOptions controls name resolution.
type ResolveOptions struct {
	// Delimiter joins source and variable names. Default "_".
	Delimiter string

	// PrefixAll prefixes every name without an explicit rename with its
	// source name, whether or not it collides.
	PrefixAll bool

	// TimestampKey is reserved in outputs that require a timestamp.
	// Default "Time".
	TimestampKey string
}

func (o ResolveOptions) withDefaults() ResolveOptions {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.TimestampKey == "" {
		o.TimestampKey = DefaultTimestampKey
	}
	return o
}

// Collisions is output name -> pre-disambiguation name -> contributing
// source names, sorted.
type Collisions map[string]map[string][]string

// Tables holds the resolved, immutable mapping tables.
//
// Thread Safety: read-only after Resolve returns; safe for concurrent use.
type Tables struct {
	// Rename is source -> output -> original -> effective name.
	Rename map[string]map[string]map[string]string

	// Conversion is source -> output -> original -> target type.
	Conversion map[string]map[string]map[string]TypeTag

	// Collisions lists every collision that was auto-resolved.
	Collisions Collisions

	// EffectiveNames is source -> output -> effective names in the
	// source's declared variable order.
	EffectiveNames map[string]map[string][]string

	columns      map[string][]string
	timestampKey string
}

// Columns returns every field the output receives, in order: the
// timestamp key (if required) followed by each source's effective names in
// binding order.
func (t *Tables) Columns(output string) []string {
	cols := t.columns[output]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// TimestampKey returns the reserved timestamp key.
func (t *Tables) TimestampKey() string {
	return t.timestampKey
}

// EffectiveName returns the effective name of a variable for an output.
func (t *Tables) EffectiveName(source, output, variable string) (string, bool) {
	name, ok := t.Rename[source][output][variable]
	return name, ok
}

// TargetType returns the conversion target of a variable for an output.
func (t *Tables) TargetType(source, output, variable string) TypeTag {
	return t.Conversion[source][output][variable]
}

// HasCollisions reports whether any output needed disambiguation.
func (t *Tables) HasCollisions() bool {
	for _, names := range t.Collisions {
		if len(names) > 0 {
			return true
		}
	}
	return false
}

// resolvedName tracks one (source, variable) pair during resolution.
type resolvedName struct {
	source   string
	variable string
	name     string
	explicit bool
	prefixed bool
}

// Resolve computes the effective name and target type of every
// (source, output, variable) triple.
//
// It fails with a ConfigurationError when bindings are invalid or the
// mappings reference unknown sources, outputs or variables. Name collisions
// never fail: they are resolved by prefixing and listed in
// Tables.Collisions.
func Resolve(sources []SourceVariables, outputs []OutputSpec, rename RenameMapping, conversion ConversionMapping, opts ResolveOptions) (*Tables, error) {
	opts = opts.withDefaults()

	if err := validateBindings(sources, outputs); err != nil {
		return nil, err
	}
	if err := validateRename(rename, sources, outputs, opts.TimestampKey); err != nil {
		return nil, err
	}
	if err := validateConversion(conversion, sources, outputs); err != nil {
		return nil, err
	}

	t := &Tables{
		Rename:         make(map[string]map[string]map[string]string, len(sources)),
		Conversion:     make(map[string]map[string]map[string]TypeTag, len(sources)),
		Collisions:     make(Collisions, len(outputs)),
		EffectiveNames: make(map[string]map[string][]string, len(sources)),
		columns:        make(map[string][]string, len(outputs)),
		timestampKey:   opts.TimestampKey,
	}
	for _, src := range sources {
		t.Rename[src.Name] = make(map[string]map[string]string, len(outputs))
		t.Conversion[src.Name] = make(map[string]map[string]TypeTag, len(outputs))
		t.EffectiveNames[src.Name] = make(map[string][]string, len(outputs))
	}

	for _, out := range outputs {
		entries, collisions, err := resolveOutput(sources, out, rename, opts)
		if err != nil {
			return nil, err
		}
		t.Collisions[out.Name] = collisions

		var cols []string
		if out.RequiresTimestamp {
			cols = append(cols, opts.TimestampKey)
		}
		for _, e := range entries {
			if t.Rename[e.source][out.Name] == nil {
				t.Rename[e.source][out.Name] = make(map[string]string)
				t.Conversion[e.source][out.Name] = make(map[string]TypeTag)
			}
			t.Rename[e.source][out.Name][e.variable] = e.name
			t.Conversion[e.source][out.Name][e.variable] = conversion.Lookup(e.source, out.Name, e.variable)
			t.EffectiveNames[e.source][out.Name] = append(t.EffectiveNames[e.source][out.Name], e.name)
			cols = append(cols, e.name)
		}
		t.columns[out.Name] = cols
	}

	return t, nil
}

// resolveOutput computes the effective names for one output.
func resolveOutput(sources []SourceVariables, out OutputSpec, rename RenameMapping, opts ResolveOptions) ([]*resolvedName, map[string][]string, error) {
	var entries []*resolvedName
	byVariable := make(map[string][]*resolvedName)
	for _, src := range sources {
		for _, v := range src.Variables {
			e := &resolvedName{source: src.Name, variable: v, name: v}
			if name, ok := rename.Lookup(src.Name, out.Name, v); ok {
				e.name = name
				e.explicit = true
			}
			entries = append(entries, e)
			byVariable[v] = append(byVariable[v], e)
		}
	}

	collisions := make(map[string][]string)
	prefix := func(e *resolvedName) {
		e.name = e.source + opts.Delimiter + e.name
		e.prefixed = true
	}

	// Raw collisions: the same original variable from several sources.
	// Explicit renames take precedence over prefixing.
	for _, v := range sortedKeys(byVariable) {
		group := byVariable[v]
		if len(group) < 2 {
			continue
		}
		addCollision(collisions, v, group)
		for _, e := range group {
			if !e.explicit {
				prefix(e)
			}
		}
	}

	if opts.PrefixAll {
		for _, e := range entries {
			if !e.explicit && !e.prefixed {
				prefix(e)
			}
		}
	}

	// Remaining clashes between effective names, e.g. an explicit rename
	// onto another source's variable.
	for pass := 0; ; pass++ {
		clashes := findClashes(entries, out, opts.TimestampKey)
		if len(clashes) == 0 {
			break
		}
		if pass >= maxResolvePasses {
			name := sortedKeys(clashes)[0]
			return nil, nil, configErrorf(joinPath(out.Name, name), "cannot disambiguate effective name")
		}
		for _, name := range sortedKeys(clashes) {
			group := clashes[name]
			addCollision(collisions, name, group)

			var eligible []*resolvedName
			for _, e := range group {
				if !e.explicit && !e.prefixed {
					eligible = append(eligible, e)
				}
			}
			if len(eligible) == 0 {
				if len(uniqueSources(group)) < 2 && !(out.RequiresTimestamp && name == opts.TimestampKey) {
					return nil, nil, configErrorf(joinPath(out.Name, name), "source %q produces this effective name more than once", group[0].source)
				}
				eligible = group
			}
			for _, e := range eligible {
				prefix(e)
			}
		}
	}

	return entries, collisions, nil
}

// findClashes groups entries whose effective names are not unique. In
// outputs that require a timestamp, any use of the timestamp key clashes.
func findClashes(entries []*resolvedName, out OutputSpec, timestampKey string) map[string][]*resolvedName {
	byName := make(map[string][]*resolvedName, len(entries))
	for _, e := range entries {
		byName[e.name] = append(byName[e.name], e)
	}
	clashes := make(map[string][]*resolvedName)
	for name, group := range byName {
		if len(group) > 1 || (out.RequiresTimestamp && name == timestampKey) {
			clashes[name] = group
		}
	}
	return clashes
}

func addCollision(collisions map[string][]string, name string, group []*resolvedName) {
	set := make(map[string]struct{}, len(group)+len(collisions[name]))
	for _, s := range collisions[name] {
		set[s] = struct{}{}
	}
	for _, e := range group {
		set[e.source] = struct{}{}
	}
	collisions[name] = sortedKeys(set)
}

func uniqueSources(group []*resolvedName) []string {
	set := make(map[string]struct{}, len(group))
	for _, e := range group {
		set[e.source] = struct{}{}
	}
	return sortedKeys(set)
}

// validateBindings checks binding names and declared variables.
func validateBindings(sources []SourceVariables, outputs []OutputSpec) error {
	seen := make(map[string]bool, len(sources))
	for i, src := range sources {
		if src.Name == "" {
			return configErrorf("sources", "source #%d has an empty name", i)
		}
		if seen[src.Name] {
			return configErrorf(joinPath("sources", src.Name), "duplicate source name")
		}
		seen[src.Name] = true

		vars := make(map[string]bool, len(src.Variables))
		for _, v := range src.Variables {
			if v == "" {
				return configErrorf(joinPath("sources", src.Name), "empty variable name")
			}
			if vars[v] {
				return configErrorf(joinPath(joinPath("sources", src.Name), v), "variable declared twice")
			}
			vars[v] = true
		}
	}

	seen = make(map[string]bool, len(outputs))
	for i, out := range outputs {
		if out.Name == "" {
			return configErrorf("outputs", "output #%d has an empty name", i)
		}
		if seen[out.Name] {
			return configErrorf(joinPath("outputs", out.Name), "duplicate output name")
		}
		seen[out.Name] = true
	}
	return nil
}

func indexBindings(sources []SourceVariables, outputs []OutputSpec) (map[string]map[string]bool, map[string]OutputSpec) {
	srcVars := make(map[string]map[string]bool, len(sources))
	for _, src := range sources {
		vars := make(map[string]bool, len(src.Variables))
		for _, v := range src.Variables {
			vars[v] = true
		}
		srcVars[src.Name] = vars
	}
	outs := make(map[string]OutputSpec, len(outputs))
	for _, out := range outputs {
		outs[out.Name] = out
	}
	return srcVars, outs
}

func validateRename(rename RenameMapping, sources []SourceVariables, outputs []OutputSpec, timestampKey string) error {
	srcVars, outs := indexBindings(sources, outputs)
	for _, src := range sortedKeys(rename) {
		srcPath := joinPath("rename", src)
		vars, ok := srcVars[src]
		if !ok {
			return configErrorf(srcPath, "unknown source")
		}
		for _, dst := range sortedKeys(rename[src]) {
			dstPath := joinPath(srcPath, dst)
			out, ok := outs[dst]
			if !ok {
				return configErrorf(dstPath, "unknown output")
			}
			entries := rename[src][dst]
			for _, v := range sortedKeys(entries) {
				path := joinPath(dstPath, v)
				if !vars[v] {
					return configErrorf(path, "unknown variable")
				}
				name := entries[v]
				if name == "" {
					return configErrorf(path, "empty effective name")
				}
				if out.RequiresTimestamp && name == timestampKey {
					return configErrorf(path, "effective name %q is reserved for the timestamp", name)
				}
			}
		}
	}
	return nil
}

func validateConversion(conversion ConversionMapping, sources []SourceVariables, outputs []OutputSpec) error {
	srcVars, outs := indexBindings(sources, outputs)
	for _, src := range sortedKeys(conversion) {
		srcPath := joinPath("conversion", src)
		vars, ok := srcVars[src]
		if !ok {
			return configErrorf(srcPath, "unknown source")
		}
		for _, dst := range sortedKeys(conversion[src]) {
			dstPath := joinPath(srcPath, dst)
			if _, ok := outs[dst]; !ok {
				return configErrorf(dstPath, "unknown output")
			}
			entries := conversion[src][dst]
			for _, v := range sortedKeys(entries) {
				path := joinPath(dstPath, v)
				if !vars[v] {
					return configErrorf(path, "unknown variable")
				}
				if tag := entries[v]; tag != TypeNone {
					if _, ok := converters[tag]; !ok {
						return configErrorf(path, "unknown type %q", tag)
					}
				}
			}
		}
	}
	return nil
}
