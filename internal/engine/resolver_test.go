package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveCollisionPrefixesEveryContributor(t *testing.T) {
	sources := []SourceVariables{
		{Name: "B", Variables: []string{"temp", "humidity"}},
		{Name: "A", Variables: []string{"temp"}},
	}
	outputs := []OutputSpec{{Name: "O"}}

	tables, err := Resolve(sources, outputs, nil, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if name, _ := tables.EffectiveName("A", "O", "temp"); name != "A_temp" {
		t.Errorf("A.temp = %q, want A_temp", name)
	}
	if name, _ := tables.EffectiveName("B", "O", "temp"); name != "B_temp" {
		t.Errorf("B.temp = %q, want B_temp", name)
	}
	if name, _ := tables.EffectiveName("B", "O", "humidity"); name != "humidity" {
		t.Errorf("B.humidity = %q, want humidity", name)
	}

	want := map[string][]string{"temp": {"A", "B"}}
	if !reflect.DeepEqual(tables.Collisions["O"], want) {
		t.Errorf("Collisions[O] = %v, want %v", tables.Collisions["O"], want)
	}
	if !tables.HasCollisions() {
		t.Error("HasCollisions() = false, want true")
	}
}

func TestResolveCustomDelimiter(t *testing.T) {
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"temp"}},
		{Name: "B", Variables: []string{"temp"}},
	}
	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, nil, nil, ResolveOptions{Delimiter: "."})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.Columns("O"); !reflect.DeepEqual(got, []string{"A.temp", "B.temp"}) {
		t.Errorf("Columns(O) = %v", got)
	}
}

func TestResolveExplicitRenamePrefixesOnlyUnrenamed(t *testing.T) {
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"temp"}},
		{Name: "B", Variables: []string{"temp"}},
	}
	rename := RenameMapping{"A": {"O": {"temp": "outdoor"}}}

	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, rename, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if name, _ := tables.EffectiveName("A", "O", "temp"); name != "outdoor" {
		t.Errorf("A.temp = %q, want outdoor", name)
	}
	if name, _ := tables.EffectiveName("B", "O", "temp"); name != "B_temp" {
		t.Errorf("B.temp = %q, want B_temp", name)
	}
}

func TestResolveExplicitRenameOntoOtherSource(t *testing.T) {
	// A renames "t" onto B's "temp": B must be prefixed, A keeps its
	// explicit name.
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"t"}},
		{Name: "B", Variables: []string{"temp"}},
	}
	rename := RenameMapping{"A": {"O": {"t": "temp"}}}

	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, rename, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.Columns("O"); !reflect.DeepEqual(got, []string{"temp", "B_temp"}) {
		t.Errorf("Columns(O) = %v, want [temp B_temp]", got)
	}
	if got := tables.Collisions["O"]["temp"]; !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Collisions[O][temp] = %v", got)
	}
}

func TestResolvePrefixedNameClashesWithExisting(t *testing.T) {
	// A.x and B.x collide; A is prefixed to A_x, which is also a variable
	// of B. The second pass prefixes B.A_x.
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"x"}},
		{Name: "B", Variables: []string{"x", "A_x"}},
	}
	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, nil, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []string{"A_x", "B_x", "B_A_x"}
	if got := tables.Columns("O"); !reflect.DeepEqual(got, want) {
		t.Errorf("Columns(O) = %v, want %v", got, want)
	}
	seen := map[string]bool{}
	for _, c := range tables.Columns("O") {
		if seen[c] {
			t.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
}

func TestResolveBothExplicitOntoSameName(t *testing.T) {
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"a"}},
		{Name: "B", Variables: []string{"b"}},
	}
	rename := RenameMapping{
		"A": {"O": {"a": "v"}},
		"B": {"O": {"b": "v"}},
	}
	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, rename, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.Columns("O"); !reflect.DeepEqual(got, []string{"A_v", "B_v"}) {
		t.Errorf("Columns(O) = %v, want [A_v B_v]", got)
	}
}

func TestResolveSameSourceClashFails(t *testing.T) {
	sources := []SourceVariables{{Name: "A", Variables: []string{"a", "b"}}}
	rename := RenameMapping{"A": {"O": {"a": "v", "b": "v"}}}

	_, err := Resolve(sources, []OutputSpec{{Name: "O"}}, rename, nil, ResolveOptions{})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Resolve() error = %v, want ErrConfiguration", err)
	}
}

func TestResolvePerOutputIndependence(t *testing.T) {
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"x"}},
		{Name: "B", Variables: []string{"x"}},
	}
	outputs := []OutputSpec{{Name: "O1"}, {Name: "O2"}}
	rename := RenameMapping{"B": {"O2": {"x": "y"}}}

	tables, err := Resolve(sources, outputs, rename, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.Columns("O1"); !reflect.DeepEqual(got, []string{"A_x", "B_x"}) {
		t.Errorf("Columns(O1) = %v", got)
	}
	// The raw collision is still recorded, B's explicit name wins.
	if got := tables.Columns("O2"); !reflect.DeepEqual(got, []string{"A_x", "y"}) {
		t.Errorf("Columns(O2) = %v", got)
	}
}

func TestResolvePrefixAll(t *testing.T) {
	sources := []SourceVariables{
		{Name: "rand1", Variables: []string{"a"}},
		{Name: "rand2", Variables: []string{"b"}},
	}
	rename := RenameMapping{"rand2": {"O": {"b": "bee"}}}
	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, rename, nil, ResolveOptions{PrefixAll: true})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.Columns("O"); !reflect.DeepEqual(got, []string{"rand1_a", "bee"}) {
		t.Errorf("Columns(O) = %v", got)
	}
	if tables.HasCollisions() {
		t.Errorf("Collisions = %v, want none", tables.Collisions)
	}
}

func TestResolveTimestampColumn(t *testing.T) {
	sources := []SourceVariables{{Name: "A", Variables: []string{"Time", "v"}}}
	outputs := []OutputSpec{{Name: "csv", RequiresTimestamp: true}, {Name: "mqtt"}}

	tables, err := Resolve(sources, outputs, nil, nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.Columns("csv"); !reflect.DeepEqual(got, []string{"Time", "A_Time", "v"}) {
		t.Errorf("Columns(csv) = %v", got)
	}
	if got := tables.Columns("mqtt"); !reflect.DeepEqual(got, []string{"Time", "v"}) {
		t.Errorf("Columns(mqtt) = %v", got)
	}
	if tables.TimestampKey() != DefaultTimestampKey {
		t.Errorf("TimestampKey() = %q", tables.TimestampKey())
	}
}

func TestResolveConversionTable(t *testing.T) {
	sources := []SourceVariables{{Name: "A", Variables: []string{"a", "b"}}}
	conversion := ConversionMapping{"A": {"O": {"a": TypeInt}}}

	tables, err := Resolve(sources, []OutputSpec{{Name: "O"}}, nil, conversion, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := tables.TargetType("A", "O", "a"); got != TypeInt {
		t.Errorf("TargetType(a) = %q, want int", got)
	}
	if got := tables.TargetType("A", "O", "b"); got != TypeNone {
		t.Errorf("TargetType(b) = %q, want pass-through", got)
	}
}

func TestResolveValidation(t *testing.T) {
	sources := []SourceVariables{{Name: "Sou1", Variables: []string{"RandData0"}}}
	outputs := []OutputSpec{{Name: "OutA", RequiresTimestamp: true}}

	tests := []struct {
		name       string
		sources    []SourceVariables
		outputs    []OutputSpec
		rename     RenameMapping
		conversion ConversionMapping
		wantPath   string
	}{
		{
			name:     "unknown source in rename",
			rename:   RenameMapping{"Nope": {"OutA": {"RandData0": "x"}}},
			wantPath: "rename.Nope",
		},
		{
			name:     "unknown output in rename",
			rename:   RenameMapping{"Sou1": {"OutZ": {"RandData0": "x"}}},
			wantPath: "rename.Sou1.OutZ",
		},
		{
			name:     "unknown variable in rename",
			rename:   RenameMapping{"Sou1": {"OutA": {"RandData9": "x"}}},
			wantPath: "rename.Sou1.OutA.RandData9",
		},
		{
			name:     "empty effective name",
			rename:   RenameMapping{"Sou1": {"OutA": {"RandData0": ""}}},
			wantPath: "rename.Sou1.OutA.RandData0",
		},
		{
			name:     "rename onto timestamp key",
			rename:   RenameMapping{"Sou1": {"OutA": {"RandData0": "Time"}}},
			wantPath: "rename.Sou1.OutA.RandData0",
		},
		{
			name:       "unknown source in conversion",
			conversion: ConversionMapping{"Nope": {"OutA": {"RandData0": TypeInt}}},
			wantPath:   "conversion.Nope",
		},
		{
			name:       "unknown tag in conversion",
			conversion: ConversionMapping{"Sou1": {"OutA": {"RandData0": TypeTag("decimal")}}},
			wantPath:   "conversion.Sou1.OutA.RandData0",
		},
		{
			name:     "duplicate source name",
			sources:  []SourceVariables{{Name: "S"}, {Name: "S"}},
			wantPath: "sources.S",
		},
		{
			name:     "duplicate output name",
			outputs:  []OutputSpec{{Name: "O"}, {Name: "O"}},
			wantPath: "outputs.O",
		},
		{
			name:     "empty source name",
			sources:  []SourceVariables{{Name: ""}},
			wantPath: "sources",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srcs, outs := sources, outputs
			if tt.sources != nil {
				srcs = tt.sources
			}
			if tt.outputs != nil {
				outs = tt.outputs
			}
			_, err := Resolve(srcs, outs, tt.rename, tt.conversion, ResolveOptions{})
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Resolve() error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", cfgErr.Path, tt.wantPath)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Error("error should unwrap to ErrConfiguration")
			}
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	sources := []SourceVariables{
		{Name: "A", Variables: []string{"x", "y", "A_x"}},
		{Name: "B", Variables: []string{"x", "y"}},
		{Name: "C", Variables: []string{"y", "z"}},
	}
	outputs := []OutputSpec{{Name: "O1", RequiresTimestamp: true}, {Name: "O2"}}
	rename := RenameMapping{"C": {"O2": {"z": "x"}}}
	conversion := ConversionMapping{"B": {"O1": {"y": TypeFloat}}}

	first, err := Resolve(sources, outputs, rename, conversion, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Resolve(sources, outputs, rename, conversion, ResolveOptions{})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Resolve() run %d differs:\n%+v\n%+v", i, first, again)
		}
	}
}
