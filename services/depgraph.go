package services

// EntityType benennt einen Knoten-Typ im Abhängigkeitsgraphen.
type EntityType string

const (
	EntityPublication EntityType = "publication"
	EntityAssociation EntityType = "association"
	EntityAuthor      EntityType = "author"
	EntityRoleType    EntityType = "role_type"
	EntityStatus      EntityType = "status"
	EntityLanguage    EntityType = "language"
)

// ComputedField ist ein denormalisiertes Feld, das die Engine pflegt.
type ComputedField string

const (
	FieldDescription   ComputedField = "description_cache"
	FieldAuthorNames   ComputedField = "author_names_cache"
	FieldRecordedNames ComputedField = "recorded_author_names_cache"
	FieldSlug          ComputedField = "slug"
)

// AllComputedFields in stabiler Reihenfolge.
var AllComputedFields = []ComputedField{FieldDescription, FieldAuthorNames, FieldRecordedNames, FieldSlug}

// FieldRef ist ein (Entität, Feld)-Paar, von dem ein berechnetes Feld abhängt.
type FieldRef struct {
	Entity EntityType
	Field  string
}

// Graph ist der explizite, inspizierbare Abhängigkeitsgraph: jedes berechnete
// Feld registriert seine Upstream-Paare; aus einem Schreibzugriff auf ein
// Upstream-Feld folgt die Menge der neu zu berechnenden Felder.
type Graph struct {
	deps  map[ComputedField][]FieldRef
	index map[FieldRef][]ComputedField
}

func NewGraph() *Graph {
	return &Graph{
		deps:  make(map[ComputedField][]FieldRef),
		index: make(map[FieldRef][]ComputedField),
	}
}

// Register deklariert die Upstream-Abhängigkeiten eines berechneten Feldes.
func (g *Graph) Register(field ComputedField, deps ...FieldRef) {
	g.deps[field] = append(g.deps[field], deps...)
	for _, d := range deps {
		g.index[d] = append(g.index[d], field)
	}
}

// Deps liefert die deklarierten Upstream-Paare eines berechneten Feldes.
func (g *Graph) Deps(field ComputedField) []FieldRef {
	out := make([]FieldRef, len(g.deps[field]))
	copy(out, g.deps[field])
	return out
}

// Affected liefert die berechneten Felder, die ein Schreibzugriff auf
// (entity, field) ungültig macht. field "*" steht für "irgendein Feld der
// Entität" und trifft jede Registrierung dieser Entität.
func (g *Graph) Affected(entity EntityType, field string) []ComputedField {
	seen := make(map[ComputedField]bool)
	var out []ComputedField

	add := func(fields []ComputedField) {
		for _, f := range fields {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}

	if field == "*" {
		for ref, fields := range g.index {
			if ref.Entity == entity {
				add(fields)
			}
		}
		// deterministic order for wildcard lookups
		ordered := make([]ComputedField, 0, len(out))
		for _, f := range AllComputedFields {
			if seen[f] {
				ordered = append(ordered, f)
			}
		}
		return ordered
	}

	add(g.index[FieldRef{Entity: entity, Field: field}])
	return out
}

// Columns liefert die Spalten der Entität, die für die Neuberechnung der
// gegebenen Felder gelesen werden müssen (selektiver Fetch im Recompute-Pass).
func (g *Graph) Columns(entity EntityType, fields []ComputedField) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, f := range fields {
		for _, d := range g.deps[f] {
			if d.Entity == entity && !seen[d.Field] {
				seen[d.Field] = true
				cols = append(cols, d.Field)
			}
		}
	}
	return cols
}

// DefaultGraph registriert die vier berechneten Felder mit den Abhängigkeiten
// aus der Feldspezifikation der Denormalisierung.
func DefaultGraph() *Graph {
	g := NewGraph()

	g.Register(FieldDescription,
		FieldRef{EntityPublication, "title"},
		FieldRef{EntityPublication, "translated_title"},
		FieldRef{EntityPublication, "year"},
		FieldRef{EntityPublication, "character_id"},
		FieldRef{EntityPublication, "status_id"},
		FieldRef{EntityPublication, "source_name"},
		FieldRef{EntityAssociation, "sequence"},
		FieldRef{EntityAssociation, "recorded_name"},
		FieldRef{EntityAssociation, "role_type_id"},
		FieldRef{EntityRoleType, "label"},
		FieldRef{EntityRoleType, "display_order"},
		FieldRef{EntityStatus, "name"},
	)

	// Both name caches share the ordering inputs; they differ in the name
	// source itself.
	orderDeps := []FieldRef{
		{EntityAssociation, "sequence"},
		{EntityAssociation, "role_type_id"},
		{EntityRoleType, "display_order"},
	}
	g.Register(FieldAuthorNames, append([]FieldRef{
		{EntityAuthor, "surname"},
		{EntityAuthor, "given_names"},
	}, orderDeps...)...)
	g.Register(FieldRecordedNames, append([]FieldRef{
		{EntityAssociation, "recorded_name"},
	}, orderDeps...)...)

	g.Register(FieldSlug, FieldRef{EntityPublication, "title"})

	return g
}
