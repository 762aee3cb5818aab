package model

// PolicyDefinition is a row-level-security policy as stored in pg_policies.
// An empty WithCheck means the policy has no WITH CHECK clause.
//
// Schema, Table, Permissive, Roles and Command are populated when the
// definition comes from the live catalog; a zero value for Command means
// the catalog record is unknown.
type PolicyDefinition struct {
	Schema     string
	Table      string
	Name       string
	Permissive bool
	Roles      []string
	Command    string
	Using      string
	WithCheck  string
}

// PolicyRef is one (policy, role) pair as listed by the catalog.
type PolicyRef struct {
	Schema     string
	Table      string
	Name       string
	Role       string
	Action     string
	Permissive bool
}

// RLSOptimization rewrites a policy so its auth calls run once per query.
//
// Every auth-function occurrence in OriginalSQL appears wrapped in a
// scalar subquery in OptimizedSQL and no new occurrences are introduced.
type RLSOptimization struct {
	Warning         RLSAuthWarning
	OriginalSQL     string
	OptimizedSQL    string
	EstimatedImpact string

	// Policy is the catalog record the optimization was derived from, or nil.
	Policy *PolicyDefinition
	// OptimizedWithCheck is Policy.WithCheck after the same rewrite.
	OptimizedWithCheck string
}

// PolicyConsolidation merges permissive policies for one (table, role, action).
//
// ConsolidatedPolicy.Using is the OR-join of every non-empty original USING
// clause, each parenthesized, in original order. WithCheck follows the same
// rule and is empty when no original had one.
type PolicyConsolidation struct {
	Warning            MultiplePermissiveWarning
	OriginalPolicies   []PolicyDefinition
	ConsolidatedPolicy PolicyDefinition
	EstimatedImpact    string

	// RewrittenPolicies is OriginalPolicies with auth-function rewrites
	// applied, or nil when none of them was rewritten.
	RewrittenPolicies []PolicyDefinition
}

// IndexOptimizationType discriminates IndexOptimization variants.
type IndexOptimizationType string

const (
	IndexRemoveDuplicate IndexOptimizationType = "remove_duplicate"
	IndexRemoveUnused    IndexOptimizationType = "remove_unused"
	IndexCreateFK        IndexOptimizationType = "create_fk_index"
)

// IndexOptimization is either a RemoveIndex or a CreateFKIndex.
type IndexOptimization interface {
	Type() IndexOptimizationType
	Target() IndexTarget
	Impact() string
	isIndexOptimization()
}

// IndexTarget is the table an index optimization applies to.
type IndexTarget struct {
	SchemaName string
	TableName  string
}

// RemoveIndex drops a redundant or unused index.
type RemoveIndex struct {
	IndexTarget
	Kind            IndexOptimizationType
	IndexToRemove   string
	EstimatedImpact string
	// OriginalDefinition is the CREATE INDEX statement, when it could be read.
	OriginalDefinition string
}

func (r RemoveIndex) Type() IndexOptimizationType { return r.Kind }
func (r RemoveIndex) Target() IndexTarget         { return r.IndexTarget }
func (r RemoveIndex) Impact() string              { return r.EstimatedImpact }
func (RemoveIndex) isIndexOptimization()          {}

// IndexSpec names an index and its columns in key order.
type IndexSpec struct {
	Name    string
	Columns []string
}

// CreateFKIndex adds a covering index for a foreign key.
type CreateFKIndex struct {
	IndexTarget
	IndexToCreate   IndexSpec
	EstimatedImpact string
}

func (c CreateFKIndex) Type() IndexOptimizationType { return IndexCreateFK }
func (c CreateFKIndex) Target() IndexTarget         { return c.IndexTarget }
func (c CreateFKIndex) Impact() string              { return c.EstimatedImpact }
func (CreateFKIndex) isIndexOptimization()          {}

// MigrationScript is a reversible migration. ID is unique within a run.
type MigrationScript struct {
	ID              string
	Description     string
	UpSQL           string
	DownSQL         string
	ValidationSQL   string
	EstimatedImpact string
}

// IndexUsage holds pg_stat_user_indexes counters for one index.
type IndexUsage struct {
	IdxScan int64
}

// FKColumn maps a foreign-key column position to its name.
type FKColumn struct {
	ColumnName     string
	ColumnPosition int
}

// UserContext is an identity a policy is evaluated under.
type UserContext struct {
	UserID string
	Role   string
	// Claims are extra JWT claims merged over sub and role.
	Claims map[string]any
}
