package parser

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/pthm/rlsguard/pkg/model"
	"github.com/pthm/rlsguard/pkg/optimizer"
)

// Category identifies one of the finding families rlsguard acts on.
type Category string

const (
	CategoryRLSAuth            Category = "auth_rls_initplan"
	CategoryMultiplePermissive Category = "multiple_permissive_policies"
	CategoryDuplicateIndex     Category = "duplicate_index"
	CategoryUnindexedFK        Category = "unindexed_foreign_keys"
	CategoryUnusedIndex        Category = "unused_index"
)

// Classified holds findings grouped by category, each list in feed order.
type Classified struct {
	RLSAuth            []model.RLSAuthWarning
	MultiplePermissive []model.MultiplePermissiveWarning
	DuplicateIndexes   []model.DuplicateIndexWarning
	UnindexedFKs       []model.UnindexedFKWarning
	UnusedIndexes      []model.UnusedIndexWarning
}

// Total returns the number of classified findings.
func (c Classified) Total() int {
	return len(c.RLSAuth) + len(c.MultiplePermissive) + len(c.DuplicateIndexes) +
		len(c.UnindexedFKs) + len(c.UnusedIndexes)
}

// CategoryOf returns the category for a finding name and whether it is known.
func CategoryOf(name string) (Category, bool) {
	n := strings.ToLower(name)
	switch {
	case n == string(CategoryRLSAuth) || (strings.Contains(n, "auth") && strings.Contains(n, "rls")):
		return CategoryRLSAuth, true
	case strings.Contains(n, "multiple_permissive"):
		return CategoryMultiplePermissive, true
	case strings.Contains(n, "duplicate_index"):
		return CategoryDuplicateIndex, true
	case strings.Contains(n, "unindexed_foreign_key") || strings.Contains(n, "unindexed_fk"):
		return CategoryUnindexedFK, true
	case strings.Contains(n, "unused_index"):
		return CategoryUnusedIndex, true
	}
	return "", false
}

// Classifier sorts raw findings into typed warnings.
type Classifier struct {
	log hclog.Logger
}

// NewClassifier returns a Classifier. A nil logger discards output.
func NewClassifier(log hclog.Logger) *Classifier {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Classifier{log: log}
}

// Classify sorts findings with a silent Classifier.
func Classify(warnings []model.RawWarning) Classified {
	return NewClassifier(nil).Classify(warnings)
}

// Classify sorts findings into their categories. Unknown findings are
// dropped.
func (c *Classifier) Classify(warnings []model.RawWarning) Classified {
	var out Classified
	for _, w := range warnings {
		category, ok := CategoryOf(w.Name)
		if !ok {
			c.log.Debug("ignoring unrecognized finding", "name", w.Name)
			continue
		}
		md := metadata(w.Metadata)
		switch category {
		case CategoryRLSAuth:
			out.RLSAuth = append(out.RLSAuth, rlsAuthWarning(w, md))
		case CategoryMultiplePermissive:
			out.MultiplePermissive = append(out.MultiplePermissive, model.MultiplePermissiveWarning{
				TableName:   md.str(tableKeys),
				SchemaName:  md.schema(),
				Role:        md.str(roleKeys),
				Action:      md.action(),
				PolicyNames: md.list(policyNamesKeys),
			})
		case CategoryDuplicateIndex:
			out.DuplicateIndexes = append(out.DuplicateIndexes, model.DuplicateIndexWarning{
				TableName:  md.str(tableKeys),
				SchemaName: md.schema(),
				IndexNames: md.list(indexNamesKeys),
				Columns:    md.list(columnsKeys),
			})
		case CategoryUnindexedFK:
			out.UnindexedFKs = append(out.UnindexedFKs, model.UnindexedFKWarning{
				TableName:  md.str(tableKeys),
				SchemaName: md.schema(),
				FKName:     md.str(fkNameKeys),
				FKColumns:  md.intList(fkColumnsKeys),
			})
		case CategoryUnusedIndex:
			out.UnusedIndexes = append(out.UnusedIndexes, model.UnusedIndexWarning{
				TableName:  md.str(tableKeys),
				SchemaName: md.schema(),
				IndexName:  md.str(indexNameKeys),
			})
		}
	}
	c.log.Debug("classified findings", "input", len(warnings), "classified", out.Total())
	return out
}

func rlsAuthWarning(w model.RawWarning, md metadata) model.RLSAuthWarning {
	funcs := md.list(authFunctionKeys)
	if len(funcs) == 0 {
		funcs = optimizer.ExtractAuthFunctions(w.Detail)
	}
	return model.RLSAuthWarning{
		TableName:     md.str(tableKeys),
		SchemaName:    md.schema(),
		PolicyName:    md.str(policyKeys),
		AuthFunctions: funcs,
	}
}
