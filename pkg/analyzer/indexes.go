package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pthm/rlsguard/internal/sqlgen"
	"github.com/pthm/rlsguard/internal/workpool"
	"github.com/pthm/rlsguard/pkg/database"
	"github.com/pthm/rlsguard/pkg/estimator"
	"github.com/pthm/rlsguard/pkg/model"
)

// RecentIndexWindow is how new an unused index can be before it is only
// flagged for review.
const RecentIndexWindow = 7 * 24 * time.Hour

// generatedName matches index names Postgres or tooling picks automatically.
var generatedName = regexp.MustCompile(`_pkey$|_key$|_idx$|^idx_\d+_`)

// IndexCatalog is the subset of database.Connection the index analyzer uses.
type IndexCatalog interface {
	GetIndexDefinition(ctx context.Context, schema, table, index string) (string, error)
	GetIndexUsageStats(ctx context.Context, schema, table, index string) (*model.IndexUsage, error)
	GetForeignKeyColumns(ctx context.Context, schema, table, fkName string) ([]model.FKColumn, error)
	IsConstraintBacked(ctx context.Context, schema, index string) (bool, error)
	GetIndexCreationTime(ctx context.Context, schema, index string) (*time.Time, error)
}

// IndexAnalyzer proposes index removals and foreign-key indexes.
type IndexAnalyzer struct {
	catalog IndexCatalog
	opts    options
}

// NewIndexAnalyzer returns an IndexAnalyzer. A nil catalog analyzes offline.
func NewIndexAnalyzer(catalog IndexCatalog, opts ...Option) *IndexAnalyzer {
	if catalog == nil {
		catalog = database.Offline{}
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &IndexAnalyzer{catalog: catalog, opts: o}
}

// IsExplicitName reports whether an index name looks chosen by a person.
func IsExplicitName(name string) bool {
	return !generatedName.MatchString(name)
}

// FKIndexName is idx_<table>_fk_<col1>_<col2>..., truncated to the
// identifier length Postgres keeps.
func FKIndexName(table string, columns []string) string {
	return sqlgen.TruncateIdent("idx_" + table + "_fk_" + strings.Join(columns, "_"))
}

// Analyze returns duplicate removals, then unused removals, then foreign-key
// indexes, each group in finding order.
func (a *IndexAnalyzer) Analyze(
	ctx context.Context,
	duplicates []model.DuplicateIndexWarning,
	unused []model.UnusedIndexWarning,
	unindexedFKs []model.UnindexedFKWarning,
) ([]model.IndexOptimization, error) {
	var out []model.IndexOptimization

	dups, err := workpool.FlatMap(ctx, a.opts.concurrency, duplicates, a.analyzeDuplicates)
	if err != nil {
		return nil, err
	}
	out = append(out, dups...)

	removals, err := workpool.Map(ctx, a.opts.concurrency, unused, a.analyzeUnused)
	if err != nil {
		return nil, err
	}
	for _, r := range removals {
		out = append(out, r)
	}

	creates, err := workpool.Map(ctx, a.opts.concurrency, unindexedFKs, a.analyzeForeignKey)
	if err != nil {
		return nil, err
	}
	for _, c := range creates {
		out = append(out, c)
	}
	return out, nil
}

type indexInfo struct {
	name       string
	backed     bool
	scans      int64
	explicit   bool
	definition string
}

func (a *IndexAnalyzer) describeIndex(ctx context.Context, schema, table, name string) (indexInfo, error) {
	info := indexInfo{name: name, explicit: IsExplicitName(name)}

	backed, err := a.catalog.IsConstraintBacked(ctx, schema, name)
	if err != nil {
		return info, err
	}
	info.backed = backed

	usage, err := a.catalog.GetIndexUsageStats(ctx, schema, table, name)
	if err != nil {
		return info, err
	}
	if usage != nil {
		info.scans = usage.IdxScan
	}

	def, err := a.catalog.GetIndexDefinition(ctx, schema, table, name)
	if err != nil {
		a.opts.log.Debug("index definition unavailable", "schema", schema, "index", name, "error", err)
	}
	info.definition = def
	return info, nil
}

func (a *IndexAnalyzer) analyzeDuplicates(ctx context.Context, w model.DuplicateIndexWarning) []model.IndexOptimization {
	log := a.opts.log.With("schema", w.SchemaName, "table", w.TableName)
	if len(w.IndexNames) < 2 {
		log.Debug("duplicate finding names fewer than two indexes", "indexes", w.IndexNames)
		return nil
	}

	infos := make([]indexInfo, 0, len(w.IndexNames))
	for _, name := range w.IndexNames {
		info, err := a.describeIndex(ctx, w.SchemaName, w.TableName, name)
		if err != nil {
			log.Warn("failed to inspect index", "index", name, "error", err)
			return nil
		}
		infos = append(infos, info)
	}

	keep := chooseSurvivor(infos)
	log.Debug("keeping duplicate index", "index", infos[keep].name)

	var out []model.IndexOptimization
	for i, info := range infos {
		if i == keep || info.backed {
			continue
		}
		out = append(out, model.RemoveIndex{
			IndexTarget:        model.IndexTarget{SchemaName: w.SchemaName, TableName: w.TableName},
			Kind:               model.IndexRemoveDuplicate,
			IndexToRemove:      info.name,
			EstimatedImpact:    estimator.ImpactRemoveDuplicate,
			OriginalDefinition: info.definition,
		})
	}
	return out
}

// chooseSurvivor picks the index to keep: the first constraint-backed one,
// else the most-scanned explicitly named one, else the most-scanned overall.
// Ties go to the earlier index.
func chooseSurvivor(infos []indexInfo) int {
	for i, info := range infos {
		if info.backed {
			return i
		}
	}
	best := -1
	for i, info := range infos {
		if info.explicit && (best < 0 || info.scans > infos[best].scans) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	best = 0
	for i, info := range infos {
		if info.scans > infos[best].scans {
			best = i
		}
	}
	return best
}

func (a *IndexAnalyzer) analyzeUnused(ctx context.Context, w model.UnusedIndexWarning) (model.RemoveIndex, bool) {
	log := a.opts.log.With("schema", w.SchemaName, "table", w.TableName, "index", w.IndexName)

	info, err := a.describeIndex(ctx, w.SchemaName, w.TableName, w.IndexName)
	if err != nil {
		log.Warn("failed to inspect index", "error", err)
		return model.RemoveIndex{}, false
	}
	if info.backed {
		log.Debug("unused index backs a constraint, keeping it")
		return model.RemoveIndex{}, false
	}
	if info.scans > 0 {
		log.Debug("index has been used since the finding was produced", "idx_scan", info.scans)
		return model.RemoveIndex{}, false
	}

	impact := estimator.ImpactRemoveUnused
	created, err := a.catalog.GetIndexCreationTime(ctx, w.SchemaName, w.IndexName)
	if err != nil {
		log.Debug("index creation time unavailable", "error", err)
	}
	if created != nil && a.opts.now().Sub(*created) < RecentIndexWindow {
		impact = estimator.ImpactRecentUnused
	}

	return model.RemoveIndex{
		IndexTarget:        model.IndexTarget{SchemaName: w.SchemaName, TableName: w.TableName},
		Kind:               model.IndexRemoveUnused,
		IndexToRemove:      w.IndexName,
		EstimatedImpact:    impact,
		OriginalDefinition: info.definition,
	}, true
}

func (a *IndexAnalyzer) analyzeForeignKey(ctx context.Context, w model.UnindexedFKWarning) (model.CreateFKIndex, bool) {
	log := a.opts.log.With("schema", w.SchemaName, "table", w.TableName, "fk", w.FKName)

	columns, err := a.foreignKeyColumns(ctx, w)
	if err != nil {
		log.Warn("failed to resolve foreign key columns", "error", err)
		return model.CreateFKIndex{}, false
	}
	if len(columns) == 0 {
		log.Debug("foreign key has no resolvable columns")
		return model.CreateFKIndex{}, false
	}

	return model.CreateFKIndex{
		IndexTarget: model.IndexTarget{SchemaName: w.SchemaName, TableName: w.TableName},
		IndexToCreate: model.IndexSpec{
			Name:    FKIndexName(w.TableName, columns),
			Columns: columns,
		},
		EstimatedImpact: estimator.ImpactCreateFK,
	}, true
}

// foreignKeyColumns maps the finding's column positions to names, in the
// finding's order. Offline, positions become placeholder names column_<n>.
func (a *IndexAnalyzer) foreignKeyColumns(ctx context.Context, w model.UnindexedFKWarning) ([]string, error) {
	cols, err := a.catalog.GetForeignKeyColumns(ctx, w.SchemaName, w.TableName, w.FKName)
	if database.IsNotConnectedErr(err) {
		names := make([]string, len(w.FKColumns))
		for i, pos := range w.FKColumns {
			names[i] = fmt.Sprintf("column_%d", pos)
		}
		return names, nil
	}
	if err != nil {
		return nil, err
	}

	if len(w.FKColumns) > 0 {
		rank := make(map[int]int, len(w.FKColumns))
		for i, pos := range w.FKColumns {
			if _, dup := rank[pos]; !dup {
				rank[pos] = i
			}
		}
		order := func(c model.FKColumn) int {
			if r, ok := rank[c.ColumnPosition]; ok {
				return r
			}
			return len(w.FKColumns)
		}
		sort.SliceStable(cols, func(i, j int) bool { return order(cols[i]) < order(cols[j]) })
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.ColumnName
	}
	return names, nil
}
