package parser

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pthm/rlsguard/pkg/model"
)

// Metadata key aliases, in lookup order. The linter has emitted both
// snake_case and camelCase keys over time.
var (
	tableKeys        = []string{"table_name", "tableName", "table"}
	schemaKeys       = []string{"schema_name", "schemaName", "schema"}
	policyKeys       = []string{"policy_name", "policyName", "policy"}
	authFunctionKeys = []string{"auth_functions", "authFunctions"}
	roleKeys         = []string{"role", "role_name", "roleName"}
	actionKeys       = []string{"action", "cmd", "command"}
	policyNamesKeys  = []string{"policy_names", "policyNames", "policies"}
	indexNamesKeys   = []string{"index_names", "indexNames", "indexes"}
	columnsKeys      = []string{"columns", "column_names", "columnNames"}
	fkNameKeys       = []string{"fk_name", "fkName", "foreign_key_name", "constraint_name"}
	fkColumnsKeys    = []string{"fk_columns", "fkColumns", "column_positions"}
	indexNameKeys    = []string{"index_name", "indexName", "index"}
)

// metadata wraps a finding's free-form metadata. A nil map behaves as empty.
type metadata map[string]any

// str returns the first alias holding a string.
func (m metadata) str(keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

func (m metadata) schema() string {
	if s := m.str(schemaKeys); s != "" {
		return s
	}
	return model.DefaultSchema
}

// list returns the first alias holding a list. Non-string elements are
// ignored.
func (m metadata) list(keys []string) []string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []string:
			return append([]string(nil), v...)
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return []string{}
}

// intList returns the first alias holding a list of integers. Elements that are
// not whole numbers are ignored.
func (m metadata) intList(keys []string) []int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []int:
			return append([]int(nil), v...)
		case []any:
			out := make([]int, 0, len(v))
			for _, e := range v {
				if n, ok := toInt(e); ok {
					out = append(out, n)
				}
			}
			return out
		}
	}
	return []int{}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// action normalizes a policy action; anything unrecognized is SELECT.
func (m metadata) action() string {
	return model.NormalizeAction(m.str(actionKeys))
}
