package database

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/rlsguard/pkg/model"
)

func TestOffline(t *testing.T) {
	ctx := context.Background()
	var conn Connection = Offline{}

	def, err := conn.GetPolicyDefinition(ctx, "public", "posts", "p")
	require.NoError(t, err)
	assert.Nil(t, def)

	idxDef, err := conn.GetIndexDefinition(ctx, "public", "posts", "i")
	require.NoError(t, err)
	assert.Empty(t, idxDef)

	usage, err := conn.GetIndexUsageStats(ctx, "public", "posts", "i")
	require.NoError(t, err)
	assert.Nil(t, usage)

	backed, err := conn.IsConstraintBacked(ctx, "public", "i")
	require.NoError(t, err)
	assert.False(t, backed)

	created, err := conn.GetIndexCreationTime(ctx, "public", "i")
	require.NoError(t, err)
	assert.Nil(t, created)

	_, err = conn.GetForeignKeyColumns(ctx, "public", "t", "fk")
	assert.True(t, IsNotConnectedErr(err))

	_, err = conn.ListPolicies(ctx, "public")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = conn.ExecuteQuery(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = Offline{}.ExecuteWithPolicy(ctx, "public", "posts", "true", model.UserContext{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestOrOffline(t *testing.T) {
	assert.Equal(t, Offline{}, OrOffline(nil))

	pg := NewPostgres(nil)
	assert.Same(t, pg, OrOffline(pg))
}

type stateErr string

func (e stateErr) Error() string    { return "state " + string(e) }
func (e stateErr) SQLState() string { return string(e) }

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"pgx undefined table", &pgconn.PgError{Code: "42P01", Message: `relation "x" does not exist`}, ErrUndefinedTable},
		{"pgx undefined function", &pgconn.PgError{Code: "42883", Message: "function auth.uid() does not exist"}, ErrUndefinedFunction},
		{"wrapped state", fmt.Errorf("query: %w", stateErr("42P01")), ErrUndefinedTable},
		{"other state", stateErr("23505"), nil},
		{"plain error", errors.New("boom"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError(tt.err)
			assert.ErrorIs(t, got, tt.err)
			if tt.want != nil {
				assert.ErrorIs(t, got, tt.want)
				return
			}
			assert.Equal(t, tt.err, got)
		})
	}
}

func TestOfflineMethodsDocumented(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "database.go", nil, parser.ParseComments)
	require.NoError(t, err)

	var methods int
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || !fn.Name.IsExported() {
			continue
		}
		if recv, ok := fn.Recv.List[0].Type.(*ast.Ident); !ok || recv.Name != "Offline" {
			continue
		}
		methods++
		if assert.NotNil(t, fn.Doc, fn.Name.Name) {
			assert.Contains(t, fn.Doc.Text(), fn.Name.Name)
		}
	}
	assert.Equal(t, 9, methods)
}
