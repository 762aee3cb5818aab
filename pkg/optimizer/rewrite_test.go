package optimizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single uid",
			in:   "user_id = auth.uid()",
			want: "user_id = (SELECT auth.uid())",
		},
		{
			name: "every occurrence wrapped independently",
			in:   "owner_id = auth.uid() OR editor_id = auth.uid()",
			want: "owner_id = (SELECT auth.uid()) OR editor_id = (SELECT auth.uid())",
		},
		{
			name: "jwt and role",
			in:   "(auth.jwt() ->> 'org_id') = org_id AND auth.role() = 'authenticated'",
			want: "((SELECT auth.jwt()) ->> 'org_id') = org_id AND (SELECT auth.role()) = 'authenticated'",
		},
		{
			name: "already wrapped is untouched",
			in:   "user_id = (SELECT auth.uid())",
			want: "user_id = (SELECT auth.uid())",
		},
		{
			name: "lowercase select with newline counts as wrapped",
			in:   "user_id = (select\n  auth.uid())",
			want: "user_id = (select\n  auth.uid())",
		},
		{
			name: "mixed wrapped and bare",
			in:   "a = (SELECT auth.uid()) AND b = auth.uid()",
			want: "a = (SELECT auth.uid()) AND b = (SELECT auth.uid())",
		},
		{
			name: "case-insensitive call",
			in:   "user_id = AUTH.UID()",
			want: "user_id = (SELECT AUTH.UID())",
		},
		{
			name: "current_setting idiom",
			in:   "user_id = current_setting('request.jwt.claims', true)::json->>'sub'",
			want: "user_id = (SELECT auth.uid())",
		},
		{
			name: "current_setting jsonb idiom",
			in:   `user_id::text = current_setting("request.jwt.claims",true)::jsonb->>'sub'`,
			want: "user_id::text = (SELECT auth.uid())",
		},
		{
			name: "no auth calls",
			in:   "published = true",
			want: "published = true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Optimize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Optimize(got), "Optimize must be idempotent")
			assert.False(t, NeedsOptimization(got))
		})
	}
}

func TestOptimize_PreservesOccurrenceCount(t *testing.T) {
	in := "a = auth.uid() OR b = auth.jwt() OR c = (SELECT auth.role()) OR d = auth.uid()"
	out := Optimize(in)
	for _, fn := range []string{"auth.uid()", "auth.jwt()", "auth.role()"} {
		assert.Equal(t, strings.Count(in, fn), strings.Count(out, fn), fn)
	}
	assert.Equal(t, 4, strings.Count(out, "(SELECT auth."))
}

func TestNeedsOptimization(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"user_id = auth.uid()", true},
		{"user_id = (SELECT auth.uid())", false},
		{"user_id = (SELECTauth.uid())", true},
		{"current_setting('request.jwt.claims', true)::json->>'sub' = user_id", true},
		{"true", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsOptimization(tt.in))
		})
	}
}

func TestIsWrapped(t *testing.T) {
	assert.True(t, isWrapped("x = (SELECT "))
	assert.True(t, isWrapped("x = (select\t"))
	assert.False(t, isWrapped("x = (SELECT"))
	assert.False(t, isWrapped("x = "))
	assert.False(t, isWrapped(""))
	assert.False(t, isWrapped("SELECT "))
}

func TestExtractAuthFunctions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"none", "published = true", []string{}},
		{"order of first appearance", "auth.role() = 'x' AND auth.uid() = id AND auth.role() <> ''", []string{"auth.role()", "auth.uid()"}},
		{"wrapped calls count", "(SELECT auth.jwt()) ->> 'org'", []string{"auth.jwt()"}},
		{
			"current_setting reported verbatim",
			"id = current_setting('request.jwt.claims', true)::json->>'sub' AND auth.role() = 'x'",
			[]string{"current_setting('request.jwt.claims', true)::json->>'sub'", "auth.role()"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAuthFunctions(tt.in))
		})
	}
}
