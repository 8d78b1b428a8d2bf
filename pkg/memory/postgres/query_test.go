package postgres

import (
	"strings"
	"testing"

	"github.com/novo-avatar/novo/pkg/memory"
)

func TestRecallQuery(t *testing.T) {
	t.Parallel()

	q, args := recallQuery([]float32{1, 0}, 3, memory.Filter{
		UserID:           "alice",
		ExcludeSessionID: "s1",
		MaxDistance:      0.4,
	})

	for _, want := range []string{
		"user_id = $2",
		"session_id <> $3",
		"embedding <=> $1 <= $4",
		"LIMIT  $5",
		"ORDER  BY distance",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}
	if args[1] != "alice" || args[2] != "s1" || args[3] != 0.4 || args[4] != 3 {
		t.Errorf("args = %v", args[1:])
	}
}

func TestRecallQuery_NoFilter(t *testing.T) {
	t.Parallel()

	q, args := recallQuery([]float32{1}, 0, memory.Filter{})
	if strings.Contains(q, "WHERE") {
		t.Errorf("unfiltered query has WHERE clause:\n%s", q)
	}
	if len(args) != 2 || args[1] != memory.DefaultRecallLimit {
		t.Errorf("args = %v, want [vec %d]", args, memory.DefaultRecallLimit)
	}
}

func TestDDLExchanges(t *testing.T) {
	t.Parallel()
	ddl := ddlExchanges(1536)
	if !strings.Contains(ddl, "vector(1536)") {
		t.Error("DDL does not size the embedding column")
	}
	if !strings.Contains(ddl, "vector_cosine_ops") {
		t.Error("DDL does not create a cosine index")
	}
}
