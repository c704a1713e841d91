package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestSavepointName(t *testing.T) {
	cases := map[int]string{
		2: "sp_2",
		3: "sp_3",
		9: "sp_9",
	}
	for depth, want := range cases {
		if got := SavepointName(depth); got != want {
			t.Errorf("SavepointName(%d) = %q, want %q", depth, got, want)
		}
	}
}

func TestPgxIsoLevel(t *testing.T) {
	t.Run("default is serializable", func(t *testing.T) {
		if got := pgxIsoLevel(""); got != pgx.Serializable {
			t.Errorf("expected serializable default, got %v", got)
		}
	})

	t.Run("explicit levels", func(t *testing.T) {
		if got := pgxIsoLevel(IsolationRepeatableRead); got != pgx.RepeatableRead {
			t.Errorf("expected repeatable read, got %v", got)
		}
		if got := pgxIsoLevel(IsolationReadCommitted); got != pgx.ReadCommitted {
			t.Errorf("expected read committed, got %v", got)
		}
		if got := pgxIsoLevel(IsolationSerializable); got != pgx.Serializable {
			t.Errorf("expected serializable, got %v", got)
		}
	})
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil transaction from empty context")
	}
	if depth := TxDepthFromContext(context.Background()); depth != 0 {
		t.Errorf("expected depth 0 from empty context, got %d", depth)
	}
}
