package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabledep/internal/engine"
	"tabledep/internal/model"
)

func testSpec() engine.ObjectSpec {
	return engine.ObjectSpec{
		NamingConvention: "tabledep_0123456789abcdef0123456789abcdef",
		Schema:           "billing",
		Table:            "Payments",
		Columns: model.Catalog{
			{Name: "Name", Ordinal: 2, SQLType: "text"},
			{Name: "Amount", Ordinal: 3, SQLType: "numeric(10,2)"},
		},
		TriggerType: model.TriggerAll,
		Encoding:    "UTF8",
	}
}

func TestCreateTriggerSQL(t *testing.T) {
	spec := testSpec()
	stmt, err := createTriggerSQL(spec)
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TRIGGER "tabledep_0123456789abcdef0123456789abcdef_tr" AFTER INSERT OR UPDATE OR DELETE ON "billing"."Payments" FOR EACH ROW EXECUTE FUNCTION "billing"."tabledep_0123456789abcdef0123456789abcdef_fn"()`,
		stmt)

	spec.TriggerType = model.TriggerUpdate
	spec.UpdateOf = []string{"Amount", "Name"}
	stmt, err = createTriggerSQL(spec)
	require.NoError(t, err)
	assert.Contains(t, stmt, `AFTER UPDATE OF "Amount", "Name" ON`)

	spec.TriggerType = 0
	_, err = createTriggerSQL(spec)
	var argErr *model.ArgumentError
	assert.ErrorAs(t, err, &argErr)
}

func TestCreateFunctionSQL_ColumnOrderAndEncoding(t *testing.T) {
	spec := testSpec()
	spec.Encoding = "LATIN1"
	stmt, err := createFunctionSQL(spec)
	require.NoError(t, err)

	name := strings.Index(stmt, `rec."Name"::text`)
	amount := strings.Index(stmt, `rec."Amount"::text`)
	require.Positive(t, name)
	assert.Greater(t, amount, name)
	assert.Contains(t, stmt, `convert_to(rec."Name"::text, 'LATIN1')`)
	assert.Contains(t, stmt, "decode('ffffffff', 'hex')")
	assert.Contains(t, stmt, `INSERT INTO "billing"."tabledep_0123456789abcdef0123456789abcdef_queue" (payload)`)
	assert.Contains(t, stmt, `pg_notify('tabledep_0123456789abcdef0123456789abcdef', qid::text)`)
	assert.NotContains(t, stmt, "OLD.")
}

func TestCreateFunctionSQL_OldValues(t *testing.T) {
	spec := testSpec()
	spec.IncludeOldValues = true
	stmt, err := createFunctionSQL(spec)
	require.NoError(t, err)
	assert.Contains(t, stmt, `OLD."Name"::text`)
	assert.Contains(t, stmt, "CASE WHEN TG_OP = 'UPDATE' THEN '01' ELSE '00' END")
}

func TestCreateFunctionSQL_NoColumns(t *testing.T) {
	spec := testSpec()
	spec.Columns = nil
	_, err := createFunctionSQL(spec)
	var noCols *model.NoInterestedColumnsError
	assert.ErrorAs(t, err, &noCols)
}

func TestIdentifiersAreQuoted(t *testing.T) {
	spec := testSpec()
	spec.Columns = model.Catalog{{Name: `we"ird`, Ordinal: 1}}
	stmt, err := createFunctionSQL(spec)
	require.NoError(t, err)
	assert.Contains(t, stmt, `rec."we""ird"::text`)

	assert.Equal(t, "'it''s'", literal("it's"))
}

func TestDropSQL(t *testing.T) {
	stmts := dropSQL("public", "tabledep_x")
	assert.Equal(t, []string{
		`DROP FUNCTION IF EXISTS "public"."tabledep_x_fn"() CASCADE`,
		`DROP TABLE IF EXISTS "public"."tabledep_x_queue"`,
	}, stmts)
}

func TestDrainSQL(t *testing.T) {
	stmt := drainSQL("public", "tabledep_x")
	assert.Contains(t, stmt, `DELETE FROM "public"."tabledep_x_queue"`)
	assert.Contains(t, stmt, "ORDER BY id LIMIT $1")
	assert.True(t, strings.HasSuffix(stmt, "ORDER BY id"))
	assert.Equal(t, `LISTEN "tabledep_x"`, listenSQL("tabledep_x"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code  string
		fatal bool
	}{
		{"28P01", true},
		{"42501", true},
		{"42P01", true},
		{"3D000", true},
		{"40001", false},
		{"57014", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("drain: %w", &pgconn.PgError{Code: tt.code})
			assert.Equal(t, tt.fatal, model.IsFatal(classify(err)))
		})
	}

	plain := errors.New("i/o timeout")
	assert.Same(t, plain, classify(plain))
	assert.Nil(t, classify(nil))
}

func TestIsUndefinedObject(t *testing.T) {
	assert.True(t, isUndefinedObject(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isUndefinedObject(&pgconn.PgError{Code: "42501"}))
	assert.False(t, isUndefinedObject(errors.New("x")))
}
