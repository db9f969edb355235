package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"tabledep/internal/engine"
	"tabledep/internal/model"
)

// objectNames are the server-side objects owned by one naming convention.
// The notification channel is the naming convention itself.
type objectNames struct {
	channel  string
	queue    string
	function string
	trigger  string
}

func namesFor(naming string) objectNames {
	return objectNames{
		channel:  naming,
		queue:    naming + "_queue",
		function: naming + "_fn",
		trigger:  naming + "_tr",
	}
}

func qualified(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func createQueueSQL(schema, naming string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	payload bytea NOT NULL,
	enqueued_at timestamptz NOT NULL DEFAULT now()
)`, qualified(schema, namesFor(naming).queue))
}

// blockExpr renders one wire block for a column of rec: a big-endian int32
// length followed by the encoded text, or length -1 for NULL.
func blockExpr(rec, column, encoding string) string {
	value := fmt.Sprintf("%s.%s::text", rec, quote(column))
	encoded := fmt.Sprintf("convert_to(%s, %s)", value, literal(encoding))
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN decode('ffffffff', 'hex') ELSE int4send(octet_length(%s)) || %s END",
		value, encoded, encoded)
}

func blocksExpr(rec string, columns model.Catalog, encoding string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = blockExpr(rec, col.Name, encoding)
	}
	return strings.Join(parts, "\n\t\t|| ")
}

// createFunctionSQL renders the trigger function that serializes a row change
// into the queue and notifies the channel with the queue id.
func createFunctionSQL(spec engine.ObjectSpec) (string, error) {
	if len(spec.Columns) == 0 {
		return "", &model.NoInterestedColumnsError{Table: spec.Table}
	}
	names := namesFor(spec.NamingConvention)
	flags := "decode('00', 'hex')"
	oldBlocks := ""
	if spec.IncludeOldValues {
		flags = "decode(CASE WHEN TG_OP = 'UPDATE' THEN '01' ELSE '00' END, 'hex')"
		oldBlocks = fmt.Sprintf(`
	IF TG_OP = 'UPDATE' THEN
		body := body
		|| %s;
	END IF;`, blocksExpr("OLD", spec.Columns, spec.Encoding))
	}

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger LANGUAGE plpgsql AS $tabledep$
DECLARE
	rec record;
	kind text;
	body bytea;
	qid bigint;
BEGIN
	IF TG_OP = 'INSERT' THEN
		kind := 'I';
		rec := NEW;
	ELSIF TG_OP = 'UPDATE' THEN
		kind := 'U';
		rec := NEW;
	ELSE
		kind := 'D';
		rec := OLD;
	END IF;
	body := convert_to(kind, 'UTF8') || %[2]s
		|| %[3]s;%[4]s
	INSERT INTO %[5]s (payload) VALUES (body) RETURNING id INTO qid;
	PERFORM pg_notify(%[6]s, qid::text);
	RETURN NULL;
END;
$tabledep$`,
		qualified(spec.Schema, names.function),
		flags,
		blocksExpr("rec", spec.Columns, spec.Encoding),
		oldBlocks,
		qualified(spec.Schema, names.queue),
		literal(names.channel),
	), nil
}

func createTriggerSQL(spec engine.ObjectSpec) (string, error) {
	var events []string
	if spec.TriggerType.Has(model.TriggerInsert) {
		events = append(events, "INSERT")
	}
	if spec.TriggerType.Has(model.TriggerUpdate) {
		update := "UPDATE"
		if len(spec.UpdateOf) > 0 {
			cols := make([]string, len(spec.UpdateOf))
			for i, c := range spec.UpdateOf {
				cols[i] = quote(c)
			}
			update += " OF " + strings.Join(cols, ", ")
		}
		events = append(events, update)
	}
	if spec.TriggerType.Has(model.TriggerDelete) {
		events = append(events, "DELETE")
	}
	if len(events) == 0 {
		return "", &model.ArgumentError{Name: "trigger type", Reason: "no DML operation selected"}
	}
	names := namesFor(spec.NamingConvention)
	return fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
		quote(names.trigger),
		strings.Join(events, " OR "),
		qualified(spec.Schema, spec.Table),
		qualified(spec.Schema, names.function),
	), nil
}

// dropSQL removes every object of naming. Dropping the function cascades to
// the trigger, so the watched table need not be known.
func dropSQL(schema, naming string) []string {
	names := namesFor(naming)
	return []string{
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s() CASCADE", qualified(schema, names.function)),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified(schema, names.queue)),
	}
}

func listenSQL(naming string) string {
	return "LISTEN " + quote(namesFor(naming).channel)
}

// drainSQL removes up to $1 queued payloads and returns them in id order.
func drainSQL(schema, naming string) string {
	queue := qualified(schema, namesFor(naming).queue)
	return fmt.Sprintf(`WITH taken AS (
	DELETE FROM %[1]s WHERE id IN (SELECT id FROM %[1]s ORDER BY id LIMIT $1)
	RETURNING id, payload
)
SELECT id, payload FROM taken ORDER BY id`, queue)
}
