package duckdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/glimpse/internal/model"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		query string
		ok    bool
	}{
		{"select", "SELECT * FROM logs", true},
		{"with", "WITH c AS (SELECT COUNT(*) n FROM logs) SELECT n FROM c", true},
		{"lowercase", "select 1", true},
		{"reset is not set", "SELECT 'RESET' AS word", true},
		{"chained", "SELECT 1; DROP TABLE logs", false},
		{"delete", "DELETE FROM logs", false},
		{"hidden in comment prefix", "/* x */ DELETE FROM logs", false},
		{"keyword after select", "SELECT * FROM logs WHERE id IN (DELETE FROM logs)", false},
		{"pragma", "PRAGMA database_list", false},
		{"keyword inside literal", "SELECT * FROM logs WHERE payload LIKE '%delete from%'", true},
		{"semicolon inside literal", "SELECT ';' AS sep", true},
		{"extract from", "SELECT EXTRACT(year FROM to_timestamp(timestamp / 1000)) FROM logs", true},
		{"join settings", "SELECT l.id FROM logs l JOIN settings s ON s.key = l.type", true},
		{"subquery", "SELECT n FROM (SELECT COUNT(*) n FROM logs) t", true},
		{"quoted table", `SELECT * FROM "logs"`, true},
		{"unknown table", "SELECT * FROM duckdb_secrets()", false},
		{"file reader", "SELECT * FROM read_csv('/etc/passwd')", false},
		{"file reader in comma join", "SELECT * FROM logs, read_text('/etc/hosts')", false},
		{"glob", "SELECT * FROM logs WHERE id IN (SELECT file FROM glob('/*'))", false},
		{"unterminated literal", "SELECT 'open", false},
		{"empty", "  -- nothing\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReadOnly(tt.query)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExecuteQuery_ReadsPayloadJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLogBatch([]*model.LogRecord{pageView("a", 1, "/home"), pageView("b", 2, "/profile")}))

	rows, err := s.ExecuteQuery(ctx, "SELECT json_extract_string(payload, '$.path') AS path FROM logs ORDER BY timestamp")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "/home", rows[0]["path"])
	assert.Equal(t, "/profile", rows[1]["path"])

	_, err = s.ExecuteQuery(ctx, "DELETE FROM logs")
	assert.Error(t, err)
	count, err := s.TotalLogCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTableRowCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLogBatch([]*model.LogRecord{pageView("a", 1, "/")}))
	require.NoError(t, s.SetSetting(ctx, model.SettingTheme, "dark"))

	counts, err := s.TableRowCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"logs": 1, "settings": 1}, counts)
	assert.Contains(t, s.SchemaDescription(), "Table 'logs'")
}
