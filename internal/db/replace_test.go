package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReplaceConfig() ReplaceConfig {
	return ReplaceConfig{
		Schema:     "staging",
		Table:      "raw_tickets",
		Columns:    []string{"Ticket ID", "Customer Name"},
		ColumnDefs: []string{"TEXT", "TEXT"},
	}
}

func TestReplaceTable_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ReplaceConfig
		want string
	}{
		{"no table", ReplaceConfig{Columns: []string{"a"}, ColumnDefs: []string{"TEXT"}}, "no table specified"},
		{"no columns", ReplaceConfig{Table: "t"}, "no columns specified"},
		{"def mismatch", ReplaceConfig{Table: "t", Columns: []string{"a", "b"}, ColumnDefs: []string{"TEXT"}}, "1 column defs for 2 columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReplaceTable(context.Background(), nil, tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplaceTable_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "staging"."raw_tickets__next"`)).
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "staging"."raw_tickets__next" ("Ticket ID" TEXT, "Customer Name" TEXT)`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging", "raw_tickets__next"}, []string{"Ticket ID", "Customer Name"}).
		WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "staging"."raw_tickets"`)).
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "staging"."raw_tickets__next" RENAME TO "raw_tickets"`)).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectCommit()

	rows := [][]any{{"1", "Maria"}, {"2", nil}}
	n, err := ReplaceTable(context.Background(), mock, newReplaceConfig(), rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTable_EmptyRowsStillSwaps(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`ALTER TABLE`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectCommit()

	n, err := ReplaceTable(context.Background(), mock, newReplaceConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTable_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"staging", "raw_tickets__next"}, []string{"Ticket ID", "Customer Name"}).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = ReplaceTable(context.Background(), mock, newReplaceConfig(), [][]any{{"1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace: load staging.raw_tickets")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTable_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err = ReplaceTable(context.Background(), mock, newReplaceConfig(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx for staging.raw_tickets")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"staging.dq_results", `"staging"."dq_results"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := QuoteAndJoin([]string{"id", "Ticket ID", "value"})
	assert.Equal(t, `"id", "Ticket ID", "value"`, result)
}
