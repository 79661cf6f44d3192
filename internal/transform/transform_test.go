package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/support-elt/internal/ticket"
	"github.com/sells-group/support-elt/internal/warehouse"
)

const testPepper = "s3cret-pepper"

var runTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTransformer(t *testing.T, workers int) *Transformer {
	t.Helper()
	tr, err := New(Config{Pepper: testPepper, Workers: workers})
	require.NoError(t, err)
	return tr
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNew_RequiresPepper(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "pepper is required")
}

func TestMap_MaskHashAndDefaults(t *testing.T) {
	tr := newTransformer(t, 1)
	rec := ticket.RawRecord{
		ticket.ColTicketID:      "7",
		ticket.ColCustomerName:  "Maria",
		ticket.ColCustomerEmail: " M@Ex.com ",
		ticket.ColCustomerAge:   "34",
	}

	c, rej := tr.Map(rec, runTime)
	require.Nil(t, rej)

	assert.Equal(t, int64(7), c.TicketID)
	assert.Equal(t, "M***", c.CustomerNameMasked)
	require.NotNil(t, c.CustomerEmailHash)
	assert.Equal(t, sha("m@ex.com"+testPepper), *c.CustomerEmailHash)
	require.NotNil(t, c.CustomerAge)
	assert.Equal(t, int64(34), *c.CustomerAge)
	assert.Equal(t, int64(0), c.CustomerSatisfactionRating)

	assert.Equal(t, ticket.DefaultGender, c.CustomerGender)
	assert.Equal(t, ticket.DefaultStatus, c.TicketStatus)
	assert.Equal(t, ticket.DefaultResolution, c.Resolution)
	assert.Equal(t, ticket.DefaultPriority, c.TicketPriority)
	assert.Equal(t, ticket.DefaultChannel, c.TicketChannel)
	assert.True(t, c.DateOfPurchase.IsZero())
	assert.Equal(t, runTime, c.ProcessedAt)
}

func TestMap_WhitespaceOnlyGetsDefault(t *testing.T) {
	tr := newTransformer(t, 1)
	c, rej := tr.Map(ticket.RawRecord{
		ticket.ColTicketID:       "1",
		ticket.ColCustomerGender: "   ",
		ticket.ColTicketStatus:   "\t",
		ticket.ColTicketChannel:  " Chat ",
	}, runTime)
	require.Nil(t, rej)
	assert.Equal(t, ticket.DefaultGender, c.CustomerGender)
	assert.Equal(t, ticket.DefaultStatus, c.TicketStatus)
	assert.Equal(t, "Chat", c.TicketChannel)
}

func TestMap_Rejections(t *testing.T) {
	tr := newTransformer(t, 1)
	tests := []struct {
		name   string
		rec    ticket.RawRecord
		reason Reason
	}{
		{"missing id", ticket.RawRecord{ticket.ColCustomerName: "x"}, ReasonMissingTicketID},
		{"blank id", ticket.RawRecord{ticket.ColTicketID: "  "}, ReasonMissingTicketID},
		{"non-numeric id", ticket.RawRecord{ticket.ColTicketID: "abc"}, ReasonInvalidTicketID},
		{"non-numeric age", ticket.RawRecord{ticket.ColTicketID: "1", ticket.ColCustomerAge: "abc"}, ReasonInvalidAge},
		{"nan rating", ticket.RawRecord{ticket.ColTicketID: "1", ticket.ColSatisfaction: "NaN"}, ReasonInvalidRating},
		{"bad date", ticket.RawRecord{ticket.ColTicketID: "1", ticket.ColDateOfPurchase: "31/31/21"}, ReasonInvalidDate},
		{"word date", ticket.RawRecord{ticket.ColTicketID: "1", ticket.ColDateOfPurchase: "yesterday"}, ReasonInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rej := tr.Map(tt.rec, runTime)
			require.NotNil(t, rej)
			assert.Equal(t, tt.reason, rej.Reason)
			assert.NotEmpty(t, rej.Detail)
		})
	}
}

func TestMap_AbsentAgeIsNull(t *testing.T) {
	c, rej := newTransformer(t, 1).Map(ticket.RawRecord{ticket.ColTicketID: "1"}, runTime)
	require.Nil(t, rej)
	assert.Nil(t, c.CustomerAge)
	assert.Nil(t, c.CustomerEmailHash)
	assert.Equal(t, Mask, c.CustomerNameMasked)
}

func TestMap_OutOfRangeValuesPassThrough(t *testing.T) {
	c, rej := newTransformer(t, 1).Map(ticket.RawRecord{
		ticket.ColTicketID:     "1",
		ticket.ColCustomerAge:  "-3",
		ticket.ColSatisfaction: "9",
	}, runTime)
	require.Nil(t, rej)
	assert.Equal(t, int64(-3), *c.CustomerAge)
	assert.Equal(t, int64(9), c.CustomerSatisfactionRating)
}

func TestParseWhole(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"42", 42},
		{"-7", -7},
		{"4.0", 4},
		{"2.5", 3},
		{"-2.5", -3},
		{"3.49", 3},
		{"1e2", 100},
	}
	for _, tt := range tests {
		got, err := parseWhole(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"abc", "Inf", "NaN", "1e40", "4,0"} {
		_, err := parseWhole(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2021, 3, 22, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"22/03/21", "22/3/21", "2021-03-22"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := parseDate("1/2/99")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1999, 2, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "M***", MaskName("Maria"))
	assert.Equal(t, "M***", MaskName("  Maria"))
	assert.Equal(t, "É***", MaskName("Élodie"))
	assert.Equal(t, "x***", MaskName("x"))
	assert.Equal(t, "***", MaskName(""))
	assert.Equal(t, "***", MaskName("   "))
}

func TestHashEmail_Deterministic(t *testing.T) {
	tr := newTransformer(t, 1)
	a, ok := tr.HashEmail("  Someone@Example.COM")
	require.True(t, ok)
	b, _ := tr.HashEmail("someone@example.com ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other, err := New(Config{Pepper: "different"})
	require.NoError(t, err)
	c, _ := other.HashEmail("someone@example.com")
	assert.NotEqual(t, a, c)

	_, ok = tr.HashEmail("   ")
	assert.False(t, ok)
}

func makeRecords(n int) []ticket.RawRecord {
	recs := make([]ticket.RawRecord, n)
	for i := range recs {
		// Descending ids so the output order is observable.
		recs[i] = ticket.RawRecord{
			ticket.ColTicketID:     fmt.Sprint(n - i),
			ticket.ColCustomerName: fmt.Sprintf("Name%d", i),
		}
		if i%10 == 0 {
			recs[i][ticket.ColSatisfaction] = "abc"
		}
	}
	return recs
}

func TestTransformAll_OrderAndRejections(t *testing.T) {
	recs := makeRecords(100)

	res, err := newTransformer(t, 4).TransformAll(context.Background(), recs, runTime)
	require.NoError(t, err)
	assert.Equal(t, 100, res.RowsIn)
	assert.Len(t, res.Rows, 90)
	assert.Len(t, res.Rejections, 10)
	assert.Equal(t, map[Reason]int{ReasonInvalidRating: 10}, res.Counts())
	assert.Equal(t, 1, res.Rejections[0].Row)
	assert.Equal(t, "100", res.Rejections[0].TicketID)

	for i := 1; i < len(res.Rows); i++ {
		assert.Less(t, res.Rows[i-1].TicketID, res.Rows[i].TicketID)
	}
}

func TestTransformAll_WorkerCountDoesNotChangeOutput(t *testing.T) {
	recs := makeRecords(257)
	one, err := newTransformer(t, 1).TransformAll(context.Background(), recs, runTime)
	require.NoError(t, err)
	many, err := newTransformer(t, 7).TransformAll(context.Background(), recs, runTime)
	require.NoError(t, err)
	assert.Equal(t, one, many)
}

func TestTransformAll_Empty(t *testing.T) {
	res, err := newTransformer(t, 4).TransformAll(context.Background(), nil, runTime)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Rejections)
}

func TestTransformAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTransformer(t, 2).TransformAll(ctx, makeRecords(10), runTime)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ReadsStagingAndReplacesCleaned(t *testing.T) {
	ctx := context.Background()
	store := warehouse.NewMemory()
	tables := ticket.TablesFor("tickets", ticket.SourceColumns)

	raw := make([]any, len(ticket.SourceColumns))
	raw[tables.Raw.Index(ticket.ColTicketID)] = "7"
	raw[tables.Raw.Index(ticket.ColCustomerName)] = "Maria"
	raw[tables.Raw.Index(ticket.ColCustomerEmail)] = " M@Ex.com "
	raw[tables.Raw.Index(ticket.ColCustomerAge)] = "34"
	raw[tables.Raw.Index(ticket.ColDateOfPurchase)] = "22/03/21"
	bad := make([]any, len(ticket.SourceColumns))
	bad[tables.Raw.Index(ticket.ColTicketID)] = "abc"

	_, err := store.Replace(ctx, tables.Raw, [][]any{raw, bad})
	require.NoError(t, err)

	res, err := newTransformer(t, 2).Run(ctx, store, tables, runTime)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
	assert.Equal(t, map[Reason]int{ReasonInvalidTicketID: 1}, res.Counts())

	var got [][]any
	require.NoError(t, store.Scan(ctx, tables.Cleaned, func(row []any) error {
		got = append(got, row)
		return nil
	}))
	require.Len(t, got, 1)
	cl := tables.Cleaned
	assert.Equal(t, int64(7), got[0][cl.Index(ticket.FieldTicketID)])
	assert.Equal(t, "M***", got[0][cl.Index(ticket.FieldCustomerNameMasked)])
	assert.Equal(t, sha("m@ex.com"+testPepper), got[0][cl.Index(ticket.FieldCustomerEmailHash)])
	assert.Equal(t, time.Date(2021, 3, 22, 0, 0, 0, 0, time.UTC), got[0][cl.Index(ticket.FieldDateOfPurchase)])
	assert.Equal(t, runTime, got[0][cl.Index(ticket.FieldProcessedAt)])
}

func TestRun_MissingStagingTable(t *testing.T) {
	_, err := newTransformer(t, 1).Run(context.Background(), warehouse.NewMemory(), ticket.TablesFor("", ticket.SourceColumns), runTime)
	require.Error(t, err)
	assert.True(t, errors.Is(err, warehouse.ErrTableNotFound))
}
