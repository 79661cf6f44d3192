package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/source"
	"github.com/sells-group/support-elt/internal/ticket"
)

// load reads the source and replaces the staging table with its rows,
// column names verbatim and absent cells as NULL.
func (r *Runner) load(ctx context.Context, rn *run) (StageReport, error) {
	if err := r.store.EnsureSchemas(ctx, ticket.StagingSchema, ticket.MartSchema); err != nil {
		return StageReport{}, eris.Wrap(err, "pipeline: ensure schemas")
	}

	ds, err := r.src.Read(ctx)
	if err != nil {
		return StageReport{}, err
	}

	rn.tables = ticket.TablesFor(r.cfg.Dataset, ds.Header)
	rows := StagingRows(ds)
	n, err := r.store.Replace(ctx, rn.tables.Raw, rows)
	if err != nil {
		return StageReport{RowsIn: len(rows)}, eris.Wrapf(err, "pipeline: load %s", rn.tables.Raw.QualifiedName())
	}

	rn.log.Info("pipeline: staged rows",
		zap.String("table", rn.tables.Raw.QualifiedName()),
		zap.Int64("rows", n),
	)
	r.fingerprint(ctx, rn, rn.tables.Raw)
	return StageReport{RowsIn: len(ds.Records), RowsOut: int(n)}, nil
}

// StagingRows lays the dataset out in header order. Absent cells are nil.
func StagingRows(ds *source.Dataset) [][]any {
	rows := make([][]any, len(ds.Records))
	for i, rec := range ds.Records {
		row := make([]any, len(ds.Header))
		for j, col := range ds.Header {
			if v, ok := rec.Get(col); ok {
				row[j] = v
			}
		}
		rows[i] = row
	}
	return rows
}

func (r *Runner) transform(ctx context.Context, rn *run) (StageReport, error) {
	res, err := r.transformer.Run(ctx, r.store, rn.tables, rn.processedAt)
	if err != nil {
		return StageReport{}, err
	}
	for reason, n := range res.Counts() {
		rn.out.Rejections[string(reason)] = n
	}
	r.fingerprint(ctx, rn, rn.tables.Cleaned)
	return StageReport{RowsIn: res.RowsIn, RowsOut: len(res.Rows), Rejected: len(res.Rejections)}, nil
}

func (r *Runner) aggregate(ctx context.Context, rn *run) (StageReport, error) {
	res, err := r.builder.Run(ctx, r.store, rn.tables)
	if err != nil {
		return StageReport{}, err
	}
	r.fingerprint(ctx, rn, rn.tables.Summary)
	return StageReport{RowsIn: res.RowsIn, RowsOut: len(res.Rows)}, nil
}

func (r *Runner) quality(ctx context.Context, rn *run) (StageReport, error) {
	report, err := r.checker.Run(ctx, r.store, rn.tables, rn.processedAt)
	if err != nil {
		return StageReport{}, err
	}
	rn.out.Quality = report
	r.fingerprint(ctx, rn, rn.tables.Quality)
	return StageReport{RowsIn: int(report.TotalRecords), RowsOut: 1}, nil
}
