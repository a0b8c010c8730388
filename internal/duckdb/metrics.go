package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/zcall/internal/genotype"
)

// metricsKey is the primary key of sample_metrics.
type metricsKey struct {
	sample string
	z      int
}

// countColumns names the 16 (original, new) count columns, e.g. n_0_3.
func countColumns() []string {
	cols := make([]string, 0, 16)
	for i := range 4 {
		for j := range 4 {
			cols = append(cols, fmt.Sprintf("n_%d_%d", i, j))
		}
	}
	return cols
}

func countColumnsDDL() string {
	cols := countColumns()
	for i, c := range cols {
		cols[i] = c + " BIGINT"
	}
	return strings.Join(cols, ",\n\t\t")
}

const metricsColumns = "sample, z, included, total, concordance, gain"

// appendRow adds one row to an appender.
var appendRow = func(a *goduckdb.Appender, row []driver.Value) error {
	return a.AppendRow(row...)
}

// WriteMetrics batch-inserts metrics using the Appender API. Rows already
// stored for the same (sample, z) are replaced. Rows are appended to a
// staging table first and moved by a single statement, so a failed write
// leaves the stored metrics unchanged.
func (s *Store) WriteMetrics(results []genotype.SampleMetrics) error {
	if len(results) == 0 {
		return nil
	}

	// Later results for the same key win.
	index := make(map[metricsKey]int, len(results))
	deduped := make([]genotype.SampleMetrics, 0, len(results))
	for _, r := range results {
		k := metricsKey{r.Sample, r.Z}
		if i, ok := index[k]; ok {
			deduped[i] = r
			continue
		}
		index[k] = len(deduped)
		deduped = append(deduped, r)
	}

	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "CREATE OR REPLACE TABLE sample_metrics_staging AS SELECT * FROM sample_metrics LIMIT 0"); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	defer conn.ExecContext(ctx, "DROP TABLE IF EXISTS sample_metrics_staging")

	if err := appendStaging(conn, deduped); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "INSERT OR REPLACE INTO sample_metrics SELECT * FROM sample_metrics_staging"); err != nil {
		return fmt.Errorf("replace metrics: %w", err)
	}
	return nil
}

// appendStaging writes metrics to sample_metrics_staging on conn.
func appendStaging(conn *sql.Conn, results []genotype.SampleMetrics) error {
	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "sample_metrics_staging")
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}

	row := make([]driver.Value, 0, 6+16)
	for _, r := range results {
		row = append(row[:0],
			r.Sample, int64(r.Z), int64(r.Included), int64(r.Total),
			r.Concordance, r.Gain,
		)
		for i := range 4 {
			for j := range 4 {
				row = append(row, int64(r.Counts[i][j]))
			}
		}
		if err := appendRow(appender, row); err != nil {
			appender.Close()
			return fmt.Errorf("append metrics for %s z=%d: %w", r.Sample, r.Z, err)
		}
	}

	if err := appender.Close(); err != nil {
		return fmt.Errorf("flush metrics: %w", err)
	}
	return nil
}

// ClearMetrics removes all stored metrics.
func (s *Store) ClearMetrics() error {
	_, err := s.db.Exec("DELETE FROM sample_metrics")
	return err
}

// Metrics returns all stored metrics ordered by sample and z score.
func (s *Store) Metrics() ([]genotype.SampleMetrics, error) {
	rows, err := s.db.Query(`SELECT ` + metricsColumns + `, ` + strings.Join(countColumns(), ", ") + `
		FROM sample_metrics
		ORDER BY sample, z`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []genotype.SampleMetrics
	for rows.Next() {
		var m genotype.SampleMetrics
		var z, included, total int64
		var counts [16]int64
		dest := []any{&m.Sample, &z, &included, &total, &m.Concordance, &m.Gain}
		for i := range counts {
			dest = append(dest, &counts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		m.Z, m.Included, m.Total = int(z), int(included), int(total)
		for i, c := range counts {
			m.Counts[i/4][i%4] = int(c)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}

// MeansByZ returns mean concordance and gain over samples for every
// stored z score, in increasing z order.
func (s *Store) MeansByZ() ([]genotype.ZMean, error) {
	rows, err := s.db.Query(`SELECT z, avg(concordance), avg(gain)
		FROM sample_metrics
		GROUP BY z
		ORDER BY z`)
	if err != nil {
		return nil, fmt.Errorf("query means by z: %w", err)
	}
	defer rows.Close()

	var means []genotype.ZMean
	for rows.Next() {
		var z int64
		var m genotype.ZMean
		if err := rows.Scan(&z, &m.Concordance, &m.Gain); err != nil {
			return nil, fmt.Errorf("scan means by z: %w", err)
		}
		m.Z = int(z)
		means = append(means, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate means by z: %w", err)
	}
	return means, nil
}
