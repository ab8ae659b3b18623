package canonicalization

import "testing"

// ==============================================================================
// Benchmarks: Canonicalization Performance
// ==============================================================================

func Benchmark_NormalizeDialect(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	dialects := []string{"postgres", "PostgreSQL", "snowflake", "BigQuery", "redshift"}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for _, d := range dialects {
			_ = NormalizeDialect(d)
		}
	}
}

func Benchmark_CanonicalizeColumns(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	cols := []Column{
		{Name: "id", Type: "uuid", Ordinal: 0},
		{Name: "email", Type: "text", Nullable: true, Ordinal: 1},
		{Name: "created_at", Type: "timestamptz", Ordinal: 2},
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = CanonicalizeColumns(cols)
	}
}

func Benchmark_QueryHash(b *testing.B) {
	if !testing.Short() {
		b.Skip("skipping benchmark in non-short mode")
	}

	sql := "INSERT INTO analytics.orders_summary SELECT * FROM analytics.orders"

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = QueryHash(sql)
	}
}
