package canonicalization

import "testing"

func TestNormalizeDialect(t *testing.T) {
	cases := map[string]string{
		"postgres":   "postgres",
		"PostgreSQL": "postgres",
		"postgresql": "postgres",
		"Snowflake":  "snowflake",
		" bigquery ": "bigquery",
		"":           "",
	}

	for input, expected := range cases {
		if got := NormalizeDialect(input); got != expected {
			t.Errorf("NormalizeDialect(%q) = %q, expected %q", input, got, expected)
		}
	}
}
