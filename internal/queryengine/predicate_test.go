package queryengine

import (
	"testing"

	"github.com/stratumlake/stratum/internal/query/parser"
)

// whereOf parses a full SELECT and returns its WHERE expression, so tests
// exercise the real lexer/parser rather than hand-built AST nodes.
func whereOf(t *testing.T, sql string) parser.Expression {
	t.Helper()
	stmt, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", sql, err)
	}
	sel, ok := stmt.(*parser.SelectStatement)
	if !ok {
		t.Fatalf("Parse(%q) did not return a SelectStatement", sql)
	}
	if sel.Where == nil {
		t.Fatalf("Parse(%q) produced no WHERE clause", sql)
	}
	return sel.Where
}

func TestEvalPredicate_Comparisons(t *testing.T) {
	row := map[string]interface{}{"status": int64(200), "name": "alice"}

	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM app WHERE status = 200", true},
		{"SELECT * FROM app WHERE status != 200", false},
		{"SELECT * FROM app WHERE status > 100", true},
		{"SELECT * FROM app WHERE status < 100", false},
		{"SELECT * FROM app WHERE status >= 200", true},
		{"SELECT * FROM app WHERE status <= 199", false},
		{"SELECT * FROM app WHERE name = 'alice'", true},
		{"SELECT * FROM app WHERE name = 'bob'", false},
	}
	for _, tc := range cases {
		ok, err := evalPredicate(whereOf(t, tc.sql), row)
		if err != nil {
			t.Fatalf("%s: evalPredicate failed: %v", tc.sql, err)
		}
		if ok != tc.want {
			t.Errorf("%s: got %v, want %v", tc.sql, ok, tc.want)
		}
	}
}

func TestEvalPredicate_AndOrNot(t *testing.T) {
	row := map[string]interface{}{"status": int64(200), "name": "alice"}

	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM app WHERE status = 200 AND name = 'alice'", true},
		{"SELECT * FROM app WHERE status = 200 AND name = 'bob'", false},
		{"SELECT * FROM app WHERE status = 500 OR name = 'alice'", true},
		{"SELECT * FROM app WHERE status = 500 OR name = 'bob'", false},
		{"SELECT * FROM app WHERE NOT status = 500", true},
		{"SELECT * FROM app WHERE NOT status = 200", false},
	}
	for _, tc := range cases {
		ok, err := evalPredicate(whereOf(t, tc.sql), row)
		if err != nil {
			t.Fatalf("%s: evalPredicate failed: %v", tc.sql, err)
		}
		if ok != tc.want {
			t.Errorf("%s: got %v, want %v", tc.sql, ok, tc.want)
		}
	}
}

func TestEvalPredicate_IsNull(t *testing.T) {
	rowWithNil := map[string]interface{}{"tenant": nil}
	rowWithValue := map[string]interface{}{"tenant": "acme"}

	ok, err := evalPredicate(whereOf(t, "SELECT * FROM app WHERE tenant IS NULL"), rowWithNil)
	if err != nil || !ok {
		t.Errorf("expected tenant IS NULL to match nil value, got %v, err %v", ok, err)
	}

	ok, err = evalPredicate(whereOf(t, "SELECT * FROM app WHERE tenant IS NOT NULL"), rowWithValue)
	if err != nil || !ok {
		t.Errorf("expected tenant IS NOT NULL to match non-nil value, got %v, err %v", ok, err)
	}

	ok, err = evalPredicate(whereOf(t, "SELECT * FROM app WHERE tenant IS NULL"), rowWithValue)
	if err != nil || ok {
		t.Errorf("expected tenant IS NULL to not match non-nil value, got %v, err %v", ok, err)
	}
}

func TestEvalPredicate_Like(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"app%", "application", true},
		{"app%", "banana", false},
		{"a_p", "app", true},
		{"a_p", "apxp", false},
		{"%err%", "an error occurred", true},
	}
	for _, tc := range cases {
		row := map[string]interface{}{"msg": tc.value}
		sql := "SELECT * FROM app WHERE msg LIKE '" + tc.pattern + "'"
		ok, err := evalPredicate(whereOf(t, sql), row)
		if err != nil {
			t.Fatalf("%s: evalPredicate failed: %v", sql, err)
		}
		if ok != tc.want {
			t.Errorf("LIKE %q against %q: got %v, want %v", tc.pattern, tc.value, ok, tc.want)
		}
	}
}

func TestEvalPredicate_Between(t *testing.T) {
	row := map[string]interface{}{"status": int64(404)}

	ok, err := evalPredicate(whereOf(t, "SELECT * FROM app WHERE status BETWEEN 400 AND 499"), row)
	if err != nil || !ok {
		t.Errorf("expected 404 BETWEEN 400 AND 499 to match, got %v, err %v", ok, err)
	}

	ok, err = evalPredicate(whereOf(t, "SELECT * FROM app WHERE status BETWEEN 200 AND 299"), row)
	if err != nil || ok {
		t.Errorf("expected 404 BETWEEN 200 AND 299 to not match, got %v, err %v", ok, err)
	}
}

func TestEvalPredicate_In(t *testing.T) {
	row := map[string]interface{}{"status": int64(404)}

	ok, err := evalPredicate(whereOf(t, "SELECT * FROM app WHERE status IN (200, 404, 500)"), row)
	if err != nil || !ok {
		t.Errorf("expected status IN (...) to match 404, got %v, err %v", ok, err)
	}

	ok, err = evalPredicate(whereOf(t, "SELECT * FROM app WHERE status NOT IN (200, 500)"), row)
	if err != nil || !ok {
		t.Errorf("expected status NOT IN (200, 500) to match 404, got %v, err %v", ok, err)
	}
}
