package planner

import (
	"strings"
	"testing"

	"crudsql/internal/errs"
)

func TestParseAggregateFunc(t *testing.T) {
	cases := []struct {
		in   string
		want AggregateFunc
	}{
		{"COUNT", AggCount},
		{"count", AggCount},
		{"Sum", AggSum},
		{"avg", AggAvg},
		{"MIN", AggMin},
		{"max", AggMax},
	}
	for _, tc := range cases {
		got, err := ParseAggregateFunc(tc.in)
		if err != nil {
			t.Errorf("ParseAggregateFunc(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAggregateFunc(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := ParseAggregateFunc("median"); err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildGrouped_SingleField(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Supplier", GroupByInput{Fields: []string{"country"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT `suppliers`.`country` AS `country`, COUNT(*) AS `__count` " +
		"FROM `suppliers` GROUP BY `suppliers`.`country`"
	if plan.Rows.SQL != want {
		t.Fatalf("rows SQL = %q, want %q", plan.Rows.SQL, want)
	}
	wantCount := "SELECT COUNT(*) FROM (SELECT 1 FROM `suppliers` GROUP BY `suppliers`.`country`) AS __groups"
	if plan.Count.SQL != wantCount {
		t.Fatalf("count SQL = %q, want %q", plan.Count.SQL, wantCount)
	}
	if len(plan.Keys) != 1 || plan.Keys[0].Key != "country" || plan.Keys[0].Path != "country" {
		t.Fatalf("unexpected keys: %+v", plan.Keys)
	}
}

func TestBuildGrouped_RelationPathFlattens(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Product", GroupByInput{Fields: []string{"supplier.name"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(plan.Rows.SQL, "`supplier`.`name` AS `supplier_name`") {
		t.Fatalf("rows SQL missing flattened key, got: %s", plan.Rows.SQL)
	}
	if !strings.Contains(plan.Rows.SQL, "LEFT JOIN `suppliers` AS `supplier`") {
		t.Fatalf("rows SQL missing join, got: %s", plan.Rows.SQL)
	}
	if !strings.Contains(plan.Rows.SQL, "GROUP BY `supplier`.`name`") {
		t.Fatalf("rows SQL missing group clause, got: %s", plan.Rows.SQL)
	}
	if plan.Keys[0].Key != "supplier_name" {
		t.Fatalf("flattened key = %q, want supplier_name", plan.Keys[0].Key)
	}
}

func TestBuildGrouped_Aggregates(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Product", GroupByInput{
		Fields: []string{"supplierId"},
		Aggregates: []Aggregate{
			{Field: "price", Func: AggSum, Alias: "totalPrice"},
			{Field: "price", Func: AggAvg, Alias: "avgPrice"},
			{Func: AggCount, Alias: "rows"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql := plan.Rows.SQL
	if !strings.Contains(sql, "COUNT(*) AS `__count`") {
		t.Fatalf("implicit count missing, got: %s", sql)
	}
	if !strings.Contains(sql, "SUM(`products`.`price`) AS `totalPrice`") {
		t.Fatalf("sum aggregate missing, got: %s", sql)
	}
	if !strings.Contains(sql, "AVG(`products`.`price`) AS `avgPrice`") {
		t.Fatalf("avg aggregate missing, got: %s", sql)
	}
	if !strings.Contains(sql, "COUNT(*) AS `rows`") {
		t.Fatalf("bare count aggregate missing, got: %s", sql)
	}
	// The implicit count leads the select list.
	if strings.Index(sql, "`__count`") > strings.Index(sql, "`totalPrice`") {
		t.Fatalf("implicit count must come before explicit aggregates: %s", sql)
	}
}

func TestBuildGrouped_AggregateValidation(t *testing.T) {
	a, _ := testAssembly(t)
	cases := []struct {
		name string
		in   GroupByInput
	}{
		{
			"missing alias",
			GroupByInput{Aggregates: []Aggregate{{Field: "price", Func: AggSum}}},
		},
		{
			"alias not an identifier",
			GroupByInput{Aggregates: []Aggregate{{Field: "price", Func: AggSum, Alias: "total-price"}}},
		},
		{
			"alias collides with implicit count",
			GroupByInput{Aggregates: []Aggregate{{Field: "price", Func: AggSum, Alias: "__count"}}},
		},
		{
			"alias collides with group key",
			GroupByInput{
				Fields:     []string{"name"},
				Aggregates: []Aggregate{{Field: "price", Func: AggSum, Alias: "name"}},
			},
		},
		{
			"duplicate alias",
			GroupByInput{Aggregates: []Aggregate{
				{Field: "price", Func: AggSum, Alias: "x"},
				{Field: "price", Func: AggMax, Alias: "x"},
			}},
		},
		{
			"sum without field",
			GroupByInput{Aggregates: []Aggregate{{Func: AggSum, Alias: "x"}}},
		},
		{
			"unknown aggregate field",
			GroupByInput{Aggregates: []Aggregate{{Field: "bogus", Func: AggSum, Alias: "x"}}},
		},
		{
			"unknown function",
			GroupByInput{Aggregates: []Aggregate{{Field: "price", Func: "MEDIAN", Alias: "x"}}},
		},
	}
	for _, tc := range cases {
		if _, err := a.BuildGrouped("Product", tc.in); err == nil || !errs.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestBuildGrouped_EmptyRequest(t *testing.T) {
	a, _ := testAssembly(t)
	if _, err := a.BuildGrouped("Product", GroupByInput{}); err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildGrouped_AggregatesOnlyCountsOneGroup(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Product", GroupByInput{
		Aggregates: []Aggregate{{Field: "price", Func: AggSum, Alias: "total"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Count.SQL != "SELECT 1" {
		t.Fatalf("count SQL = %q, want SELECT 1", plan.Count.SQL)
	}
	if strings.Contains(plan.Rows.SQL, "GROUP BY") {
		t.Fatalf("aggregate-only query must not group, got: %s", plan.Rows.SQL)
	}
}

func TestBuildGrouped_OrderByAliasAndKey(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Product", GroupByInput{
		Fields:     []string{"supplierId"},
		Aggregates: []Aggregate{{Field: "price", Func: AggSum, Alias: "total"}},
		Order: []OrderItem{
			{Field: "total", Desc: true},
			{Field: "supplierId"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(plan.Rows.SQL, "ORDER BY `total` DESC, `products`.`supplier_id` ASC") {
		t.Fatalf("unexpected order, got: %s", plan.Rows.SQL)
	}
}

func TestBuildGrouped_OrderUnknownTarget(t *testing.T) {
	a, _ := testAssembly(t)

	_, err := a.BuildGrouped("Product", GroupByInput{
		Fields: []string{"supplierId"},
		Order:  []OrderItem{{Field: "price"}},
	})
	if err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error for ungrouped order field, got %v", err)
	}
}

func TestBuildGrouped_WhereAndPagination(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Product", GroupByInput{
		Fields: []string{"supplierId"},
		Where:  map[string]any{"price": map[string]any{"_gt": 0}},
		Page:   PageRequest{Page: 2, Limit: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(plan.Rows.SQL, "WHERE `products`.`price` > ?") {
		t.Fatalf("rows SQL missing filter, got: %s", plan.Rows.SQL)
	}
	if !strings.Contains(plan.Rows.SQL, "LIMIT 10 OFFSET 10") {
		t.Fatalf("rows SQL missing window, got: %s", plan.Rows.SQL)
	}
	// The group count runs over all groups, never the page window.
	if strings.Contains(plan.Count.SQL, "LIMIT") {
		t.Fatalf("count SQL must not window, got: %s", plan.Count.SQL)
	}
	if !strings.Contains(plan.Count.SQL, "WHERE `products`.`price` > ?") {
		t.Fatalf("count SQL missing filter, got: %s", plan.Count.SQL)
	}
	if plan.Skip != 10 || plan.Take != 10 {
		t.Fatalf("plan window = (%d, %d), want (10, 10)", plan.Skip, plan.Take)
	}
}

func TestBuildGrouped_SoftDelete(t *testing.T) {
	a, _ := testAssembly(t)

	plan, err := a.BuildGrouped("Document", GroupByInput{Fields: []string{"title"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(plan.Rows.SQL, "`documents`.`deleted_at` IS NULL") {
		t.Fatalf("rows SQL missing soft-delete filter, got: %s", plan.Rows.SQL)
	}
}
