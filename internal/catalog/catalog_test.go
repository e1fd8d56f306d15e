package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func names(r Result) []string {
	out := make([]string, 0, len(r.Products))
	for _, p := range r.Products {
		out = append(out, p.Name)
	}
	return out
}

func TestSearch(t *testing.T) {
	c := New(nil)

	cases := []struct {
		name     string
		query    string
		category string
		want     []string
	}{
		{"by name", "vitality", "", []string{"Vitality Pack"}},
		{"by description", "DISINFECTANT", "", []string{"Sol-U-Mel"}},
		{"by benefit", "skin", "", []string{"Renew Lotion"}},
		{"category filter", "natural", "personal", []string{"Renew Lotion"}},
		{"category excludes", "vitality", "cleaning", []string{}},
		{"empty query lists category", "", "Cleaning", []string{"Sol-U-Mel"}},
		{"no match", "telescope", "", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := c.Search(tc.query, tc.category)
			if got := names(res); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Search(%q, %q) = %v, want %v", tc.query, tc.category, got, tc.want)
			}
			if res.Total != len(tc.want) {
				t.Fatalf("Total = %d, want %d", res.Total, len(tc.want))
			}
		})
	}

	if total := c.Search("", "").Total; total != 3 {
		t.Fatalf("Search(all).Total = %d, want 3", total)
	}
}

func TestNew_CopiesProducts(t *testing.T) {
	src := []Product{{Name: "Tea Tree Oil", Category: "Personal Care"}}
	c := New(src)
	src[0].Name = "changed"
	if got := names(c.Search("tea", "")); !reflect.DeepEqual(got, []string{"Tea Tree Oil"}) {
		t.Fatalf("Search(tea) = %v, catalog aliased the caller's slice", got)
	}
}

func TestTool(t *testing.T) {
	def, h := New(nil).Tool()
	if def.Name != ToolName {
		t.Fatalf("Name = %q, want %q", def.Name, ToolName)
	}

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		t.Fatalf("Parameters not JSON: %v", err)
	}
	if schema.Type != "object" {
		t.Fatalf("schema type = %q, want object", schema.Type)
	}
	for _, prop := range []string{"query", "category"} {
		if _, ok := schema.Properties[prop]; !ok {
			t.Fatalf("schema missing property %q", prop)
		}
	}
	if !reflect.DeepEqual(schema.Required, []string{"query"}) {
		t.Fatalf("required = %v, want [query]", schema.Required)
	}

	out, err := h(context.Background(), json.RawMessage(`{"query":"energy"}`))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	res, ok := out.(Result)
	if !ok {
		t.Fatalf("handler returned %T, want Result", out)
	}
	if res.Total != 1 || res.Products[0].Name != "Vitality Pack" {
		t.Fatalf("result = %+v", res)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"total":1`) {
		t.Fatalf("encoded result = %s", raw)
	}
}

func TestTool_CancelledContext(t *testing.T) {
	_, h := New(nil).Tool()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h(ctx, json.RawMessage(`{"query":"x"}`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
