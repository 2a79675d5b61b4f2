package dogma

import "testing"

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{name: "identity", query: Query{Path: "/a.json", Kind: Identity}},
		{name: "identity with expressions", query: Query{Path: "/a.json", Kind: Identity, Expressions: []string{"$.x"}}, wantErr: true},
		{name: "json path no expressions", query: Query{Path: "/a.json", Kind: JSONPathQuery}},
		{name: "json path with expressions", query: Query{Path: "/a.json", Kind: JSONPathQuery, Expressions: []string{"$.x", "$.y"}}},
		{name: "unknown kind", query: Query{Path: "/a.json", Kind: "BOGUS"}, wantErr: true},
		{name: "bad path", query: Query{Path: "a.json", Kind: Identity}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.query.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate(): err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
