package participant

import (
	"slices"
	"testing"
)

func TestMissingFrom(t *testing.T) {
	cases := []struct {
		name      string
		requested []string
		found     []string
		want      []string
	}{
		{"all present", []string{"a", "b"}, []string{"b", "a"}, nil},
		{"one missing", []string{"a", "b", "c"}, []string{"a", "c"}, []string{"b"}},
		{"none present", []string{"a"}, nil, []string{"a"}},
		{"keeps request order", []string{"z", "y", "x"}, []string{"y"}, []string{"z", "x"}},
		{"upper-case uuid matches", []string{"6F1C2A9E-3B4D-4E5F-8A7B-9C0D1E2F3A4B"}, []string{"6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := missingFrom(tc.requested, tc.found); !slices.Equal(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
