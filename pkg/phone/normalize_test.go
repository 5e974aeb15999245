package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in     string
		region string
		want   string
	}{
		{in: "+15551234567", region: "US", want: "+15551234567"},
		{in: " (555) 123-4567 ", region: "US", want: "+15551234567"},
		{in: "+31 20 123 4567", region: "US", want: "+31201234567"},
		{in: "anonymous", region: "US", want: "anonymous"},
		{in: "", region: "US", want: ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in, tc.region); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeDefaultRegion(t *testing.T) {
	if got := Normalize("555-123-4567", ""); got != "+15551234567" {
		t.Fatalf("expected US default, got %q", got)
	}
}
