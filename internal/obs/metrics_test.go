package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                    "/",
		"/metrics":                            "/metrics",
		"/v1/allocations/abc":                 "/v1/allocations/:id",
		"/v1/allocations/abc/submit":          "/v1/allocations/:id/submit",
		"/v1/allocations/abc/approve":         "/v1/allocations/:id/approve",
		"/v1/providers/tpg/products":          "/v1/providers/:id/products",
		"/v1/providers/tpg/products?refund=1": "/v1/providers/:id/products",
		"/v1/allocations":                     "/v1/allocations",
		"/v1/stream":                          "/v1/stream",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
