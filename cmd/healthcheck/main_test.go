package main

import "testing"

func TestProbeURL(t *testing.T) {
	cases := []struct {
		name string
		addr string
		want string
	}{
		{"default", "", "http://localhost:8080/healthz"},
		{"bare port", ":9090", "http://localhost:9090/healthz"},
		{"host and port", "0.0.0.0:8080", "http://0.0.0.0:8080/healthz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("HTTP_ADDR", tc.addr)
			if got := probeURL(); got != tc.want {
				t.Errorf("probeURL() = %q, want %q", got, tc.want)
			}
		})
	}
}
