package security

import "testing"

func TestValidateEndpointURLRejections(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"bad scheme", "ftp://example.com/hook"},
		{"no host", "https:///hook"},
		{"localhost", "http://localhost:9000/hook"},
		{"loopback literal", "https://127.0.0.1/hook"},
		{"private literal", "https://10.0.0.5/hook"},
		{"link local literal", "https://169.254.169.254/latest/meta-data"},
		{"unspecified literal", "https://0.0.0.0/hook"},
		{"metadata hostname", "http://metadata.google.internal/computeMetadata"},
		{"garbage", "not a url at all://"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateEndpointURL(tc.url); err == nil {
				t.Errorf("ValidateEndpointURL(%q) = nil, want error", tc.url)
			}
		})
	}
}

func TestCheckIPPublicAddress(t *testing.T) {
	// Resolution is skipped for IP literals, so a public literal validates
	// without touching DNS.
	if err := ValidateEndpointURL("https://93.184.216.34/hook"); err != nil {
		t.Errorf("public IP literal rejected: %v", err)
	}
}
