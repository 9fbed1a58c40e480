package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"public https literal", "https://93.184.216.34/elderguard/alerts", ""},
		{"public http literal", "http://8.8.8.8/hook", ""},
		{"bad scheme", "ftp://hooks.example.com/alerts", "scheme must be http or https"},
		{"missing host", "https://", "must have a host"},
		{"localhost by name", "https://localhost:9000/hook", "not allowed"},
		{"cloud metadata by name", "http://metadata.google.internal/computeMetadata/v1/", "not allowed"},
		{"loopback literal", "http://127.0.0.1:8080/hook", "loopback"},
		{"private literal", "https://10.0.0.5/hook", "private"},
		{"link-local literal", "http://169.254.169.254/latest/meta-data", "link-local"},
		{"unspecified literal", "http://0.0.0.0/hook", "unspecified"},
		{"ipv6 loopback literal", "http://[::1]/hook", "loopback"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRejectInternalIP(t *testing.T) {
	tests := []struct {
		addr string
		ok   bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1:248:1893:25c8:1946", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.9", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"0.0.0.0", false},
		{"::", false},
	}

	for _, tc := range tests {
		ip := net.ParseIP(tc.addr)
		require.NotNil(t, ip, tc.addr)
		err := rejectInternalIP(ip)
		if tc.ok {
			assert.NoError(t, err, tc.addr)
		} else {
			assert.Error(t, err, tc.addr)
		}
	}
}
