package wire

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
)

func TestEncodeListeningConfigs(t *testing.T) {
	items := []ListenItem{
		{Key: core.ConfigKey{DataID: "app.yaml", Group: "DEFAULT_GROUP"}, MD5: "abc123"},
		{Key: core.ConfigKey{DataID: "db.yaml", Group: "infra", Tenant: "prod"}, MD5: "def456"},
	}

	got := EncodeListeningConfigs(items)
	want := "app.yaml\x02DEFAULT_GROUP\x02abc123\x01" +
		"db.yaml\x02infra\x02def456\x02prod\x01"
	assert.Equal(t, want, got)
}

func TestEncodeListeningConfigs_Empty(t *testing.T) {
	assert.Equal(t, "", EncodeListeningConfigs(nil))
}

func TestDecodeChangedKeys(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []core.ConfigKey
	}{
		{
			name: "single key without tenant",
			body: "app.yaml\x02DEFAULT_GROUP\x01",
			want: []core.ConfigKey{{DataID: "app.yaml", Group: "DEFAULT_GROUP"}},
		},
		{
			name: "key with tenant",
			body: "db.yaml\x02infra\x02prod\x01",
			want: []core.ConfigKey{{DataID: "db.yaml", Group: "infra", Tenant: "prod"}},
		},
		{
			name: "percent-encoded body",
			body: url.QueryEscape("app.yaml\x02DEFAULT_GROUP\x01"),
			want: []core.ConfigKey{{DataID: "app.yaml", Group: "DEFAULT_GROUP"}},
		},
		{
			name: "trailing fields ignored",
			body: "app.yaml\x02g\x02tenant\x02extra\x01",
			want: []core.ConfigKey{{DataID: "app.yaml", Group: "g", Tenant: "tenant"}},
		},
		{
			name: "short lines skipped",
			body: "lonely\x01a\x02b\x01",
			want: []core.ConfigKey{{DataID: "a", Group: "b"}},
		},
		{
			name: "empty body",
			body: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeChangedKeys(tt.body))
		})
	}
}

// Keys framed in the probe response format decode back to the same key
// set. EncodeListeningConfigs is not used: its request framing carries the
// md5 in the field where the response carries the tenant.
func TestRoundTrip(t *testing.T) {
	keys := []core.ConfigKey{
		{DataID: "a", Group: "g1"},
		{DataID: "b", Group: "g2", Tenant: "t1"},
		{DataID: "weird name", Group: "g/3", Tenant: "t=2"},
	}

	// The probe response frames tenant in the third position where the
	// request carries the md5, so round-trip through the response framing.
	var body string
	for _, k := range keys {
		body += k.DataID + WordSeparator + k.Group
		if k.Tenant != "" {
			body += WordSeparator + k.Tenant
		}
		body += LineSeparator
	}

	got := DecodeChangedKeys(url.QueryEscape(body))
	assert.Equal(t, keys, got)
}
