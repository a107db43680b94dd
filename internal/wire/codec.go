// Package wire implements the byte-framed format the config service uses
// for the long-polling probe request and response.
package wire

import (
	"net/url"
	"strings"

	"github.com/vitaliisemenov/nacos-config-go/internal/core"
)

const (
	// WordSeparator delimits fields within one probe line.
	WordSeparator = "\x02"

	// LineSeparator terminates one probe line.
	LineSeparator = "\x01"

	// LongPollingTimeoutHeader carries the server-honored probe timeout in
	// milliseconds. The "Pulling" spelling is what the server expects; it
	// must not be corrected.
	LongPollingTimeoutHeader = "Long-Pulling-Timeout"

	// ListeningConfigsField is the form field carrying the framed probe
	// payload.
	ListeningConfigsField = "Listening-Configs"
)

// ListenItem is one watched configuration as reported to the probe
// endpoint: its key plus the MD5 the client currently holds.
type ListenItem struct {
	Key core.ConfigKey
	MD5 string
}

// EncodeListeningConfigs frames the watched configs as
// dataId^Bgroup^Bmd5[^Btenant]^A per item. The result is the raw field
// value; form encoding escapes it on the way out.
func EncodeListeningConfigs(items []ListenItem) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(item.Key.DataID)
		sb.WriteString(WordSeparator)
		sb.WriteString(item.Key.Group)
		sb.WriteString(WordSeparator)
		sb.WriteString(item.MD5)
		if item.Key.Tenant != "" {
			sb.WriteString(WordSeparator)
			sb.WriteString(item.Key.Tenant)
		}
		sb.WriteString(LineSeparator)
	}
	return sb.String()
}

// DecodeChangedKeys parses a probe response body into the keys the server
// reported as changed. The body is percent-decoded once, split into lines,
// and each line into dataId/group[/tenant]; lines with fewer than two
// fields are skipped, trailing fields beyond the tenant are ignored.
func DecodeChangedKeys(body string) []core.ConfigKey {
	decoded, err := url.QueryUnescape(body)
	if err != nil {
		decoded = body
	}

	var keys []core.ConfigKey
	for _, line := range strings.Split(decoded, LineSeparator) {
		if line == "" {
			continue
		}
		fields := strings.Split(line, WordSeparator)
		if len(fields) < 2 {
			continue
		}
		key := core.ConfigKey{DataID: fields[0], Group: fields[1]}
		if len(fields) > 2 {
			key.Tenant = fields[2]
		}
		keys = append(keys, key)
	}
	return keys
}
