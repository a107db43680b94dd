package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Parameter names the server reads the signature from.
const (
	paramSpasAccessKey = "Spas-AccessKey"
	paramTimestamp     = "Timestamp"
	paramSpasSignature = "Spas-Signature"
)

// signedSession signs each request with HMAC-SHA1 over the resource and a
// millisecond timestamp. It is stateless: no login, nothing to refresh.
type signedSession struct {
	accessKey string
	secretKey string
}

func newSignedSession(accessKey, secretKey string) *signedSession {
	return &signedSession{accessKey: accessKey, secretKey: secretKey}
}

func (s *signedSession) Enabled() bool                             { return true }
func (s *signedSession) Initialize(context.Context) error          { return nil }
func (s *signedSession) EnsureAuthenticated(context.Context) error { return nil }
func (s *signedSession) ApplyToRequest(*http.Request)              {}
func (s *signedSession) Close()                                    {}

// ApplyToParams sets the three signature parameters. The signed resource is
// tenant+group when both are present, the group alone otherwise, and may be
// empty, in which case only the timestamp is signed.
func (s *signedSession) ApplyToParams(params url.Values, tenant, group string) {
	var resource string
	switch {
	case tenant != "" && group != "":
		resource = tenant + "+" + group
	case group != "":
		resource = group
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	input := timestamp
	if resource != "" {
		input = resource + "+" + timestamp
	}

	params.Set(paramSpasAccessKey, s.accessKey)
	params.Set(paramTimestamp, timestamp)
	params.Set(paramSpasSignature, s.sign(input))
}

func (s *signedSession) sign(input string) string {
	mac := hmac.New(sha1.New, []byte(s.secretKey))
	mac.Write([]byte(input))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
