package auth

import (
	"context"
	"net/http"
	"net/url"
)

// noneSession is the variant used when no credentials are configured.
type noneSession struct{}

func (noneSession) Enabled() bool                                 { return false }
func (noneSession) Initialize(context.Context) error              { return nil }
func (noneSession) EnsureAuthenticated(context.Context) error     { return nil }
func (noneSession) ApplyToRequest(*http.Request)                  {}
func (noneSession) ApplyToParams(url.Values, string, string)      {}
func (noneSession) Close()                                        {}
