// Package rules implements the Identifier Extractors and Rule Matcher of
// spec §4.H.
package rules

import (
	"github.com/flowguard/flowguard/internal/flowtype"
)

// Extractor pulls a single Identifier out of a RequestContext. Extractors
// never mutate the request context (spec §4.H).
type Extractor interface {
	Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(ctx *flowtype.RequestContext) (flowtype.Identifier, bool)

func (f ExtractorFunc) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	return f(ctx)
}

// UserIDExtractor reads a UserId identifier from a configured header,
// falling back to RequestContext.UserID when Header is empty.
type UserIDExtractor struct {
	Header string
}

func (e UserIDExtractor) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	v := ctx.UserID
	if e.Header != "" {
		if h := ctx.Header(e.Header); h != "" {
			v = h
		}
	}
	if v == "" {
		return flowtype.Identifier{}, false
	}
	return flowtype.NewIdentifier(flowtype.TagUserID, v), true
}

// IPExtractor reads the client IP, preferring a trusted proxy header (e.g.
// X-Forwarded-For, checked in order) over the raw connection address.
type IPExtractor struct {
	TrustedProxyHeaders []string
}

func (e IPExtractor) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	for _, h := range e.TrustedProxyHeaders {
		if v := ctx.Header(h); v != "" {
			return flowtype.NewIdentifier(flowtype.TagIP, firstForwardedIP(v)), true
		}
	}
	v := ctx.IP
	if v == "" {
		v = ctx.ClientIP
	}
	if v == "" {
		return flowtype.Identifier{}, false
	}
	return flowtype.NewIdentifier(flowtype.TagIP, v), true
}

// firstForwardedIP returns the left-most address of a comma-separated
// X-Forwarded-For-style header value, trimmed of surrounding whitespace.
func firstForwardedIP(v string) string {
	for i := 0; i < len(v); i++ {
		if v[i] == ',' {
			return trimSpace(v[:i])
		}
	}
	return trimSpace(v)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// APIKeyExtractor reads an ApiKey identifier from a configured header.
type APIKeyExtractor struct {
	Header string
}

func (e APIKeyExtractor) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	v := ctx.APIKey
	if e.Header != "" {
		if h := ctx.Header(e.Header); h != "" {
			v = h
		}
	}
	if v == "" {
		return flowtype.Identifier{}, false
	}
	return flowtype.NewIdentifier(flowtype.TagAPIKey, v), true
}

// DeviceIDExtractor reads a DeviceId identifier from a configured header.
type DeviceIDExtractor struct {
	Header string
}

func (e DeviceIDExtractor) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	v := ctx.DeviceID
	if e.Header != "" {
		if h := ctx.Header(e.Header); h != "" {
			v = h
		}
	}
	if v == "" {
		return flowtype.Identifier{}, false
	}
	return flowtype.NewIdentifier(flowtype.TagDeviceID, v), true
}

// MacExtractor reads a Mac identifier from a configured header.
type MacExtractor struct {
	Header string
}

func (e MacExtractor) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	v := ctx.Mac
	if e.Header != "" {
		if h := ctx.Header(e.Header); h != "" {
			v = h
		}
	}
	if v == "" {
		return flowtype.Identifier{}, false
	}
	return flowtype.NewIdentifier(flowtype.TagMac, v), true
}

// CompositeExtractor runs a list of sub-extractors in order. By default it
// returns the first successful match (spec §4.H); when RequireAll is set,
// every sub-extractor must succeed and the LAST one's identifier wins
// (used when a caller wants successful extraction from every configured
// source to be a precondition, e.g. requiring both UserId and ApiKey).
type CompositeExtractor struct {
	Extractors []Extractor
	RequireAll bool
}

func (c CompositeExtractor) Extract(ctx *flowtype.RequestContext) (flowtype.Identifier, bool) {
	if !c.RequireAll {
		for _, e := range c.Extractors {
			if id, ok := e.Extract(ctx); ok {
				return id, true
			}
		}
		return flowtype.Identifier{}, false
	}

	var last flowtype.Identifier
	for _, e := range c.Extractors {
		id, ok := e.Extract(ctx)
		if !ok {
			return flowtype.Identifier{}, false
		}
		last = id
	}
	if len(c.Extractors) == 0 {
		return flowtype.Identifier{}, false
	}
	return last, true
}
