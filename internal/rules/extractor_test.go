package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowguard/flowguard/internal/flowtype"
)

func TestUserIDExtractor_PrefersHeaderOverContextField(t *testing.T) {
	e := UserIDExtractor{Header: "X-User-Id"}
	ctx := &flowtype.RequestContext{
		UserID:  "fallback-user",
		Headers: map[string][]string{"X-User-Id": {"header-user"}},
	}
	id, ok := e.Extract(ctx)
	assert.True(t, ok)
	assert.Equal(t, flowtype.TagUserID, id.Tag())
	assert.Equal(t, "header-user", id.Value())
}

func TestUserIDExtractor_FallsBackWhenHeaderAbsent(t *testing.T) {
	e := UserIDExtractor{Header: "X-User-Id"}
	ctx := &flowtype.RequestContext{UserID: "fallback-user"}
	id, ok := e.Extract(ctx)
	assert.True(t, ok)
	assert.Equal(t, "fallback-user", id.Value())
}

func TestUserIDExtractor_FailsWhenNothingPresent(t *testing.T) {
	e := UserIDExtractor{Header: "X-User-Id"}
	_, ok := e.Extract(&flowtype.RequestContext{})
	assert.False(t, ok)
}

func TestIPExtractor_PrefersFirstTrustedProxyHeader(t *testing.T) {
	e := IPExtractor{TrustedProxyHeaders: []string{"X-Forwarded-For"}}
	ctx := &flowtype.RequestContext{
		IP:      "10.0.0.1",
		Headers: map[string][]string{"X-Forwarded-For": {"203.0.113.9, 10.0.0.1"}},
	}
	id, ok := e.Extract(ctx)
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.9", id.Value())
}

func TestIPExtractor_FallsBackToConnectionAddress(t *testing.T) {
	e := IPExtractor{}
	ctx := &flowtype.RequestContext{ClientIP: "192.0.2.5"}
	id, ok := e.Extract(ctx)
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.5", id.Value())
}

func TestCompositeExtractor_ReturnsFirstSuccess(t *testing.T) {
	c := CompositeExtractor{Extractors: []Extractor{
		APIKeyExtractor{Header: "X-Api-Key"},
		UserIDExtractor{Header: "X-User-Id"},
	}}
	ctx := &flowtype.RequestContext{
		Headers: map[string][]string{"X-User-Id": {"user-1"}},
	}
	id, ok := c.Extract(ctx)
	assert.True(t, ok)
	assert.Equal(t, flowtype.TagUserID, id.Tag())
}

func TestCompositeExtractor_RequireAllFailsIfAnySubFails(t *testing.T) {
	c := CompositeExtractor{
		RequireAll: true,
		Extractors: []Extractor{
			APIKeyExtractor{Header: "X-Api-Key"},
			UserIDExtractor{Header: "X-User-Id"},
		},
	}
	ctx := &flowtype.RequestContext{
		Headers: map[string][]string{"X-User-Id": {"user-1"}},
	}
	_, ok := c.Extract(ctx)
	assert.False(t, ok)
}

func TestCompositeExtractor_RequireAllSucceedsWhenAllSucceed(t *testing.T) {
	c := CompositeExtractor{
		RequireAll: true,
		Extractors: []Extractor{
			APIKeyExtractor{Header: "X-Api-Key"},
			UserIDExtractor{Header: "X-User-Id"},
		},
	}
	ctx := &flowtype.RequestContext{
		Headers: map[string][]string{
			"X-Api-Key": {"key-1"},
			"X-User-Id": {"user-1"},
		},
	}
	id, ok := c.Extract(ctx)
	assert.True(t, ok)
	assert.Equal(t, flowtype.TagUserID, id.Tag())
}
