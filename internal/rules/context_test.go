package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	c := RequestContext{Headers: map[string]string{"X-Session-Id": "abc"}}

	for _, name := range []string{"X-Session-Id", "x-session-id", "X-SESSION-ID"} {
		v, ok := c.Header(name)
		require.True(t, ok, "lookup %q", name)
		require.Equal(t, "abc", v)
	}

	_, ok := c.Header("X-Missing")
	require.False(t, ok)
}

func TestQueryParam(t *testing.T) {
	c := RequestContext{Query: "limit=10&name=alice&name=bob&flag"}

	require.Equal(t, "10", c.QueryParam("limit"))
	require.Equal(t, "alice", c.QueryParam("name"))
	require.Equal(t, "", c.QueryParam("flag"))
	require.Equal(t, "", c.QueryParam("absent"))
}
