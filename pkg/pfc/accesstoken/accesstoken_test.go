package accesstoken

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueLookupRelease(t *testing.T) {
	reg := NewRegistry()
	tok := reg.Issue("/store/data/a.root", "/store/data")
	require.NotEmpty(t, tok.ID)

	got, ok := reg.Lookup(tok.ID)
	require.True(t, ok)
	require.Equal(t, tok, got)
	require.Len(t, reg.Outstanding(), 1)

	reg.Release(tok)
	_, ok = reg.Lookup(tok.ID)
	require.False(t, ok)
	require.Empty(t, reg.Outstanding())
}

func TestIssueProducesUniqueIDs(t *testing.T) {
	reg := NewRegistry()
	a := reg.Issue("/a", "/")
	b := reg.Issue("/b", "/")
	require.NotEqual(t, a.ID, b.ID)
}
