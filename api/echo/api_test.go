package echo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationRedirect(t *testing.T) {
	redirect, err := authorizationRedirect("https://app.example.org/callback", "c-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.org/callback?code=c-1&state=s-1", redirect)
}

func TestAuthorizationRedirect_NoState(t *testing.T) {
	redirect, err := authorizationRedirect("https://app.example.org/callback", "c-1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.org/callback?code=c-1", redirect)
}

func TestAuthorizationRedirect_PreservesExistingQuery(t *testing.T) {
	redirect, err := authorizationRedirect("https://app.example.org/callback?tenant=acme", "c-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.org/callback?code=c-1&state=s-1&tenant=acme", redirect)
}

func TestAuthorizationRedirect_EscapesValues(t *testing.T) {
	redirect, err := authorizationRedirect("https://app.example.org/callback", "c 1+x", "a&b")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.org/callback?code=c+1%2Bx&state=a%26b", redirect)
}
