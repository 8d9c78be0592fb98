package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid bearer", header: "Bearer tok-123", want: "tok-123"},
		{name: "trailing space trimmed", header: "Bearer tok-123 ", want: "tok-123"},
		{name: "missing header", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "empty key", header: "Bearer ", wantErr: true},
		{name: "whitespace key", header: "Bearer    ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/link-code", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			key, err := ExtractAPIKey(req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestLookupAccount(t *testing.T) {
	tokens := map[string]string{
		"tok-alpha": "acct-1",
		"tok-beta":  "acct-2",
	}

	accountID, ok := lookupAccount("tok-alpha", tokens)
	require.True(t, ok)
	assert.Equal(t, "acct-1", accountID)

	accountID, ok = lookupAccount("tok-beta", tokens)
	require.True(t, ok)
	assert.Equal(t, "acct-2", accountID)

	_, ok = lookupAccount("tok-unknown", tokens)
	assert.False(t, ok)

	_, ok = lookupAccount("", tokens)
	assert.False(t, ok)

	_, ok = lookupAccount("tok-alpha", nil)
	assert.False(t, ok)
}
