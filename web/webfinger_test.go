package web

import (
	"testing"

	"github.com/deemkeen/pubgate/db/dbtest"
	"github.com/deemkeen/pubgate/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWebfinger(t *testing.T) {
	site := &domain.Site{Host: "blog.example"}
	acc := dbtest.InternalAccount(t, "blog.example")

	tests := []struct {
		resource string
		found    bool
	}{
		{"acct:index@blog.example", true},
		{"acct:index@BLOG.example", true},
		{"https://blog.example/users/index", true},
		{"acct:alice@blog.example", false},
		{"acct:index@other.example", false},
		{"index@blog.example", false},
		{"acct:index", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			resp, ok := GetWebfinger(tt.resource, site, acc)
			require.Equal(t, tt.found, ok)
			if !ok {
				return
			}
			assert.Equal(t, "acct:index@blog.example", resp.Subject)
			assert.Equal(t, []string{acc.ActorURI}, resp.Aliases)
			assert.Equal(t, "self", resp.Links[0].Rel)
			assert.Equal(t, "application/activity+json", resp.Links[0].Type)
			assert.Equal(t, acc.ActorURI, resp.Links[0].Href)
		})
	}
}
