package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAuthentication(t *testing.T) {
	tests := []struct {
		name      string
		selectors []string
		want      AuthStatus
	}{
		{
			name:      "admin toolbar",
			selectors: []string{"#toolbar-administration", "body.user-logged-in"},
			want:      AuthStatus{Authenticated: true, AdminAccess: true, Indicator: "#toolbar-administration"},
		},
		{
			name:      "logged in body class only",
			selectors: []string{"body.user-logged-in"},
			want:      AuthStatus{Authenticated: true, AdminAccess: true, Indicator: "body.user-logged-in"},
		},
		{
			name:      "login form",
			selectors: []string{"form#user-login-form", `input[name="pass"]`},
			want:      AuthStatus{Reason: ReasonLoginPage, Indicator: "form#user-login-form"},
		},
		{
			name:      "password field only",
			selectors: []string{`input[name="pass"]`},
			want:      AuthStatus{Reason: ReasonLoginPage, Indicator: `input[name="pass"]`},
		},
		{
			name: "nothing recognisable",
			want: AuthStatus{Reason: ReasonNoIndicators},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.site.page("/dashboard", "<html><head><title>Dashboard</title></head></html>", tt.selectors...)
			page := h.live(t)
			require.NoError(t, page.Goto(testBase+"/dashboard", 0))
			gotos := len(h.site.visited())

			st, err := h.m.CheckAuthentication()
			require.NoError(t, err)

			tt.want.URL = testBase + "/dashboard"
			tt.want.Title = "Dashboard"
			assert.Equal(t, tt.want, *st)
			assert.Len(t, h.site.visited(), gotos, "probing must not navigate")
		})
	}
}

func TestError_KindMatching(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	err := navigationFailed("queryContent", "https://cms.test/admin/content", cause)

	assert.True(t, errors.Is(err, ErrNavigation))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindNavigation, KindOf(err))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNavigation))
	assert.Equal(t, KindNavigation, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Empty(t, SuggestionOf(errors.New("plain")))
}

func TestError_Messages(t *testing.T) {
	assert.Equal(t, "No active page", noPage("x").Error())
	assert.Equal(t, "No active browser session", noSession("x").Error())
	assert.Equal(t, "node id must be positive", invalid("x", "node id must be %s", "positive").Error())
	assert.Equal(t, string(KindInternal), (&Error{Kind: KindInternal}).Error())
}
