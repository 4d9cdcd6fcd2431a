package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/webhooks/slack/events", want: true},
		{path: "/webhooks/slack/interactivity", want: true},
		{path: "/webhooks/teams", want: true},
		{path: "/webhooks/telegram", want: true},
		{path: "/oauth/slack/install", want: true},
		{path: "/oauth/slack/callback", want: true},
		{path: "/api/link-codes", want: false},
		{path: "/api/webhooks/slack/events", want: false},
		{path: "/", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
