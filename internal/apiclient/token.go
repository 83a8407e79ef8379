package apiclient

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// CredentialCookie is the cookie the server issues the access token in.
const CredentialCookie = "accessToken"

// ExtractToken finds an access token in a login or refresh response. The
// JSON fields accessToken and token are tried first, then the accessToken
// Set-Cookie. It returns "" when none is present.
func ExtractToken(h http.Header, body []byte) string {
	if len(body) > 0 {
		var payload struct {
			AccessToken string `json:"accessToken"`
			Token       string `json:"token"`
		}
		if json.Unmarshal(body, &payload) == nil {
			if payload.AccessToken != "" {
				return payload.AccessToken
			}
			if payload.Token != "" {
				return payload.Token
			}
		}
	}

	for _, line := range h.Values("Set-Cookie") {
		c, err := http.ParseSetCookie(line)
		if err != nil || c.Name != CredentialCookie || c.Value == "" {
			continue
		}
		if v, err := url.QueryUnescape(c.Value); err == nil {
			return strings.TrimSpace(v)
		}
		return c.Value
	}
	return ""
}
