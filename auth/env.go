package auth

import (
	"context"
	"os"
)

// envVars maps environment variable names to the session cookie each one
// carries.
var envVars = map[string]string{
	"MUZZLE_SESSION_ID":     "_session_id",
	"MUZZLE_REMEMBER_TOKEN": "remember_user_token",
}

// EnvSource reads session cookies from environment variables.
type EnvSource struct{}

// Cookies returns session cookies from environment variables. The domain is
// ignored: env-provided cookies apply to whatever origin the caller targets.
func (EnvSource) Cookies(_ context.Context, _ string) (map[string]string, error) {
	cookies := make(map[string]string)
	for envVar, cookieName := range envVars {
		if value := os.Getenv(envVar); value != "" {
			cookies[cookieName] = value
		}
	}
	if len(cookies) == 0 {
		return nil, nil //nolint:nilnil // no env cookies is not an error
	}
	return cookies, nil
}
