// Package oauthverify implements authcore.IdentityVerifier over the Google
// and Facebook userinfo endpoints.
//
// Requests carry the caller's access token as a bearer credential through
// an x/oauth2 static token source. Transport failures, 429 and 5xx
// responses are retried with exponential backoff and end up as transient
// provider errors; other rejections are reported as invalid tokens.
package oauthverify
