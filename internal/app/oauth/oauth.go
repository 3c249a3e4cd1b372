// Package oauth completes the GitHub App web flow: it trades the callback code
// for a user access token and hands the token to the browser as a cookie.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTokenURL = "https://github.com/login/oauth/access_token"
	DefaultClientID = "Iv1.b5ba4dcd32da9063"
	SecretEnv       = "GITHUB_APP_CLIENT_SECRET"
	CookieName      = "github-access-token"

	signInPath = "/sign-in"
	// tokens are dropped this long before GitHub expires them
	expiryMargin = 60 * 60
)

var ErrMissingSecret = errors.Errorf("%s is not set", SecretEnv)

// SecretFromEnv reads the client secret. It fails when the variable is unset or empty.
func SecretFromEnv() (string, error) {
	s := os.Getenv(SecretEnv)
	if s == "" {
		return "", ErrMissingSecret
	}
	return s, nil
}

// TokenOk is GitHub's reply to a successful exchange.
type TokenOk struct {
	AccessToken           string  `json:"access_token"`
	ExpiresIn             *uint32 `json:"expires_in"`
	RefreshToken          *string `json:"refresh_token"`
	RefreshTokenExpiresIn *uint32 `json:"refresh_token_expires_in"`
	Scope                 string  `json:"scope"`
	TokenType             string  `json:"token_type"`
}

// TokenErr is GitHub's reply to a rejected exchange.
type TokenErr struct {
	Error            string  `json:"error"`
	ErrorDescription *string `json:"error_description"`
	ErrorURI         *string `json:"error_uri"`
}

type Unrecognized struct {
	Raw string `json:"raw"`
}

// TokenResponse holds exactly one of its fields and encodes as
// {"Ok":{...}}, {"Err":{...}} or {"Unrecognized":{"raw":"..."}}.
type TokenResponse struct {
	Ok           *TokenOk      `json:"Ok,omitempty"`
	Err          *TokenErr     `json:"Err,omitempty"`
	Unrecognized *Unrecognized `json:"Unrecognized,omitempty"`
}

// Received is everything known about one exchange attempt.
type Received struct {
	ServerStatus  *string        `json:"server_status"`
	ErrorMessage  *string        `json:"error_message"`
	TokenResponse *TokenResponse `json:"token_response"`
}

// Classify sorts a token endpoint body into Ok, Err or Unrecognized. Ok needs
// access_token, scope and token_type; Err needs error.
func Classify(body string) *TokenResponse {
	var ok struct {
		AccessToken           *string `json:"access_token"`
		ExpiresIn             *uint32 `json:"expires_in"`
		RefreshToken          *string `json:"refresh_token"`
		RefreshTokenExpiresIn *uint32 `json:"refresh_token_expires_in"`
		Scope                 *string `json:"scope"`
		TokenType             *string `json:"token_type"`
	}
	if json.Unmarshal([]byte(body), &ok) == nil && ok.AccessToken != nil && ok.Scope != nil && ok.TokenType != nil {
		return &TokenResponse{Ok: &TokenOk{
			AccessToken:           *ok.AccessToken,
			ExpiresIn:             ok.ExpiresIn,
			RefreshToken:          ok.RefreshToken,
			RefreshTokenExpiresIn: ok.RefreshTokenExpiresIn,
			Scope:                 *ok.Scope,
			TokenType:             *ok.TokenType,
		}}
	}

	var e struct {
		Error            *string `json:"error"`
		ErrorDescription *string `json:"error_description"`
		ErrorURI         *string `json:"error_uri"`
	}
	if json.Unmarshal([]byte(body), &e) == nil && e.Error != nil {
		return &TokenResponse{Err: &TokenErr{
			Error:            *e.Error,
			ErrorDescription: e.ErrorDescription,
			ErrorURI:         e.ErrorURI,
		}}
	}
	return &TokenResponse{Unrecognized: &Unrecognized{Raw: body}}
}

type Client struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
	Log          logrus.FieldLogger
}

func NewClient(secret string, log logrus.FieldLogger) *Client {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Client{
		TokenURL:     DefaultTokenURL,
		ClientID:     DefaultClientID,
		ClientSecret: secret,
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		Log:          log,
	}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

// Exchange posts code to the token endpoint. Transport and read failures are
// reported in the result, never returned.
func (c *Client) Exchange(ctx context.Context, code string) Received {
	var out Received
	fail := func(format string, args ...any) Received {
		msg := fmt.Sprintf(format, args...)
		out.ErrorMessage = &msg
		return out
	}

	body, err := json.Marshal(tokenRequest{ClientID: c.ClientID, ClientSecret: c.ClientSecret, Code: code})
	if err != nil {
		return fail("Cannot encode token request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(body))
	if err != nil {
		return fail("Cannot connect to %s: %v", c.TokenURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fail("Cannot connect to %s: %v", c.TokenURL, err)
	}
	defer resp.Body.Close()

	status := resp.Status
	out.ServerStatus = &status
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("Error receiving response body: %v", err)
	}
	out.TokenResponse = Classify(string(raw))
	return out
}

// Cookie renders the Set-Cookie value for a granted token.
func Cookie(tok *TokenOk) string {
	maxAge := ""
	if tok.ExpiresIn != nil {
		secs := int64(*tok.ExpiresIn) - expiryMargin
		if secs < 0 {
			secs = 0
		}
		maxAge = fmt.Sprintf("Max-Age=%d; ", secs)
	}
	return fmt.Sprintf("%s=%s; path=/; %sSameSite=Strict", CookieName, tok.AccessToken, maxAge)
}

// Callback handles GET /oauth/callback/github?code=...
func (c *Client) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("code") {
		http.Error(w, "missing query parameter: code", http.StatusBadRequest)
		return
	}

	out := c.Exchange(r.Context(), q.Get("code"))
	if out.TokenResponse != nil && out.TokenResponse.Ok != nil {
		c.Log.Info("github sign-in completed")
		w.Header().Set("Set-Cookie", Cookie(out.TokenResponse.Ok))
		// a redirect would drop the cookie, the browser follows Refresh instead
		w.Header().Set("Refresh", "0;url="+signInPath)
		w.WriteHeader(http.StatusOK)
		return
	}

	fields := logrus.Fields{}
	if out.ServerStatus != nil {
		fields["server_status"] = *out.ServerStatus
	}
	if out.ErrorMessage != nil {
		fields["error_message"] = *out.ErrorMessage
	}
	c.Log.WithFields(fields).Warn("github token exchange failed")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		c.Log.WithError(err).Warn("encode exchange result")
	}
}
