package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

// GitHubUser is the subset of GitHub's /user response used to sign a citizen
// in. Email is filled from /user/emails when the profile hides it.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider runs the OAuth 2.0 authorization code flow against GitHub.
//
// The server redirects to AuthURL, GitHub calls back with a code, and Exchange
// trades the code for an access token server-to-server before reading the
// profile. The access token never reaches the browser.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a provider. callbackURL must match the
// "Authorization callback URL" registered with the GitHub OAuth App.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return newGitHubProvider(clientID, clientSecret, callbackURL, github.Endpoint, githubAPI)
}

func newGitHubProvider(clientID, clientSecret, callbackURL string, endpoint oauth2.Endpoint, apiBase string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		apiBase: strings.TrimRight(apiBase, "/"),
	}
}

// AuthURL returns the GitHub consent URL. state must be random and is checked
// against a cookie on callback to stop login CSRF.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for the user's GitHub profile. Reports
// are keyed by email, so a profile without any verified email is an error.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := p.config.Client(ctx, oauthToken)

	var ghUser GitHubUser
	if err := p.getJSON(ctx, client, "/user", &ghUser); err != nil {
		return nil, err
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	if ghUser.Email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return nil, err
		}
		ghUser.Email = primaryEmail(emails)
	}
	if ghUser.Email == "" {
		return nil, fmt.Errorf("auth: GitHub account %q has no verified email", ghUser.Login)
	}

	return &ghUser, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}

// primaryEmail picks the primary verified address, falling back to any
// verified one.
func primaryEmail(emails []githubEmail) string {
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}
