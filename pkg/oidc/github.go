// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/logging"
)

type githubUser struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	Name  string  `json:"name"`
	Email *string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// fetchGitHubProfile reads /user and, when the profile hides the email,
// /user/emails to pick the primary address.
func fetchGitHubProfile(ctx context.Context, c *Client, cfg *ProviderConfig, accessToken string) (*NormalizedUser, error) {
	logger := logging.NewStructuredLoggerFromContext(ctx, "oidc-github")

	if cfg.UserinfoEndpoint == "" {
		return nil, requireFields(ProviderGitHub, map[string]string{"USERINFO_ENDPOINT": ""})
	}

	var user githubUser
	if err := c.getJSON(ctx, cfg.UserinfoEndpoint, accessToken, &user); err != nil {
		logger.WithError(err).Error("failed to fetch GitHub profile")
		return nil, err
	}
	if user.ID == 0 {
		logger.Error("GitHub profile has no id")
		return nil, errors.New(errors.ErrCodeProfileFetchFailed, "GitHub profile has no id")
	}

	normalized := &NormalizedUser{
		Subject: strconv.FormatInt(user.ID, 10),
		Name:    user.Name,
	}
	if normalized.Name == "" {
		normalized.Name = user.Login
	}
	if user.Email != nil && *user.Email != "" {
		normalized.Email = *user.Email
		return normalized, nil
	}

	logger.Debug("profile email is private, fetching email list")
	var emails []githubEmail
	emailsURL := strings.TrimSuffix(cfg.UserinfoEndpoint, "/") + "/emails"
	if err := c.getJSON(ctx, emailsURL, accessToken, &emails); err != nil {
		logger.WithError(err).Error("failed to fetch GitHub emails")
		return nil, err
	}
	normalized.Email = primaryEmail(emails)
	return normalized, nil
}

// primaryEmail prefers the verified primary address, then any primary one.
func primaryEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email
		}
	}
	return ""
}

// getJSON performs an authenticated profile GET. Error bodies are logged at
// debug level only and never returned.
func (c *Client) getJSON(ctx context.Context, url, accessToken string, v interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeProfileFetchFailed, "failed to create profile request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeProfileFetchFailed, "profile request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeProfileFetchFailed, "failed to read profile response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.NewStructuredLoggerFromContext(ctx, "oidc-github").
			WithField("status_code", resp.StatusCode).
			WithField("body", truncate(string(body), 256)).
			Debug("profile request returned error status")
		return errors.New(errors.ErrCodeProfileFetchFailed, "profile request failed").
			WithDetails("status_code", resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeProfileFetchFailed, "failed to decode profile response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
