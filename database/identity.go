/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// AccessToken is an opaque bearer token and its expiry.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenSource issues access tokens for managed database instances.
type TokenSource interface {
	GetAccessToken(ctx context.Context, scope string) (AccessToken, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, scope string) (AccessToken, error)

func (f TokenSourceFunc) GetAccessToken(ctx context.Context, scope string) (AccessToken, error) {
	return f(ctx, scope)
}

// AzureTokenSource obtains tokens from Microsoft Entra ID.
type AzureTokenSource struct {
	credential azcore.TokenCredential
}

// NewAzureTokenSource picks a user-assigned managed identity when a client id
// is configured, the system-assigned identity when requested, and the default
// credential chain otherwise.
func NewAzureTokenSource(cfg IdentityConfig) (*AzureTokenSource, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)
	switch {
	case cfg.ManagedIdentityClientID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(cfg.ManagedIdentityClientID),
		})
	case cfg.SystemAssigned:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}
	return &AzureTokenSource{credential: cred}, nil
}

func (s *AzureTokenSource) GetAccessToken(ctx context.Context, scope string) (AccessToken, error) {
	tok, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: tok.Token, ExpiresOn: tok.ExpiresOn}, nil
}

// CachedTokenSource keeps tokens per scope until shortly before they expire
// and collapses concurrent fetches for the same scope.
type CachedTokenSource struct {
	source        TokenSource
	refreshBefore time.Duration
	cache         *gocache.Cache
	group         singleflight.Group
	now           func() time.Time
}

func NewCachedTokenSource(source TokenSource, refreshBefore time.Duration) *CachedTokenSource {
	if refreshBefore < 0 {
		refreshBefore = 0
	}
	return &CachedTokenSource{
		source:        source,
		refreshBefore: refreshBefore,
		cache:         gocache.New(gocache.NoExpiration, 10*time.Minute),
		now:           time.Now,
	}
}

func (c *CachedTokenSource) GetAccessToken(ctx context.Context, scope string) (AccessToken, error) {
	if v, ok := c.cache.Get(scope); ok {
		return v.(AccessToken), nil
	}
	v, err, _ := c.group.Do(scope, func() (interface{}, error) {
		if v, ok := c.cache.Get(scope); ok {
			return v.(AccessToken), nil
		}
		tok, err := c.source.GetAccessToken(ctx, scope)
		if err != nil {
			return nil, err
		}
		if tok.Token == "" {
			return nil, errors.New("identity provider returned an empty token")
		}
		ttl := gocache.NoExpiration
		if !tok.ExpiresOn.IsZero() {
			ttl = tok.ExpiresOn.Sub(c.now()) - c.refreshBefore
		}
		if ttl == gocache.NoExpiration || ttl > 0 {
			c.cache.Set(scope, tok, ttl)
		}
		return tok, nil
	})
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}

// Forget drops the cached token of a scope.
func (c *CachedTokenSource) Forget(scope string) {
	c.cache.Delete(scope)
}
