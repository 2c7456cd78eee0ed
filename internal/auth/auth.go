// Package auth maps static API keys to customers.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/straja-ai/vlaguard/internal/config"
)

// Customer is the runtime identity behind an API key.
type Customer struct {
	ID string
}

// Auth holds mappings from API keys to customers. With no customers
// configured it runs open and every request is anonymous.
type Auth struct {
	apiKeyToCustomer map[string]Customer
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	m := make(map[string]Customer)

	for i, c := range cfg.Customers {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("customers[%d]: empty id", i)
		}
		for _, key := range c.APIKeys {
			if key == "" {
				continue
			}
			if prev, exists := m[key]; exists {
				return nil, fmt.Errorf("api key is assigned to multiple customers (%s, %s)", prev.ID, id)
			}
			m[key] = Customer{ID: id}
		}
	}

	return &Auth{apiKeyToCustomer: m}, nil
}

// Enabled reports whether any API key is configured.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.apiKeyToCustomer) > 0
}

// Lookup returns the customer for a given API key, if any. Keys are compared
// in constant time.
func (a *Auth) Lookup(apiKey string) (Customer, bool) {
	if a == nil || apiKey == "" {
		return Customer{}, false
	}
	var (
		found Customer
		ok    bool
	)
	for key, c := range a.apiKeyToCustomer {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			found, ok = c, true
		}
	}
	return found, ok
}

// KeyFromRequest extracts the API key from "Authorization: Bearer <key>" or
// the X-API-Key header.
func KeyFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
