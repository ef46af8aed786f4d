// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package policy holds the credential matrix: which providers each credential
// type may come from, and which of subject and secret it must carry.
package policy

import (
	"fmt"
	"sort"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// CredentialType is the kind of stored credential.
type CredentialType string

const (
	CredentialPassword CredentialType = "PASSWORD"
	CredentialOIDC     CredentialType = "OIDC"
)

// Provider is where a credential comes from.
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
	ProviderGitHub Provider = "GITHUB"
)

// CredentialRule describes one credential type.
type CredentialRule struct {
	Providers       []Provider
	SubjectRequired bool
	SecretRequired  bool
}

// DefaultRules is the built-in matrix. Passwords are local and carry only a
// secret; federated credentials carry only the provider subject.
var DefaultRules = map[CredentialType]CredentialRule{
	CredentialPassword: {
		Providers:      []Provider{ProviderLocal},
		SecretRequired: true,
	},
	CredentialOIDC: {
		Providers:       []Provider{ProviderGoogle, ProviderGitHub},
		SubjectRequired: true,
	},
}

const matrixModel = `
[request_definition]
r = type, provider

[policy_definition]
p = type, provider

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.type == p.type && r.provider == p.provider
`

// Matrix evaluates credentials against a rule table. The provider allow-list
// is enforced by casbin; field presence is checked against the rule.
type Matrix struct {
	rules    map[CredentialType]CredentialRule
	enforcer *casbin.Enforcer
}

// NewMatrix builds a Matrix from rules.
func NewMatrix(rules map[CredentialType]CredentialRule) (*Matrix, error) {
	m, err := model.NewModelFromString(matrixModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential enforcer: %w", err)
	}

	copied := make(map[CredentialType]CredentialRule, len(rules))
	for credType, rule := range rules {
		rule.Providers = append([]Provider(nil), rule.Providers...)
		copied[credType] = rule
		for _, provider := range rule.Providers {
			if _, err := enforcer.AddPolicy(string(credType), string(provider)); err != nil {
				return nil, fmt.Errorf("failed to add credential rule %s/%s: %w", credType, provider, err)
			}
		}
	}

	return &Matrix{rules: copied, enforcer: enforcer}, nil
}

var defaultMatrix = mustMatrix(DefaultRules)

func mustMatrix(rules map[CredentialType]CredentialRule) *Matrix {
	m, err := NewMatrix(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Default returns the Matrix built from DefaultRules.
func Default() *Matrix {
	return defaultMatrix
}

// Evaluate reports whether a credential of credType from provider with the
// given subject and secret is acceptable. A nil or empty value counts as
// absent. Presence is strict both ways: a required field must be present and
// a field that is not required must be absent.
func (m *Matrix) Evaluate(credType CredentialType, provider Provider, subject, secret *string) bool {
	rule, ok := m.rules[credType]
	if !ok {
		return false
	}

	allowed, err := m.enforcer.Enforce(string(credType), string(provider))
	if err != nil || !allowed {
		return false
	}

	if present(subject) != rule.SubjectRequired {
		return false
	}
	return present(secret) == rule.SecretRequired
}

// Rule returns the rule for credType.
func (m *Matrix) Rule(credType CredentialType) (CredentialRule, bool) {
	rule, ok := m.rules[credType]
	return rule, ok
}

// Types lists the credential types in sorted order.
func (m *Matrix) Types() []CredentialType {
	types := make([]CredentialType, 0, len(m.rules))
	for t := range m.rules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Evaluate checks a credential against the default matrix.
func Evaluate(credType CredentialType, provider Provider, subject, secret *string) bool {
	return defaultMatrix.Evaluate(credType, provider, subject, secret)
}

func present(v *string) bool {
	return v != nil && *v != ""
}
