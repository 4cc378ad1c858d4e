package tools

import (
	"strings"

	"github.com/haasonsaas/mailops/pkg/models"
)

// UnauthorizedMessage is returned for privileged calls from callers outside the allow-list.
const UnauthorizedMessage = "Origin email is unauthorized to perform this action"

// CallerContext identifies who triggered the current completion round.
// It is passed explicitly to every tool invocation.
type CallerContext struct {
	OriginAddress string
}

// Authorizer checks callers against the configured allow-list.
type Authorizer struct {
	allowed map[string]struct{}
}

// NewAuthorizer builds an allow-list. Matching is case-insensitive.
func NewAuthorizer(addresses []string) *Authorizer {
	allowed := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		if normalized := models.NormalizeAddress(addr); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	return &Authorizer{allowed: allowed}
}

// Authorized reports whether the caller may run privileged actions.
func (a *Authorizer) Authorized(caller CallerContext) bool {
	if a == nil || strings.TrimSpace(caller.OriginAddress) == "" {
		return false
	}
	_, ok := a.allowed[models.NormalizeAddress(caller.OriginAddress)]
	return ok
}
