package classify

import "context"

// SenderValidator decides whether a sender address may submit documents.
type SenderValidator interface {
	ValidSender(ctx context.Context, email string) (bool, error)
}

// AllowList is a static set of permitted sender addresses. Matching is
// exact and case-sensitive.
type AllowList map[string]struct{}

var _ SenderValidator = AllowList(nil)

// NewAllowList builds an AllowList from addresses.
func NewAllowList(addresses []string) AllowList {
	a := make(AllowList, len(addresses))
	for _, addr := range addresses {
		a[addr] = struct{}{}
	}
	return a
}

// Contains reports whether email is allowed.
func (a AllowList) Contains(email string) bool {
	_, ok := a[email]
	return ok
}

// ValidSender implements SenderValidator.
func (a AllowList) ValidSender(_ context.Context, email string) (bool, error) {
	return email != "" && a.Contains(email), nil
}
