package entitlement

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/davidgeissler/newsprint/app/models"
)

// lookupStrategy resolves one identity hint into at most one record.
type lookupStrategy struct {
	name string
	key  func(IdentityHints) string
	find func(Repository, string) (*models.EntitlementRecord, error)
}

// lookupOrder is the fixed identity priority, first match wins. Provider
// identifiers come first because they are the least ambiguous, the external
// user id next because the owning application controls it, and email last
// because it is neither unique nor stable over time.
var lookupOrder = []lookupStrategy{
	{
		name: "provider_subscription_id",
		key:  func(h IdentityHints) string { return strings.TrimSpace(h.ProviderSubscriptionID) },
		find: Repository.FindByProviderSubscriptionID,
	},
	{
		name: "provider_customer_id",
		key:  func(h IdentityHints) string { return strings.TrimSpace(h.ProviderCustomerID) },
		find: Repository.FindByProviderCustomerID,
	},
	{
		name: "user_external_id",
		key:  func(h IdentityHints) string { return strings.TrimSpace(h.UserExternalID) },
		find: Repository.FindByUserExternalID,
	},
	{
		name: "user_email",
		key:  func(h IdentityHints) string { return NormalizeEmail(h.UserEmail) },
		find: Repository.FindLatestByUserEmail,
	},
}

// ResolveRecord locates at most one existing record for the given hints,
// walking lookupOrder and short-circuiting on the first hit. A full miss is
// (nil, nil), not an error.
func ResolveRecord(repo Repository, hints IdentityHints) (*models.EntitlementRecord, error) {
	for _, strategy := range lookupOrder {
		key := strategy.key(hints)
		if key == "" {
			continue
		}
		rec, err := strategy.find(repo, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}
