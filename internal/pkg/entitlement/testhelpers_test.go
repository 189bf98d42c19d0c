package entitlement

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/davidgeissler/newsprint/app/models"
)

// fakeRepo is an in-memory Repository used across the package tests.
type fakeRepo struct {
	records       []*models.EntitlementRecord
	nextID        uint
	lastListLimit int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{}
}

// seed inserts a record directly, bypassing the sync path.
func (f *fakeRepo) seed(rec *models.EntitlementRecord) *models.EntitlementRecord {
	if err := f.Create(rec); err != nil {
		panic(err)
	}
	return rec
}

func (f *fakeRepo) FindByProviderSubscriptionID(id string) (*models.EntitlementRecord, error) {
	return f.findBy(func(r *models.EntitlementRecord) bool {
		return r.ProviderSubscriptionID != nil && *r.ProviderSubscriptionID == id
	})
}

func (f *fakeRepo) FindByProviderCustomerID(id string) (*models.EntitlementRecord, error) {
	return f.findBy(func(r *models.EntitlementRecord) bool {
		return r.ProviderCustomerID != nil && *r.ProviderCustomerID == id
	})
}

func (f *fakeRepo) FindByUserExternalID(id string) (*models.EntitlementRecord, error) {
	return f.findBy(func(r *models.EntitlementRecord) bool {
		return r.UserExternalID != nil && *r.UserExternalID == id
	})
}

func (f *fakeRepo) FindLatestByUserEmail(email string) (*models.EntitlementRecord, error) {
	var best *models.EntitlementRecord
	for _, r := range f.records {
		if r.UserEmail == nil || *r.UserEmail != email {
			continue
		}
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return best, nil
}

func (f *fakeRepo) FindByUUID(id string) (*models.EntitlementRecord, error) {
	return f.findBy(func(r *models.EntitlementRecord) bool { return r.UUID == id })
}

func (f *fakeRepo) findBy(match func(*models.EntitlementRecord) bool) (*models.EntitlementRecord, error) {
	for _, r := range f.records {
		if match(r) {
			return r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) Create(rec *models.EntitlementRecord) error {
	f.nextID++
	rec.ID = f.nextID
	if rec.UUID == "" {
		rec.UUID = uuid.New().String()
	}
	now := time.Now()
	rec.CreatedAt = now
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRepo) Update(rec *models.EntitlementRecord) error {
	rec.UpdatedAt = time.Now()
	for i, r := range f.records {
		if r.ID == rec.ID {
			f.records[i] = rec
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListRecentlyUpdated(limit int) ([]models.EntitlementRecord, error) {
	f.lastListLimit = limit
	sorted := append([]*models.EntitlementRecord(nil), f.records...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]models.EntitlementRecord, 0, len(sorted))
	for _, r := range sorted {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRepo) Count() (int64, error) {
	return int64(len(f.records)), nil
}

// fakeProvider is an in-memory ProviderClient.
type fakeProvider struct {
	subsByID         map[string]*stripe.Subscription
	subsByCustomer   map[string]*stripe.Subscription
	customersByEmail map[string]*stripe.Customer
	err              error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subsByID:         map[string]*stripe.Subscription{},
		subsByCustomer:   map[string]*stripe.Subscription{},
		customersByEmail: map[string]*stripe.Customer{},
	}
}

func (f *fakeProvider) register(sub *stripe.Subscription) {
	f.subsByID[sub.ID] = sub
	if sub.Customer != nil {
		f.subsByCustomer[sub.Customer.ID] = sub
	}
}

func (f *fakeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subsByID[id], nil
}

func (f *fakeProvider) LatestSubscriptionForCustomer(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subsByCustomer[customerID], nil
}

func (f *fakeProvider) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.customersByEmail[email], nil
}

var testPlans = PlanConfig{MonthlyPriceID: "price_month", YearlyPriceID: "price_year"}

// newTestService builds a service with a deterministic clock.
func newTestService(repo Repository, provider ProviderClient, now time.Time) *Service {
	svc := NewService(repo, provider, testPlans)
	svc.now = func() time.Time { return now }
	return svc
}

// providerSubscription builds a minimal provider subscription object with one
// line item.
func providerSubscription(id, customerID, priceID, status string, periodEnd time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Customer: &stripe.Customer{ID: customerID},
		Status:   stripe.SubscriptionStatus(status),
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					Price: &stripe.Price{
						ID:      priceID,
						Product: &stripe.Product{ID: "prod_premium"},
					},
					CurrentPeriodStart: periodEnd.Add(-30 * 24 * time.Hour).Unix(),
					CurrentPeriodEnd:   periodEnd.Unix(),
				},
			},
		},
		LatestInvoice: &stripe.Invoice{ID: "in_" + id},
	}
}
