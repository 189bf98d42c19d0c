package entitlement

import (
	"gorm.io/gorm"

	"github.com/davidgeissler/newsprint/app/models"
)

// Repository provides the DB operations used by the entitlement engine.
// Lookup methods return gorm.ErrRecordNotFound for misses.
type Repository interface {
	FindByProviderSubscriptionID(id string) (*models.EntitlementRecord, error)
	FindByProviderCustomerID(id string) (*models.EntitlementRecord, error)
	FindByUserExternalID(id string) (*models.EntitlementRecord, error)
	FindLatestByUserEmail(email string) (*models.EntitlementRecord, error)
	FindByUUID(uuid string) (*models.EntitlementRecord, error)
	Create(rec *models.EntitlementRecord) error
	Update(rec *models.EntitlementRecord) error
	ListRecentlyUpdated(limit int) ([]models.EntitlementRecord, error)
	Count() (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an entitlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindByProviderSubscriptionID(id string) (*models.EntitlementRecord, error) {
	return r.findOne("provider_subscription_id = ?", id)
}

func (r *gormRepository) FindByProviderCustomerID(id string) (*models.EntitlementRecord, error) {
	return r.findOne("provider_customer_id = ?", id)
}

func (r *gormRepository) FindByUserExternalID(id string) (*models.EntitlementRecord, error) {
	return r.findOne("user_external_id = ?", id)
}

// FindLatestByUserEmail returns the most recently updated record for an
// email. Emails are not unique; the newest record is authoritative.
func (r *gormRepository) FindLatestByUserEmail(email string) (*models.EntitlementRecord, error) {
	var rec models.EntitlementRecord
	err := r.db.Where("user_email = ?", email).Order("updated_at DESC").First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) FindByUUID(uuid string) (*models.EntitlementRecord, error) {
	return r.findOne("uuid = ?", uuid)
}

func (r *gormRepository) findOne(query string, arg string) (*models.EntitlementRecord, error) {
	var rec models.EntitlementRecord
	err := r.db.Where(query, arg).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) Create(rec *models.EntitlementRecord) error {
	return r.db.Create(rec).Error
}

func (r *gormRepository) Update(rec *models.EntitlementRecord) error {
	return r.db.Save(rec).Error
}

func (r *gormRepository) ListRecentlyUpdated(limit int) ([]models.EntitlementRecord, error) {
	var recs []models.EntitlementRecord
	err := r.db.Order("updated_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

func (r *gormRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&models.EntitlementRecord{}).Count(&n).Error
	return n, err
}
