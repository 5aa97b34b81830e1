package services

import (
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/models"
)

// GetOrCreateCustomer resolves the billing customer for a user, creating one
// remotely and persisting the reference on first use.
func GetOrCreateCustomer(gdb *gorm.DB, gw billing.Gateway, userID uint) (*stripe.Customer, error) {
	var user models.User
	if err := gdb.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}

	if user.CustomerID != "" {
		cust, err := gw.GetCustomer(user.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("%w: retrieve customer: %v", billing.ErrGateway, err)
		}
		return cust, nil
	}

	cust, err := gw.CreateCustomer(user.Email, user.FullName(), map[string]string{
		"userId": strconv.FormatUint(uint64(user.ID), 10),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create customer: %v", billing.ErrGateway, err)
	}

	if err := gdb.Model(&models.User{}).Where("id = ?", user.ID).
		Update("customer_id", cust.ID).Error; err != nil {
		return nil, err
	}
	return cust, nil
}
