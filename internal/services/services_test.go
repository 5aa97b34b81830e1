package services

import (
	"path/filepath"
	"strconv"
	"testing"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lojf/kidsclub/internal/billing/billingtest"
	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	if err := db.Init(); err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	return db.Conn()
}

func seedParentKidProgram(t *testing.T, gdb *gorm.DB, programType string, maxStudents int) (*models.User, *models.User, *models.Program) {
	t.Helper()
	parent := &models.User{
		FirstName: "Pat",
		LastName:  "Jones",
		Email:     "pat@example.com",
		Role:      models.RoleParent,
		Status:    models.StatusActive,
	}
	if err := gdb.Create(parent).Error; err != nil {
		t.Fatalf("create parent: %v", err)
	}
	kid := &models.User{
		FirstName: "Sam",
		LastName:  "Jones",
		Gender:    "Male",
		Role:      models.RoleKid,
		Status:    models.StatusActive,
		ParentID:  &parent.ID,
	}
	if err := gdb.Create(kid).Error; err != nil {
		t.Fatalf("create kid: %v", err)
	}
	program := &models.Program{
		Name:        "Robotics",
		Type:        programType,
		MaxStudents: maxStudents,
		Price:       9900,
		PriceID:     "price_robotics",
		ProductID:   "prod_robotics",
		Active:      true,
	}
	if err := gdb.Create(program).Error; err != nil {
		t.Fatalf("create program: %v", err)
	}
	return parent, kid, program
}

// addProgramSubscription seeds a remote subscription carrying the metadata
// phase one would have written for this kid and program.
func addProgramSubscription(gw *billingtest.Fake, id string, status stripe.SubscriptionStatus, kidID, programID uint) *stripe.Subscription {
	sub := gw.AddSubscription(id, status)
	sub.Metadata = map[string]string{
		"kidId":     strconv.FormatUint(uint64(kidID), 10),
		"programId": strconv.FormatUint(uint64(programID), 10),
	}
	return sub
}

func programEnrollments(t *testing.T, gdb *gorm.DB, id uint) int {
	t.Helper()
	var program models.Program
	if err := gdb.First(&program, id).Error; err != nil {
		t.Fatalf("reload program: %v", err)
	}
	return program.Enrollments
}
