package models

import "time"

// User roles. KID and CONTACT records are created by a parent; USER is the
// default for identity-provider sign-ups.
const (
	RoleKid       = "KID"
	RoleParent    = "PARENT"
	RoleAdmin     = "ADMIN"
	RoleUser      = "USER"
	RoleContact   = "CONTACT"
	RoleStudent   = "STUDENT"
	RoleModerator = "MODERATOR"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Program types. "All" programs are open collaborations with no gender gate.
const (
	ProgramBoys  = "Boys"
	ProgramGirls = "Girls"
	ProgramAll   = "All"
)

// Enrollment statuses. The local status is a cache of the billing
// subscription state; the webhook reconciler is the authoritative writer.
const (
	EnrollmentActive   = "active"
	EnrollmentTrialing = "trialing"
	EnrollmentCanceled = "canceled"
	EnrollmentRemoved  = "removed" // hidden from the contact's profile, billing untouched
)

type User struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	IdentityID string `gorm:"index"` // external auth subject id
	CustomerID string `gorm:"index"` // billing customer reference

	Avatar    string
	Email     string
	Gender    string // Male | Female
	Birthday  *time.Time
	Allergies string
	Phone     string
	Address   string
	FirstName string
	LastName  string
	Notes     string

	Role   string `gorm:"index;default:USER"`
	Status string `gorm:"index;default:active"`

	// A kid holds at most one current enrollment.
	EnrollmentID *uint

	ParentID *uint
	QRCodeID *uint
}

func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Program struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name        string
	Description string
	StartDate   string
	EndDate     string
	Type        string // Boys | Girls | All
	MaxStudents int
	MaxAge      int

	Price     int64 // monthly price in cents
	PriceID   string
	ProductID string

	// Denormalized active-enrollment counter. Mutated only through guarded
	// single-statement updates, never read-modify-write.
	Enrollments int  `gorm:"default:0"`
	Active      bool `gorm:"default:true"`
}

type Enrollment struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ProgramID uint `gorm:"index"`
	ContactID uint `gorm:"index"`
	KidID     uint `gorm:"index"`

	SubscriptionID  string `gorm:"uniqueIndex"`
	PaymentMethodID string

	ProgramPrice  int64
	PaymentMethod string // display label, e.g. "visa 4242"
	Status        string `gorm:"index"`
	InvoicePDF    string
}

// Attendance holds one record per (kid, day key). The unique index lives in
// db.Init because GORM tags can't express the composite.
type Attendance struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	KidID   uint   `gorm:"index"`
	DateKey string `gorm:"index"` // 2006-01-02 in the org timezone

	CheckedInAt  *time.Time
	CheckedOutAt *time.Time
}

type QRCode struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	KidID   uint   `gorm:"uniqueIndex"`
	Code    string `gorm:"uniqueIndex"`
	ScanURL string

	EyeColor  string
	BgColor   string
	FgColor   string
	QRStyle   string
	LogoWidth int
	EyeRadius int
}

type Course struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Title        string
	Slug         string `gorm:"uniqueIndex"`
	Description  string
	PreviewImage string
	Price        int64
}

type Lesson struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	CourseID uint `gorm:"index"`
	Title    string
	VideoURL string
	Position int
}

type Purchase struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	CourseID uint `gorm:"index"`
	UserID   uint `gorm:"index"`
	Access   bool `gorm:"default:true"`
}
