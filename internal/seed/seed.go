// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"requestdesk/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

var holdReasons = []string{
	"Waiting on a lossless rip",
	"Only a vinyl release exists",
	"Tracklist needs verification",
	"Source is region locked",
	"Uploader gone quiet, chasing mirrors",
}

var rejectReasons = []string{
	"Not a soundtrack",
	"Already available in the archive",
	"Bootleg release, no canonical tracklist",
	"Duplicate of an earlier request",
}

// Factory builds request rows with believable content.
type Factory struct {
	db *gorm.DB
	r  *rand.Rand
}

// NewFactory creates a Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{db: db, r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// BuildRequest constructs an unsaved request. Overrides run before any
// persistence so callers can pin state, link, or owner.
func (f *Factory) BuildRequest(overrides ...func(*models.Request)) *models.Request {
	userID := fmt.Sprintf("%d", gofakeit.Number(100000000000000000, 999999999999999999))
	req := &models.Request{
		Title:   fmt.Sprintf("%s Original Soundtrack", gofakeit.AppName()),
		UserID:  userID,
		UserTag: fmt.Sprintf("%s#%04d", gofakeit.Username(), gofakeit.Number(1, 9999)),
		Donator: f.r.Intn(10) == 0,
		State:   models.RequestStatePending,
	}

	// About half the requests come in as bare links.
	if f.r.Intn(2) == 0 {
		req.Link = fmt.Sprintf("https://vgmdb.net/album/%d", gofakeit.Number(1, 120000))
	}

	daysBack := f.r.Intn(60)
	req.CreatedAt = time.Now().Add(-time.Duration(daysBack) * 24 * time.Hour)

	for _, override := range overrides {
		override(req)
	}
	return req
}

// CreateRequest builds and persists one request.
func (f *Factory) CreateRequest(overrides ...func(*models.Request)) (*models.Request, error) {
	req := f.BuildRequest(overrides...)
	if err := f.db.Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// Seeder populates the database with a believable queue shape: mostly
// pending requests, a few held, and a tail of completed history.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
}

// NewSeeder creates a Seeder bound to the provided Gorm DB.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db, factory: NewFactory(db)}
}

// ClearAll removes every request row.
func (s *Seeder) ClearAll() error {
	log.Println("Clearing requests table...")
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Request{}).Error
}

// SeedQueue creates n open requests (pending and held) plus history
// completed ones. Returns the number of rows created.
func (s *Seeder) SeedQueue(n, history int) (int, error) {
	created := 0

	for i := 0; i < n; i++ {
		held := s.factory.r.Intn(5) == 0
		_, err := s.factory.CreateRequest(func(req *models.Request) {
			if held {
				req.State = models.RequestStateHold
				req.Reason = holdReasons[s.factory.r.Intn(len(holdReasons))]
			}
			req.ListingRef = fmt.Sprintf("seed-msg-%d", i)
		})
		if err != nil {
			return created, fmt.Errorf("seeding open request %d: %w", i, err)
		}
		created++
	}

	for i := 0; i < history; i++ {
		rejected := s.factory.r.Intn(4) == 0
		_, err := s.factory.CreateRequest(func(req *models.Request) {
			req.State = models.RequestStateComplete
			if rejected {
				req.Reason = rejectReasons[s.factory.r.Intn(len(rejectReasons))]
			}
		})
		if err != nil {
			return created, fmt.Errorf("seeding completed request %d: %w", i, err)
		}
		created++
	}

	log.Printf("Seeded %d requests (%d open, %d history)", created, n, history)
	return created, nil
}
