package medicine

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/medtrack/internal/expiry"
	"github.com/zombor/medtrack/internal/scanning"
)

var (
	// ErrNameRequired is returned when a medicine would end up without a name
	ErrNameRequired = errors.New("medicine name is required")

	// ErrStorageUnavailable wraps persistence failures on write paths
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IDGenerator generates unique IDs for medicines
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs, which are never reused
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service is the medicine record store. Reads never fail: a storage error
// degrades to an empty result so the list can always be rendered. Writes
// wrap storage errors in ErrStorageUnavailable.
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID ids and the wall clock
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

func unavailable(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, action, err)
}

// Now returns the service clock, used as the reference date for statuses
func (s *Service) Now() time.Time {
	return s.timeSource.Now()
}

// Status classifies a medicine against the service clock
func (s *Service) Status(m *Medicine) expiry.Status {
	return expiry.Classify(m.ExpiryDate, s.Now())
}

// Add stores a new medicine. The id and creation time are assigned when
// absent; the assigned id is returned. m is only updated once the medicine
// has been stored.
func (s *Service) Add(m *Medicine) (string, error) {
	record := *m
	record.Name = strings.TrimSpace(record.Name)
	if record.Name == "" {
		return "", ErrNameRequired
	}
	record.ExpiryDate = strings.TrimSpace(record.ExpiryDate)

	if record.ID == "" {
		record.ID = s.idGenerator.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.timeSource.Now()
	}
	record.UpdatedAt = record.CreatedAt

	if err := s.db.InsertMedicine(&record); err != nil {
		if errors.Is(err, ErrDuplicateID) {
			return "", err
		}
		return "", unavailable("saving medicine", err)
	}

	*m = record
	return record.ID, nil
}

// List returns every medicine in insertion order
func (s *Service) List() []*Medicine {
	medicines, err := s.db.ListMedicines()
	if err != nil {
		slog.Warn("Failed to list medicines", "error", err)
		return []*Medicine{}
	}
	return medicines
}

// Get returns a medicine, or nil when it does not exist or cannot be read
func (s *Service) Get(id string) *Medicine {
	medicine, err := s.db.GetMedicine(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("Failed to get medicine", "id", id, "error", err)
		}
		return nil
	}
	return medicine
}

// Update merges patch into a stored medicine. It reports false when the
// medicine does not exist.
func (s *Service) Update(id string, patch Patch) (bool, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return false, ErrNameRequired
	}

	now := s.timeSource.Now()
	_, err := s.db.UpdateMedicine(id, func(m *Medicine) {
		patch.apply(m)
		m.UpdatedAt = now
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("updating medicine", err)
	}
	return true, nil
}

// Delete removes a medicine and, best effort, its label photo. It reports
// whether anything was removed.
func (s *Service) Delete(id string) (bool, error) {
	removed, err := s.db.DeleteMedicine(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("deleting medicine", err)
	}

	if removed != nil {
		s.deleteImage(removed)
	}
	return true, nil
}

func (s *Service) deleteImage(m *Medicine) {
	if m.ImageURI == "" || s.storage == nil {
		return
	}
	if err := s.storage.Delete(m.ImageURI); err != nil {
		slog.Warn("Failed to delete label photo", "id", m.ID, "image_uri", m.ImageURI, "error", err)
	}
}

// Clear removes every medicine and every stored label photo, including photos
// of scanned drafts that were never added
func (s *Service) Clear() error {
	medicines := s.List()
	if err := s.db.ClearMedicines(); err != nil {
		return unavailable("clearing medicines", err)
	}
	s.sweepImages(medicines)
	return nil
}

func (s *Service) sweepImages(medicines []*Medicine) {
	if s.storage == nil {
		return
	}

	refs, err := s.storage.List()
	if err != nil {
		slog.Warn("Failed to list label photos, removing known ones only", "error", err)
		for _, m := range medicines {
			s.deleteImage(m)
		}
		return
	}
	for _, ref := range refs {
		if err := s.storage.Delete(ref); err != nil {
			slog.Warn("Failed to delete label photo", "image_uri", ref, "error", err)
		}
	}
}

// Expiring returns the medicines that are not expired and whose expiry month
// starts within thresholdDays
func (s *Service) Expiring(thresholdDays int) []MedicineWithDays {
	now := s.timeSource.Now()
	return s.annotate(now, func(m *Medicine) bool {
		return expiry.Classify(m.ExpiryDate, now).Level != expiry.Expired &&
			expiry.IsExpiringSoon(m.ExpiryDate, thresholdDays, now)
	})
}

// Expired returns the medicines whose expiry month has been reached
func (s *Service) Expired() []MedicineWithDays {
	now := s.timeSource.Now()
	return s.annotate(now, func(m *Medicine) bool {
		return expiry.IsExpired(m.ExpiryDate, now)
	})
}

func (s *Service) annotate(now time.Time, keep func(m *Medicine) bool) []MedicineWithDays {
	results := make([]MedicineWithDays, 0)
	for _, m := range s.List() {
		if !keep(m) {
			continue
		}
		days, _ := expiry.DaysUntilExpiry(m.ExpiryDate, now)
		results = append(results, MedicineWithDays{Medicine: m, DaysUntilExpiry: days})
	}
	return results
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename trims the long, symbol-laden names phone cameras produce
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "label"
	}
	return base + ext
}

// ScanLabel stores a label photo and extracts a draft medicine from it.
// Whatever the scanner finds, including nothing, is a valid draft.
func (s *Service) ScanLabel(filename string, data []byte, contentType string) (*Draft, error) {
	ref, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	label, err := s.scanner.ScanLabel(data, contentType)
	if err != nil {
		slog.Error("Failed to scan label",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(ref); delErr != nil {
			slog.Warn("Failed to remove unscanned photo", "image_uri", ref, "error", delErr)
		}
		return nil, fmt.Errorf("scanning label: %w", err)
	}

	return &Draft{
		Name:       label.Name,
		Company:    label.Company,
		ExpiryDate: label.ExpiryDate,
		ImageURI:   ref,
	}, nil
}

// GetImage returns the label photo of a medicine and its content type
func (s *Service) GetImage(id string) ([]byte, string, error) {
	m := s.Get(id)
	if m == nil || m.ImageURI == "" {
		return nil, "", fmt.Errorf("image for medicine %s: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(m.ImageURI)
	if err != nil {
		return nil, "", fmt.Errorf("getting label photo: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(m.ImageURI))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
