package medicine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	medicineBucketName = "medicines"
	indexBucketName    = "medicine_ids"
	bindingBucketName  = "reminders"
)

var (
	// ErrNotFound is returned when a medicine or binding does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when inserting a medicine whose id is taken
	ErrDuplicateID = errors.New("medicine id already exists")
)

// BindingStore persists the medicine id to reminder id table
type BindingStore interface {
	// SaveBinding sets the reminder for a medicine, replacing any previous one
	SaveBinding(medicineID, reminderID string) error

	// GetBinding returns the reminder id bound to a medicine
	GetBinding(medicineID string) (string, error)

	// ListBindings returns the whole table
	ListBindings() (map[string]string, error)

	// DeleteBinding removes the binding of a medicine, if any
	DeleteBinding(medicineID string) error

	// ClearBindings removes every binding
	ClearBindings() error
}

// DB defines the interface for database operations
type DB interface {
	BindingStore

	// InsertMedicine appends a new medicine
	InsertMedicine(m *Medicine) error

	// GetMedicine retrieves a medicine by ID
	GetMedicine(id string) (*Medicine, error)

	// ListMedicines returns all medicines in insertion order
	ListMedicines() ([]*Medicine, error)

	// UpdateMedicine applies fn to a stored medicine and saves the result in
	// the same transaction
	UpdateMedicine(id string, fn func(m *Medicine)) (*Medicine, error)

	// DeleteMedicine removes a medicine and returns what was removed
	DeleteMedicine(id string) (*Medicine, error)

	// ClearMedicines removes every medicine
	ClearMedicines() error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Medicines are keyed by an
// insertion sequence so that iteration preserves insertion order; a second
// bucket maps medicine ids to their sequence key.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{medicineBucketName, indexBucketName, bindingBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// InsertMedicine appends a medicine
func (b *BoltDB) InsertMedicine(m *Medicine) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		medicines := tx.Bucket([]byte(medicineBucketName))
		index := tx.Bucket([]byte(indexBucketName))

		if index.Get([]byte(m.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
		}

		seq, err := medicines.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshaling medicine: %w", err)
		}

		key := sequenceKey(seq)
		if err := medicines.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(m.ID), key)
	})
}

// GetMedicine retrieves a medicine by ID
func (b *BoltDB) GetMedicine(id string) (*Medicine, error) {
	var medicine *Medicine
	err := b.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(indexBucketName)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("medicine %s: %w", id, ErrNotFound)
		}
		data := tx.Bucket([]byte(medicineBucketName)).Get(key)
		if data == nil {
			return fmt.Errorf("medicine %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &medicine)
	})
	if err != nil {
		return nil, err
	}
	return medicine, nil
}

// ListMedicines returns all medicines in insertion order
func (b *BoltDB) ListMedicines() ([]*Medicine, error) {
	medicines := make([]*Medicine, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(medicineBucketName)).ForEach(func(k, v []byte) error {
			var medicine Medicine
			if err := json.Unmarshal(v, &medicine); err != nil {
				return fmt.Errorf("unmarshaling medicine: %w", err)
			}
			medicines = append(medicines, &medicine)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return medicines, nil
}

// UpdateMedicine reads, modifies and writes a medicine in one transaction.
// The id and creation time are restored after fn runs.
func (b *BoltDB) UpdateMedicine(id string, fn func(m *Medicine)) (*Medicine, error) {
	var updated *Medicine
	err := b.db.Update(func(tx *bbolt.Tx) error {
		medicines := tx.Bucket([]byte(medicineBucketName))
		key := tx.Bucket([]byte(indexBucketName)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("medicine %s: %w", id, ErrNotFound)
		}

		var medicine Medicine
		if err := json.Unmarshal(medicines.Get(key), &medicine); err != nil {
			return fmt.Errorf("unmarshaling medicine: %w", err)
		}

		createdAt := medicine.CreatedAt
		fn(&medicine)
		medicine.ID = id
		medicine.CreatedAt = createdAt

		data, err := json.Marshal(&medicine)
		if err != nil {
			return fmt.Errorf("marshaling medicine: %w", err)
		}
		updated = &medicine
		return medicines.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteMedicine removes a medicine from the database
func (b *BoltDB) DeleteMedicine(id string) (*Medicine, error) {
	var removed *Medicine
	err := b.db.Update(func(tx *bbolt.Tx) error {
		medicines := tx.Bucket([]byte(medicineBucketName))
		index := tx.Bucket([]byte(indexBucketName))

		key := index.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("medicine %s: %w", id, ErrNotFound)
		}
		if data := medicines.Get(key); data != nil {
			if err := json.Unmarshal(data, &removed); err != nil {
				return fmt.Errorf("unmarshaling medicine: %w", err)
			}
		}

		// key is only valid for the life of the transaction; copy before mutating
		seqKey := append([]byte(nil), key...)
		if err := index.Delete([]byte(id)); err != nil {
			return err
		}
		return medicines.Delete(seqKey)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ClearMedicines removes every medicine. The sequence keeps counting so keys
// are never reused.
func (b *BoltDB) ClearMedicines() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{medicineBucketName, indexBucketName} {
			if err := clearBucket(tx.Bucket([]byte(name))); err != nil {
				return fmt.Errorf("clearing %s: %w", name, err)
			}
		}
		return nil
	})
}

func clearBucket(bucket *bbolt.Bucket) error {
	c := bucket.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// SaveBinding stores the reminder id for a medicine
func (b *BoltDB) SaveBinding(medicineID, reminderID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bindingBucketName)).Put([]byte(medicineID), []byte(reminderID))
	})
}

// GetBinding retrieves the reminder id bound to a medicine
func (b *BoltDB) GetBinding(medicineID string) (string, error) {
	var reminderID string
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bindingBucketName)).Get([]byte(medicineID))
		if data == nil {
			return fmt.Errorf("binding %s: %w", medicineID, ErrNotFound)
		}
		reminderID = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return reminderID, nil
}

// ListBindings returns every binding
func (b *BoltDB) ListBindings() (map[string]string, error) {
	bindings := make(map[string]string)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bindingBucketName)).ForEach(func(k, v []byte) error {
			bindings[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

// DeleteBinding removes the binding of a medicine
func (b *BoltDB) DeleteBinding(medicineID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bindingBucketName)).Delete([]byte(medicineID))
	})
}

// ClearBindings removes every binding
func (b *BoltDB) ClearBindings() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return clearBucket(tx.Bucket([]byte(bindingBucketName)))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
