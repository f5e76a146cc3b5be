package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Item is one entity in a feed's result set as the session sees it.
type Item struct {
	ID          uuid.UUID
	Status      string
	Fingerprint uint64
	Payload     any
}

// Fingerprint hashes the JSON encoding of the fields a client renders.
// Field order is fixed by the struct passed in, so equal content hashes
// equally across refreshes.
func Fingerprint(fields any) (uint64, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: %w", err)
	}
	return xxhash.Sum64(raw), nil
}

func NewItem(id uuid.UUID, status string, fields, payload any) (Item, error) {
	fp, err := Fingerprint(fields)
	if err != nil {
		return Item{}, err
	}
	return Item{ID: id, Status: status, Fingerprint: fp, Payload: payload}, nil
}
