package types

import "time"

// Ward is one administrative ward within a county.
type Ward struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// County is the geographic unit a report covers. Counties are reference data
// maintained by the counties CRUD surface; the pipeline's validation stage
// verifies the target county exists before any external call is made.
type County struct {
	// ID is the 2-digit KNBS county code, e.g. "31".
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Wards     []Ward    `json:"wards" db:"wards"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WardByID returns the ward with the given id, if present.
func (c *County) WardByID(id string) (Ward, bool) {
	for _, w := range c.Wards {
		if w.ID == id {
			return w, true
		}
	}
	return Ward{}, false
}
