package accommodation

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05"

	ActionList         = "list"
	MsgInvalidEndpoint = "Invalid endpoint"
)

// kst is the zone the pricing windows are defined in.
var kst = time.FixedZone("KST", 9*60*60)

type RoomType struct {
	Type      string `json:"type"`
	Price     int    `json:"price"`
	Available int    `json:"available"`
}

type Accommodation struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Location       string     `json:"location"`
	Address        string     `json:"address"`
	Rating         float64    `json:"rating"`
	Reviews        int        `json:"reviews"`
	PriceRange     string     `json:"price_range"`
	BasePrice      int        `json:"base_price"`
	CurrentPrice   int        `json:"current_price"`
	DiscountRate   int        `json:"discount_rate"`
	AvailableRooms int        `json:"available_rooms"`
	Features       []string   `json:"features"`
	RoomTypes      []RoomType `json:"room_types"`
	Images         []string   `json:"images"`
	LastUpdated    string     `json:"last_updated"`
}

// Filters are equality predicates; empty fields match everything.
type Filters struct {
	Type       string `form:"type" validate:"omitempty,max=64"`
	Location   string `form:"location" validate:"omitempty,max=64"`
	PriceRange string `form:"price_range" validate:"omitempty,max=64"`
}

func (f Filters) match(listing Accommodation) bool {
	if f.Type != "" && listing.Type != f.Type {
		return false
	}
	if f.Location != "" && listing.Location != f.Location {
		return false
	}
	if f.PriceRange != "" && listing.PriceRange != f.PriceRange {
		return false
	}
	return true
}

// ListResponse is the body of a successful list action.
type ListResponse struct {
	Success   bool            `json:"success"`
	Data      []Accommodation `json:"data"`
	Count     int             `json:"count"`
	Timestamp string          `json:"timestamp"`
}

// ErrorResponse is the body for unknown actions and rejected filters.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Catalog serves listings with time-of-day pricing and simulated room stock.
type Catalog struct {
	listings []Accommodation
	now      func() time.Time

	randMu sync.Mutex
	rng    *rand.Rand
}

// NewCatalog wraps listings. Nil now and rng use the wall clock and a
// time-seeded source.
func NewCatalog(listings []Accommodation, now func() time.Time, rng *rand.Rand) *Catalog {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Catalog{listings: listings, now: now, rng: rng}
}

// PriceMultiplier is the time-of-day factor applied to base prices:
// 01-06h is discounted most, 10-18h is full price, other hours slightly off.
func PriceMultiplier(hour int) float64 {
	switch {
	case hour >= 1 && hour <= 6:
		return 0.85
	case hour >= 10 && hour <= 18:
		return 1.0
	default:
		return 0.95
	}
}

// List returns the listings matching filters, priced for the current hour.
func (c *Catalog) List(filters Filters) ListResponse {
	current := c.now().In(kst)
	multiplier := PriceMultiplier(current.Hour())
	stamp := current.Format(timestampLayout)

	data := make([]Accommodation, 0, len(c.listings))
	for _, listing := range c.listings {
		if !filters.match(listing) {
			continue
		}
		priced := clone(listing)
		priced.CurrentPrice = int(math.Round(float64(listing.BasePrice) * multiplier))
		priced.DiscountRate = int(math.Round((1 - multiplier) * 100))
		priced.AvailableRooms = c.roomsLeft()
		priced.LastUpdated = stamp
		data = append(data, priced)
	}

	return ListResponse{
		Success:   true,
		Data:      data,
		Count:     len(data),
		Timestamp: stamp,
	}
}

// roomsLeft simulates stock between 3 and 15 rooms.
func (c *Catalog) roomsLeft() int {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return 3 + c.rng.Intn(13)
}

func clone(listing Accommodation) Accommodation {
	out := listing
	out.Features = append([]string(nil), listing.Features...)
	out.RoomTypes = append([]RoomType(nil), listing.RoomTypes...)
	out.Images = append([]string(nil), listing.Images...)
	return out
}
