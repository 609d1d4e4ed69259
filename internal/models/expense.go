package models

import "math"

// Expense is a priced entry owned by exactly one user.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string `json:"id"`

	// Description is what was bought (1-200 characters).
	Description string `json:"description"`

	// Price is the unit price. Never negative.
	Price float64 `json:"price"`

	// Quantity is the number of units, at least 1.
	Quantity int `json:"quantity"`

	// TotalPrice is Price x Quantity.
	TotalPrice float64 `json:"totalPrice"`

	// OwnerID is the user who created the expense. Only the owner may change it.
	OwnerID string `json:"ownerId"`

	// SharedWith lists friends the expense was shared with.
	SharedWith []string `json:"sharedWith"`

	// CreatedAt is the Unix timestamp when the expense was created.
	CreatedAt int64 `json:"createdAt"`

	// UpdatedAt is the Unix timestamp of the last update.
	UpdatedAt int64 `json:"updatedAt"`
}

// TotalTolerance is the largest accepted gap between a client supplied total
// and Price x Quantity.
const TotalTolerance = 0.005

// ComputeTotal returns price x quantity rounded to cents.
func ComputeTotal(price float64, quantity int) float64 {
	return math.Round(price*float64(quantity)*100) / 100
}

// TotalMatches reports whether total equals price x quantity within one cent.
func TotalMatches(total, price float64, quantity int) bool {
	return math.Abs(total-price*float64(quantity)) <= TotalTolerance
}

// IsSharedWith reports whether userID is one of the expense's participants.
func (e *Expense) IsSharedWith(userID string) bool {
	for _, id := range e.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}
