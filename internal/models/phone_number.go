package models

import (
	"time"

	"github.com/google/uuid"
)

// NumberState is the reservation state of a phone number.
type NumberState string

const (
	StateUnreserved    NumberState = "UNRESERVED"
	StatePendingReview NumberState = "PENDING_REVIEW"
	StateReserved      NumberState = "RESERVED"
)

// DefaultLockSentinel is the customer name written on system-locked numbers.
const DefaultLockSentinel = "系统锁定"

// Valid reports whether s is a known state.
func (s NumberState) Valid() bool {
	switch s {
	case StateUnreserved, StatePendingReview, StateReserved:
		return true
	}
	return false
}

// PhoneNumber is the reservation subject.
type PhoneNumber struct {
	ID              uuid.UUID   `json:"id"`
	NumberValue     string      `json:"number_value"`
	IsPremium       bool        `json:"is_premium"`
	PremiumReason   *string     `json:"premium_reason,omitempty"`
	State           NumberState `json:"state"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	PaymentAmount   *float64    `json:"payment_amount,omitempty"`
	PaymentMethod   *string     `json:"payment_method,omitempty"`
	TransactionID   *string     `json:"transaction_id,omitempty"`
	CustomerName    *string     `json:"customer_name,omitempty"`
	CustomerContact *string     `json:"customer_contact,omitempty"`
	ShippingAddress *string     `json:"shipping_address,omitempty"`
	DeliveryStatus  *string     `json:"delivery_status,omitempty"`
	TrackingNumber  *string     `json:"tracking_number,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	SchoolID        *uuid.UUID  `json:"school_id,omitempty"`
	DepartmentID    *uuid.UUID  `json:"department_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// PublicNumber is PhoneNumber without customer, payment or delivery data.
type PublicNumber struct {
	ID            uuid.UUID   `json:"id"`
	NumberValue   string      `json:"number_value"`
	IsPremium     bool        `json:"is_premium"`
	PremiumReason *string     `json:"premium_reason,omitempty"`
	State         NumberState `json:"state"`
	SchoolID      *uuid.UUID  `json:"school_id,omitempty"`
	DepartmentID  *uuid.UUID  `json:"department_id,omitempty"`
}

// ToPublic converts PhoneNumber to PublicNumber.
func (n *PhoneNumber) ToPublic() PublicNumber {
	return PublicNumber{
		ID:            n.ID,
		NumberValue:   n.NumberValue,
		IsPremium:     n.IsPremium,
		PremiumReason: n.PremiumReason,
		State:         n.State,
		SchoolID:      n.SchoolID,
		DepartmentID:  n.DepartmentID,
	}
}

// ClearCustomerData resets every customer, payment and delivery field.
func (n *PhoneNumber) ClearCustomerData() {
	n.ClaimedAt = nil
	n.PaymentAmount = nil
	n.PaymentMethod = nil
	n.TransactionID = nil
	n.CustomerName = nil
	n.CustomerContact = nil
	n.ShippingAddress = nil
	n.DeliveryStatus = nil
	n.TrackingNumber = nil
}

// Claim is a customer's tentative reservation.
type Claim struct {
	CustomerName    string
	CustomerContact string
	PaymentAmount   float64
	ShippingAddress string
	PaymentMethod   string
	TransactionID   string
}

// NumberPatch is an admin edit. Identity fields (id, number value, created
// timestamp) have no slot here, so a patch cannot touch them.
type NumberPatch struct {
	State           *NumberState `json:"state"`
	IsPremium       *bool        `json:"is_premium"`
	PremiumReason   *string      `json:"premium_reason"`
	PaymentAmount   *float64     `json:"payment_amount"`
	PaymentMethod   *string      `json:"payment_method"`
	TransactionID   *string      `json:"transaction_id"`
	CustomerName    *string      `json:"customer_name"`
	CustomerContact *string      `json:"customer_contact"`
	ShippingAddress *string      `json:"shipping_address"`
	DeliveryStatus  *string      `json:"delivery_status"`
	TrackingNumber  *string      `json:"tracking_number"`
	Notes           *string      `json:"notes"`
	SchoolID        *uuid.UUID   `json:"school_id"`
	DepartmentID    *uuid.UUID   `json:"department_id"`
}

// Apply copies every set field onto n.
func (p NumberPatch) Apply(n *PhoneNumber) {
	if p.State != nil {
		n.State = *p.State
	}
	if p.IsPremium != nil {
		n.IsPremium = *p.IsPremium
	}
	if p.PremiumReason != nil {
		n.PremiumReason = p.PremiumReason
	}
	if p.PaymentAmount != nil {
		n.PaymentAmount = p.PaymentAmount
	}
	if p.PaymentMethod != nil {
		n.PaymentMethod = p.PaymentMethod
	}
	if p.TransactionID != nil {
		n.TransactionID = p.TransactionID
	}
	if p.CustomerName != nil {
		n.CustomerName = p.CustomerName
	}
	if p.CustomerContact != nil {
		n.CustomerContact = p.CustomerContact
	}
	if p.ShippingAddress != nil {
		n.ShippingAddress = p.ShippingAddress
	}
	if p.DeliveryStatus != nil {
		n.DeliveryStatus = p.DeliveryStatus
	}
	if p.TrackingNumber != nil {
		n.TrackingNumber = p.TrackingNumber
	}
	if p.Notes != nil {
		n.Notes = p.Notes
	}
	if p.SchoolID != nil {
		n.SchoolID = p.SchoolID
	}
	if p.DepartmentID != nil {
		n.DepartmentID = p.DepartmentID
	}
}

// ListParams filters a number listing.
type ListParams struct {
	Search       string
	SchoolID     *uuid.UUID
	DepartmentID *uuid.UUID
	HideReserved bool
	Page         int
	PageSize     int
}

// NumberPage is one page of a listing.
type NumberPage struct {
	Items    []PhoneNumber `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// NumberRecord is a partial number parsed from an import line. Nil fields
// leave the stored value untouched when merged into an existing number.
type NumberRecord struct {
	NumberValue     string
	IsPremium       bool
	PremiumReason   *string
	CustomerName    *string
	CustomerContact *string
	ShippingAddress *string
	PaymentAmount   *float64
	PaymentMethod   *string
	TransactionID   *string
	Notes           *string
	SchoolID        *uuid.UUID
	DepartmentID    *uuid.UUID
}

// HasCustomerData reports whether the record carries a sale.
func (r NumberRecord) HasCustomerData() bool {
	return r.CustomerName != nil || r.CustomerContact != nil || r.ShippingAddress != nil ||
		r.PaymentAmount != nil || r.PaymentMethod != nil || r.TransactionID != nil
}

// UpsertOutcome is what a merge did to the store.
type UpsertOutcome int

const (
	UpsertCreated UpsertOutcome = iota + 1
	UpsertUpdated
	UpsertOutOfScope
)

// HasCustomerData reports whether the patch sets any customer, payment or
// delivery field.
func (p NumberPatch) HasCustomerData() bool {
	return p.CustomerName != nil || p.CustomerContact != nil || p.ShippingAddress != nil ||
		p.PaymentAmount != nil || p.PaymentMethod != nil || p.TransactionID != nil ||
		p.DeliveryStatus != nil || p.TrackingNumber != nil
}
