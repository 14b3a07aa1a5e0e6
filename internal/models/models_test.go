package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNumberRecord_HasCustomerData(t *testing.T) {
	v := "x"
	amount := 20.0
	assert.False(t, NumberRecord{NumberValue: "13800138000", Notes: &v}.HasCustomerData())

	for name, rec := range map[string]NumberRecord{
		"name":           {CustomerName: &v},
		"contact":        {CustomerContact: &v},
		"address":        {ShippingAddress: &v},
		"amount":         {PaymentAmount: &amount},
		"payment method": {PaymentMethod: &v},
		"transaction":    {TransactionID: &v},
	} {
		assert.True(t, rec.HasCustomerData(), name)
	}
}

func TestDataFilter_Write(t *testing.T) {
	school, dept, other := uuid.New(), uuid.New(), uuid.New()
	f := DataFilter{
		SchoolIDs:          []uuid.UUID{school, other},
		DepartmentIDs:      []uuid.UUID{dept},
		OrganizationIDs:    []uuid.UUID{school, other, dept},
		Valid:              true,
		AdminSchoolIDs:     []uuid.UUID{school},
		AdminDepartmentIDs: []uuid.UUID{dept},
	}
	w := f.Write()
	assert.True(t, w.Valid)
	assert.True(t, w.Contains(dept))
	assert.False(t, w.Contains(other))
	assert.True(t, w.CoversNumber(&school, nil))
	assert.False(t, w.CoversNumber(&other, nil))

	assert.False(t, DataFilter{SchoolIDs: []uuid.UUID{school}, Valid: true}.Write().Valid)
	assert.True(t, DataFilter{Unrestricted: true, Valid: true}.Write().Contains(other))
}
