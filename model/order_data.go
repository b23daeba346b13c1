package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// ServiceType represents how the customer wants to receive the order
type ServiceType string

const (
	ServiceDineIn   ServiceType = "dine_in"
	ServicePickup   ServiceType = "pickup"
	ServiceDelivery ServiceType = "delivery"
)

// IsValid reports whether t is a known service type
func (t ServiceType) IsValid() bool {
	return t == ServiceDineIn || t == ServicePickup || t == ServiceDelivery
}

// DeliveryAddress holds the delivery destination collected during the conversation
type DeliveryAddress struct {
	Address *string  `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Notes   *string  `json:"notes,omitempty"`
}

// CustomerInfo holds the contact details collected during the conversation
type CustomerInfo struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Email *string `json:"email,omitempty"`
}

// OrderData is the partially populated set of fields needed to place an
// order, built up turn by turn as the agent extracts them from the
// conversation. Every field is independently optional; nil means the field
// has not been collected yet. Stored as a JSONB column.
type OrderData struct {
	ServiceType     *ServiceType     `json:"serviceType,omitempty"`
	TableNumber     *int             `json:"tableNumber,omitempty"`
	DeliveryAddress *DeliveryAddress `json:"deliveryAddress,omitempty"`
	CouponCode      *string          `json:"couponCode,omitempty"`
	CustomerInfo    *CustomerInfo    `json:"customerInfo,omitempty"`
	PaymentMethod   *string          `json:"paymentMethod,omitempty"`
}

// Scan implements the sql.Scanner interface for reading from database
func (d *OrderData) Scan(value interface{}) error {
	if value == nil {
		*d = OrderData{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal OrderData value")
	}

	if len(bytes) == 0 {
		*d = OrderData{}
		return nil
	}

	return json.Unmarshal(bytes, d)
}

// Value implements the driver.Valuer interface for writing to database
func (d OrderData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Merge applies partial on top of d, key by key. A scalar field is replaced
// whenever the incoming value is set. The nested sub-records (customerInfo,
// deliveryAddress) merge field-by-field when both sides are present: incoming
// sub-fields overwrite same-named existing sub-fields and untouched
// sub-fields are preserved. An incoming sub-record replaces an absent one.
func (d *OrderData) Merge(partial OrderData) {
	if partial.ServiceType != nil {
		d.ServiceType = partial.ServiceType
	}
	if partial.TableNumber != nil {
		d.TableNumber = partial.TableNumber
	}
	if partial.CouponCode != nil {
		d.CouponCode = partial.CouponCode
	}
	if partial.PaymentMethod != nil {
		d.PaymentMethod = partial.PaymentMethod
	}

	if partial.DeliveryAddress != nil {
		if d.DeliveryAddress == nil {
			addr := *partial.DeliveryAddress
			d.DeliveryAddress = &addr
		} else {
			if partial.DeliveryAddress.Address != nil {
				d.DeliveryAddress.Address = partial.DeliveryAddress.Address
			}
			if partial.DeliveryAddress.Lat != nil {
				d.DeliveryAddress.Lat = partial.DeliveryAddress.Lat
			}
			if partial.DeliveryAddress.Lng != nil {
				d.DeliveryAddress.Lng = partial.DeliveryAddress.Lng
			}
			if partial.DeliveryAddress.Notes != nil {
				d.DeliveryAddress.Notes = partial.DeliveryAddress.Notes
			}
		}
	}

	if partial.CustomerInfo != nil {
		if d.CustomerInfo == nil {
			info := *partial.CustomerInfo
			d.CustomerInfo = &info
		} else {
			if partial.CustomerInfo.Name != nil {
				d.CustomerInfo.Name = partial.CustomerInfo.Name
			}
			if partial.CustomerInfo.Phone != nil {
				d.CustomerInfo.Phone = partial.CustomerInfo.Phone
			}
			if partial.CustomerInfo.Email != nil {
				d.CustomerInfo.Email = partial.CustomerInfo.Email
			}
		}
	}
}

// IsEmpty reports whether no order fields have been collected yet
func (d OrderData) IsEmpty() bool {
	return d.ServiceType == nil &&
		d.TableNumber == nil &&
		d.DeliveryAddress == nil &&
		d.CouponCode == nil &&
		d.CustomerInfo == nil &&
		d.PaymentMethod == nil
}
