package race

import (
	"context"
	"time"
)

// Credential is the vendor bearer token. It is passed verbatim as the
// Authorization header and never printed.
type Credential string

func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Variant is one purchasable ticket category of an event.
type Variant struct {
	InventoryID           string `json:"inventoryId"`
	Name                  string `json:"name"`
	MaxReservableQuantity int    `json:"productVariantMaximumReservableQuantity"`
}

// Allocation is a single reservation request for one inventory item.
type Allocation struct {
	InventoryID string
	Quantity    int
}

type ErrorKind string

const (
	ErrorNone      ErrorKind = ""
	ErrorTransport ErrorKind = "transport"
	ErrorDecode    ErrorKind = "decode"
	ErrorRejected  ErrorKind = "rejected"
)

// Outcome is the result of one allocation attempt within a wave.
type Outcome struct {
	InventoryID string        `json:"inventoryId"`
	Name        string        `json:"name"`
	Wave        int           `json:"wave"`
	Quantity    int           `json:"quantity"`
	Succeeded   bool          `json:"succeeded"`
	HTTPStatus  *int          `json:"httpStatus,omitempty"`
	Error       ErrorKind     `json:"error,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Duration    time.Duration `json:"durationNs"`
}

// InventorySource fetches the current variant list of an event. An empty
// list means the sale has not opened yet.
type InventorySource interface {
	Variants(ctx context.Context, eventID string) ([]Variant, error)
}

// Allocator issues one reservation request. status is 0 when no response
// was received.
type Allocator interface {
	Allocate(ctx context.Context, cred Credential, a Allocation) (status int, err error)
}
