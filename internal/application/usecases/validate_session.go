package usecases

import (
	"context"
	"fmt"

	"github.com/example/kiderace/internal/kide"
	"github.com/example/kiderace/internal/race"
)

type SessionClient interface {
	ValidateUser(ctx context.Context, cred race.Credential) (string, error)
	Product(ctx context.Context, eventID string) (kide.Product, error)
}

type Session struct {
	UserName string
	Product  kide.Product
}

// ValidateSession checks the credential and resolves the event before a race.
type ValidateSession struct {
	Client SessionClient
}

func (u ValidateSession) Execute(ctx context.Context, cred race.Credential, eventRef string) (Session, error) {
	if u.Client == nil {
		return Session{}, fmt.Errorf("client is nil")
	}
	eventID, err := kide.ParseEventID(eventRef)
	if err != nil {
		return Session{}, err
	}
	name, err := u.Client.ValidateUser(ctx, cred)
	if err != nil {
		return Session{}, err
	}
	p, err := u.Client.Product(ctx, eventID)
	if err != nil {
		return Session{}, err
	}
	return Session{UserName: name, Product: p}, nil
}
