// Package client declares the interface boundary to the protocol client
// that owns transport, persistence and cryptography. The engine only
// consumes outcomes; it never performs network or crypto work itself.
package client

import (
	"context"
	"encoding/json"

	"roomline/pkg/models"
)

// Sender submits a locally-composed message to the server and returns the
// server-assigned event ID. Implementations embed the engine's transaction
// ID so the server can echo it back in sync (the primary reconciliation
// key).
type Sender interface {
	Send(ctx context.Context, content models.MessageContent) (eventID string, err error)
}

// Decryptor resolves an m.room.encrypted event to its cleartext type and
// content. Errors leave the placeholder item in place; a later successful
// decryption can still be delivered through Processor.ResolveDecryption.
type Decryptor interface {
	Decrypt(ctx context.Context, ev models.RawEvent) (evType string, content json.RawMessage, err error)
}

// ReceiptSource exposes the room-list projection's read-receipt state: the
// last event the given user has read. Polled by the application shell and
// forwarded to the engine as read-marker updates.
type ReceiptSource interface {
	LastRead(ctx context.Context, userID string) (models.EventIdentity, error)
}
