// Package service holds small infrastructure services shared by the
// application layer.
package service

import (
	"github.com/google/uuid"
)

// IDGeneratorImpl implements command.IDGenerator with random UUIDs.
type IDGeneratorImpl struct{}

// NewIDGenerator creates a new IDGeneratorImpl.
func NewIDGenerator() *IDGeneratorImpl {
	return &IDGeneratorImpl{}
}

// GenerateID returns a new UUIDv4 string.
func (g *IDGeneratorImpl) GenerateID() string {
	return uuid.New().String()
}
