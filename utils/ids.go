package utils

import (
	"github.com/google/uuid"
)

// NewSessionId returns a 128-bit random identifier (uuid v4 drawn from crypto/rand).
func NewSessionId() string {
	return NewId()
}

func NewAttachmentId() string {
	return NewId()
}

func NewId() string {
	id := uuid.NewString()
	return id[:8] + id[9:13] + id[14:18] + id[19:23] + id[24:]
}
