package users

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

func TestNewHandlerDefaultsLogger(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, rbac.Middleware{})
	assert.NotNil(t, h.logger)
}
