package encounters

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, "SELF_SCAN", Code(ErrSelfScan))
	assert.Equal(t, "PARTNER_BUSY", Code(fmt.Errorf("create: %w", ErrPartnerBusy)))
	assert.Equal(t, "", Code(errors.New("connection refused")))
	assert.Equal(t, "", Code(nil))
}

func TestCode_EveryErrorDistinct(t *testing.T) {
	seen := make(map[string]bool)
	msgs := make(map[string]bool)
	for _, ec := range errorCodes {
		assert.NotEmpty(t, ec.code)
		assert.False(t, seen[ec.code], "duplicate code %s", ec.code)
		assert.False(t, msgs[ec.err.Error()], "duplicate message %q", ec.err.Error())
		seen[ec.code] = true
		msgs[ec.err.Error()] = true
		assert.NotEqual(t, http.StatusInternalServerError, StatusFor(ec.code), ec.code)
	}
}
