package invoice

import (
	"testing"
	"time"

	"github.com/drippay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoined_NoRowIsNil(t *testing.T) {
	var j Joined
	assert.Len(t, j.Dest(), 6)
	assert.Nil(t, j.Invoice())
}

func TestJoined_Invoice(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	number, doc, typ, status := "INV-7", "https://docs/7.pdf", "instant", "paid"
	j := Joined{id: &id, number: &number, docURL: &doc, invType: &typ, status: &status, createdAt: &now}

	inv := j.Invoice()
	require.NotNil(t, inv)
	assert.Equal(t, id, inv.ID)
	assert.Equal(t, "INV-7", inv.InvoiceNumber)
	assert.Equal(t, "https://docs/7.pdf", inv.DocumentURL)
	assert.Equal(t, models.InvoiceTypeInstant, inv.InvoiceType)
	assert.Equal(t, models.InvoiceStatusPaid, inv.InvoiceStatus)
	assert.True(t, inv.CreatedAt.Equal(now))
}
