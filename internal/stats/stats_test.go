package stats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_CountsPerEntity(t *testing.T) {
	c := NewCollector()

	c.UpdateExecuted("Product")
	c.UpdateExecuted("Product")
	c.UpdateExecuted("Order")
	c.OptimisticFailure("Product")

	assert.Equal(t, uint64(2), c.Updates("Product"))
	assert.Equal(t, uint64(1), c.Updates("Order"))
	assert.Equal(t, uint64(1), c.OptimisticFailures("Product"))
	assert.Equal(t, uint64(0), c.OptimisticFailures("Order"))
}

func TestCollector_WritePrometheus(t *testing.T) {
	c := NewCollector()
	c.CachePut("Product")

	var buf bytes.Buffer
	c.WritePrometheus(&buf)

	assert.Contains(t, buf.String(), `silt_cache_puts_total{entity="Product"} 1`)
}
