package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidBarcode_EAN13(t *testing.T) {
	assert.True(t, ValidBarcode("7290000000001"))
}

func TestValidBarcode_EAN8(t *testing.T) {
	assert.True(t, ValidBarcode("72900001"))
}

func TestValidBarcode_UPC12(t *testing.T) {
	assert.True(t, ValidBarcode("729000000001"))
}

func TestValidBarcode_Whitespace(t *testing.T) {
	assert.True(t, ValidBarcode(" 7290000000001 "))
}

func TestValidBarcode_WrongLength(t *testing.T) {
	assert.False(t, ValidBarcode(""))
	assert.False(t, ValidBarcode("1234567"))
	assert.False(t, ValidBarcode("12345678901234"))
}

func TestValidBarcode_NonNumeric(t *testing.T) {
	assert.False(t, ValidBarcode("12ab"))
	assert.False(t, ValidBarcode("7290000000-01"))
	assert.False(t, ValidBarcode("729000000000a"))
}

func TestSize_Absent(t *testing.T) {
	l := ProductListing{}
	assert.False(t, l.Size().OK)

	l.Attributes = map[string]string{"product_type": "shampoo"}
	assert.False(t, l.Size().OK)
}

func TestSize_Plain(t *testing.T) {
	l := ProductListing{Attributes: map[string]string{"size_value": "400"}}
	sz := l.Size()
	assert.True(t, sz.OK)
	assert.Equal(t, 400.0, sz.Value)
}

func TestSize_WithUnit(t *testing.T) {
	l := ProductListing{Attributes: map[string]string{"size_value": "400ml"}}
	sz := l.Size()
	assert.True(t, sz.OK)
	assert.Equal(t, 400.0, sz.Value)

	l.Attributes["size_value"] = "1.5 l"
	sz = l.Size()
	assert.True(t, sz.OK)
	assert.Equal(t, 1.5, sz.Value)
}

func TestSize_Unparsable(t *testing.T) {
	for _, raw := range []string{"", "  ", "ml", "abc", "-3", "0"} {
		l := ProductListing{Attributes: map[string]string{"size_value": raw}}
		assert.False(t, l.Size().OK, "size_value=%q", raw)
	}
}

func TestMethodPriority_Ordering(t *testing.T) {
	assert.Greater(t, MethodBarcode.Priority(), MethodFuzzy.Priority())
	assert.Greater(t, MethodFuzzy.Priority(), MethodVector.Priority())
	assert.Greater(t, MethodVector.Priority(), MethodLLM.Priority())
	assert.Greater(t, MethodLLM.Priority(), MethodNew.Priority())
}
