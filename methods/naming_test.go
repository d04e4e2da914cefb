package methods

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToInitials(t *testing.T) {
	assert.Equal(t, "dktc", ConvertToInitials("地块图层"))
	assert.Equal(t, "dk2024", ConvertToInitials("地块2024"))
	// 前导数字移到末尾, 避免非法表名
	assert.Equal(t, "nncdk2024", ConvertToInitials("2024年 农村地块"))
	assert.Equal(t, "parcela", ConvertToInitials("Parcel-A"))
}

func TestSafeTableName(t *testing.T) {
	assert.Equal(t, "dktc", SafeTableName("地块图层"))
	assert.Equal(t, "layer", SafeTableName("!!!"))
	assert.Equal(t, "layer", SafeTableName(""))
}
