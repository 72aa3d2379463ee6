package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersions_Ordered(t *testing.T) {
	versions := Versions()
	assert.NotEmpty(t, versions)
	assert.Equal(t, "001_init", versions[0])
	assert.IsNonDecreasing(t, versions)
}
