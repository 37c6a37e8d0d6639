package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyFiltersUtility(t *testing.T) {
	p := Default()
	require.True(t, p.RejectUtility("127.0.0.1"))
	require.False(t, p.RejectUtility("192.168.1.1"))
	assert.Equal(t, uint64(1), p.Snapshot().TotalFiltered)
}

func TestRejectNonLocalDisabledByDefault(t *testing.T) {
	p := Default()
	assert.False(t, p.RejectNonLocal("8.8.8.8"))
}

func TestRejectNonLocalWhenEnabled(t *testing.T) {
	p := Default()
	p.FilterNonLocal = true
	assert.True(t, p.RejectNonLocal("8.8.8.8"))
	assert.False(t, p.RejectNonLocal("192.168.1.1"))
	assert.Equal(t, uint64(1), p.Snapshot().NonLocalTrafficFiltered)
}

func TestRejectHTTP(t *testing.T) {
	p := Default()
	p.FilterHTTP = true
	assert.True(t, p.RejectHTTP(51000, 443))
	assert.True(t, p.RejectHTTP(80, 51000))
	assert.True(t, p.RejectHTTP(51000, 8443)) // filtered like the rest of spec §4.3 step 3's port list
	assert.Equal(t, uint64(3), p.Snapshot().HTTPTrafficFiltered)
}

func TestRejectDuplicateIP(t *testing.T) {
	p := Default()
	assert.False(t, p.RejectDuplicateIP("", "aa:bb:cc:dd:ee:01"))
	assert.False(t, p.RejectDuplicateIP("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:01"))
	assert.True(t, p.RejectDuplicateIP("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"))
	assert.Equal(t, uint64(1), p.Snapshot().DuplicatesBlocked)
}

func TestRejectDuplicateIPDisabled(t *testing.T) {
	p := Default()
	p.BlockDuplicateIP = false
	assert.False(t, p.RejectDuplicateIP("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"))
}
