package checkin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFailure(t *testing.T) {
	failing := map[Status]bool{
		StatusInProgress: false,
		StatusOK:         false,
		StatusError:      true,
		StatusMissed:     true,
		StatusTimeout:    true,
		StatusUnknown:    false,
	}
	for s, want := range failing {
		assert.Equal(t, want, s.IsFailure(), s)
	}
}
