package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"backend unavailable is transient", ErrBackendUnavailable, ClassTransient},
		{"backend refused is permanent", ErrBackendRefused, ClassPermanent},
		{"bad response is permanent", ErrBadResponse, ClassPermanent},
		{"unknown error defaults to permanent", errors.New("boom"), ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.want, c.Class)
			assert.Equal(t, tt.want == ClassTransient, c.IsTransient())
		})
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	wrapped := Classify(ErrBackendUnavailable)
	assert.True(t, errors.Is(wrapped, ErrBackendUnavailable))
}
