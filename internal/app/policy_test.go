package app

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}

	cases := []struct {
		name string
		err  error
		want CaptureAction
	}{
		{"no error", nil, UseTrack},
		{"permission denied", domain.NewError(domain.KindPermissionDenied, "camera", errors.New("NotAllowedError")), AbortCall},
		{"device busy", domain.NewError(domain.KindDeviceBusy, "camera", errors.New("EBUSY")), ReceiveOnly},
		{"unknown", errors.New("no such device"), ReceiveOnly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.OnCaptureError(domain.MediaVideo, tc.err))
		})
	}
}

func TestInviteLimiterWindow(t *testing.T) {
	rl := NewInviteLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("alice"))
}

func TestInviteLimiterDisabled(t *testing.T) {
	var rl *InviteLimiter
	assert.True(t, rl.Allow("alice"))
	assert.True(t, NewInviteLimiter(0, time.Minute).Allow("alice"))
}
