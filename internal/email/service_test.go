package email

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/scheduling-api/pkg/logger"
)

func TestCompose(t *testing.T) {
	m := compose("no-reply@clinic.test", "lee@clinic.test", "Appointment requested", "A patient requested 2026-09-10 14:00")

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "From: no-reply@clinic.test")
	assert.Contains(t, raw, "To: lee@clinic.test")
	assert.Contains(t, raw, "Subject: Appointment requested")
	assert.Contains(t, raw, "2026-09-10 14:00")
}

func TestSMTPServiceHonoursCancelledContext(t *testing.T) {
	svc := NewSMTPService(Config{Host: "localhost", Port: 2525, From: "a@b.c"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.SendCustom(ctx, "x@y.z", "s", "b")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogServiceNeverFails(t *testing.T) {
	svc := NewLogService(logger.Nop())
	assert.NoError(t, svc.SendCustom(context.Background(), "x@y.z", "s", "b"))
}
