package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartRejectsInvalidSchedule(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(nil, "not a cron expression", 24*time.Hour, zap.New(core))

	s.Start()
	defer func() { <-s.Stop().Done() }()

	entries := logs.FilterMessage("invalid sweep schedule, sweeper disabled").All()
	assert.Len(t, entries, 1)
}

func TestStartAcceptsDefaultSchedule(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(nil, "0 */10 * * * *", 24*time.Hour, zap.New(core))

	s.Start()
	defer func() { <-s.Stop().Done() }()

	assert.Empty(t, logs.All())
}
