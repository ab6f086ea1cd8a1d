package services

import (
	"time"

	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/testutil"
)

var (
	discardLogger = testutil.DiscardLogger
	sampleEvent   = testutil.SampleEvent
)

type testEnv struct {
	events      *testutil.MemEventRepo
	queue       *testutil.MemQueueRepo
	syncLog     *testutil.MemSyncLog
	broadcaster *testutil.RecordingBroadcaster
	eventSvc    *EventService
	processor   *QueueProcessor
	sync        *SyncService
}

func newTestEnv(pref MergePreference) *testEnv {
	logger := testutil.DiscardLogger()
	env := &testEnv{
		events:      testutil.NewMemEventRepo(),
		queue:       &testutil.MemQueueRepo{},
		syncLog:     &testutil.MemSyncLog{},
		broadcaster: &testutil.RecordingBroadcaster{},
	}
	env.eventSvc = NewEventService(env.events, env.syncLog, repositories.NewMemoryEventCache(time.Minute), env.broadcaster, logger)
	env.processor = NewQueueProcessor(env.queue, env.eventSvc, env.syncLog, 0, logger)
	env.sync = NewSyncService(
		env.queue, nil, env.syncLog, env.events, env.eventSvc, env.processor,
		NewConflictResolver(pref, logger), testutil.StaticPresence{"device-online": true}, logger,
	)
	return env
}
