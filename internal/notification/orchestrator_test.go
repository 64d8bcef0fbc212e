package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/config"
	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeMappings struct {
	mappings []*repository.NotificationMapping
	err      error
}

func (f *fakeMappings) FindForEvent(ctx context.Context, companyID, entityType, eventType string, stageKey *string) ([]*repository.NotificationMapping, error) {
	return f.mappings, f.err
}

type fakeLogs struct {
	rows       []*repository.NotificationLog
	recentSent bool
	matchRows  bool
	cutoffs    []time.Time
}

func (f *fakeLogs) Append(ctx context.Context, entry *repository.NotificationLog) error {
	f.rows = append(f.rows, entry)
	return nil
}

func (f *fakeLogs) HasRecentSent(ctx context.Context, eventID, recipientEmail, businessKey string, cutoff time.Time) (bool, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if !f.matchRows {
		return f.recentSent, nil
	}
	// mirrors the repository predicates: an empty event id or business key
	// matches only rows where the column is NULL
	for _, r := range f.rows {
		if r.Status != repository.NotificationSent || r.RecipientEmail != recipientEmail {
			continue
		}
		if eventID == "" {
			if r.EventID != nil {
				continue
			}
		} else if r.EventID == nil || *r.EventID != eventID {
			continue
		}
		if businessKey == "" {
			if r.BusinessKey != nil {
				continue
			}
		} else if r.BusinessKey == nil || *r.BusinessKey != businessKey {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeLogs) byStatus(status string) []*repository.NotificationLog {
	var out []*repository.NotificationLog
	for _, r := range f.rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

type requeueCall struct {
	id           string
	scheduledFor time.Time
	countRetry   bool
}

type fakeQueue struct {
	enqueued []*repository.QueuedNotification
	due      []*repository.QueuedNotification
	requeued []requeueCall
	done     map[string]string
}

func (f *fakeQueue) Enqueue(ctx context.Context, item *repository.QueuedNotification) error {
	f.enqueued = append(f.enqueued, item)
	return nil
}

func (f *fakeQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*repository.QueuedNotification, error) {
	return f.due, nil
}

func (f *fakeQueue) Requeue(ctx context.Context, id string, scheduledFor time.Time, countRetry bool, lastError *string) error {
	f.requeued = append(f.requeued, requeueCall{id: id, scheduledFor: scheduledFor, countRetry: countRetry})
	return nil
}

func (f *fakeQueue) MarkDone(ctx context.Context, id, status string, lastError *string) error {
	if f.done == nil {
		f.done = make(map[string]string)
	}
	f.done[id] = status
	return nil
}

type fakeCompanies struct{ cfg *repository.CompanyNotificationConfig }

func (f *fakeCompanies) Get(ctx context.Context, companyID string) (*repository.CompanyNotificationConfig, error) {
	return f.cfg, nil
}

type fakeWorkflows struct{ cfg *repository.WorkflowConfiguration }

func (f *fakeWorkflows) GetActive(ctx context.Context, companyID string, entityType repository.EntityType) (*repository.WorkflowConfiguration, error) {
	if f.cfg == nil {
		return nil, errors.New("no configuration")
	}
	return f.cfg, nil
}

type fakeRecipients struct{ byStrategy map[string][]Recipient }

func (f *fakeRecipients) Resolve(ctx context.Context, strategy string, evt *event.WorkflowEvent, cfg *repository.WorkflowConfiguration) ([]Recipient, error) {
	return f.byStrategy[strategy], nil
}

type sentMessage struct {
	to, subject, body, from string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body, fromDisplayName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body, from: fromDisplayName})
	return "prov-123", nil
}

// ── fixtures ──────────────────────────────────────────────────────────────────

type orchDeps struct {
	mappings  *fakeMappings
	logs      *fakeLogs
	queue     *fakeQueue
	companies *fakeCompanies
	sender    *fakeSender
}

func notifCfg() config.NotificationConfig {
	return config.NotificationConfig{
		Enabled:          true,
		DedupeWindow:     10 * time.Minute,
		SweepInterval:    time.Minute,
		SweepBatchSize:   50,
		MaxRetries:       3,
		RetryDelay:       5 * time.Minute,
		QuietHoursBuffer: time.Minute,
	}
}

func emailMapping(strategies ...string) *repository.NotificationMapping {
	return &repository.NotificationMapping{
		ID:                 "map-1",
		CompanyID:          "co-1",
		EntityType:         string(repository.EntityPurchaseRequest),
		EventType:          string(event.TypeEntityApproved),
		RecipientResolvers: strategies,
		Channels:           []repository.NotificationChannel{{Channel: "EMAIL"}},
		IsActive:           true,
	}
}

func approvedEvent() *event.WorkflowEvent {
	from := "LOCATION_APPROVAL"
	evt := event.New(event.TypeEntityApproved, "co-1", repository.EntityPurchaseRequest, "pr-1")
	evt.FromStage = &from
	evt.NewStatus = "PENDING_COMPANY_APPROVAL"
	evt.ActorName = "Lia"
	evt.ActorEmail = "lia@acme.test"
	evt.ActorRole = "LOCATION_ADMIN"
	evt.Snapshot = &repository.EntitySnapshot{EntityNumber: "PR-042"}
	return evt
}

func newTestOrchestrator(recipients map[string][]Recipient, now func() time.Time) (*Orchestrator, *orchDeps) {
	deps := &orchDeps{
		mappings:  &fakeMappings{},
		logs:      &fakeLogs{},
		queue:     &fakeQueue{},
		companies: &fakeCompanies{cfg: &repository.CompanyNotificationConfig{CompanyID: "co-1", NotificationsEnabled: true}},
		sender:    &fakeSender{},
	}
	orch := NewOrchestrator(
		deps.mappings,
		deps.logs,
		deps.queue,
		deps.companies,
		&fakeWorkflows{},
		&fakeRecipients{byStrategy: recipients},
		deps.sender,
		notifCfg(),
		now,
		zerolog.Nop(),
	)
	return orch, deps
}

// ── event handling ────────────────────────────────────────────────────────────

func TestHandleEventSendsAndLogsPerRecipient(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {{Email: "priya@acme.test", Name: "Priya", Role: "REQUESTOR"}},
	}, nil)
	deps.mappings.mappings = []*repository.NotificationMapping{emailMapping(StrategyRequestor)}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))

	require.Len(t, deps.sender.sent, 1)
	assert.Equal(t, "priya@acme.test", deps.sender.sent[0].to)
	assert.Contains(t, deps.sender.sent[0].subject, "PR-042")

	sent := deps.logs.byStatus(repository.NotificationSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "priya@acme.test", sent[0].RecipientEmail)
	require.NotNil(t, sent[0].ProviderMessageID)
	assert.Equal(t, "prov-123", *sent[0].ProviderMessageID)
}

func TestHandleEventGlobalToggleOff(t *testing.T) {
	orch, deps := newTestOrchestrator(nil, nil)
	orch.cfg.Enabled = false
	deps.mappings.mappings = []*repository.NotificationMapping{emailMapping(StrategyRequestor)}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))
	assert.Empty(t, deps.sender.sent)
	assert.Empty(t, deps.logs.rows)
}

func TestHandleEventCompanyDisabled(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {{Email: "priya@acme.test"}},
	}, nil)
	deps.companies.cfg.NotificationsEnabled = false
	deps.mappings.mappings = []*repository.NotificationMapping{emailMapping(StrategyRequestor)}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))
	assert.Empty(t, deps.sender.sent)
}

func TestHandleEventEventOverrideDisabled(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {{Email: "priya@acme.test"}},
	}, nil)
	deps.companies.cfg.EventOverrides = map[string]repository.EventOverride{
		string(event.TypeEntityApproved): {Enabled: false},
	}
	deps.mappings.mappings = []*repository.NotificationMapping{emailMapping(StrategyRequestor)}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))
	assert.Empty(t, deps.sender.sent)
}

func TestHandleEventMinAmountCondition(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {{Email: "priya@acme.test"}},
	}, nil)
	min := int64(500000)
	mapping := emailMapping(StrategyRequestor)
	mapping.Conditions.MinAmount = &min
	deps.mappings.mappings = []*repository.NotificationMapping{mapping}

	evt := approvedEvent()
	amount := int64(100000)
	evt.Snapshot.Amount = &amount

	require.NoError(t, orch.HandleEvent(context.Background(), evt))
	assert.Empty(t, deps.sender.sent, "events below the minimum amount are skipped")

	amount = 600000
	require.NoError(t, orch.HandleEvent(context.Background(), evt))
	assert.Len(t, deps.sender.sent, 1)
}

func TestHandleEventDedupesAndExcludesPerformer(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {
			{Email: "Priya@acme.test", Name: "Priya"},
			{Email: "priya@acme.test", Name: "Priya"},
		},
		StrategyActionPerformer: {{Email: "lia@acme.test", Name: "Lia"}},
	}, nil)
	mapping := emailMapping(StrategyRequestor, StrategyActionPerformer)
	mapping.ExcludeActionPerformer = true
	mapping.CustomRecipients = []repository.CustomRecipient{{Email: "finance@acme.test"}}
	deps.mappings.mappings = []*repository.NotificationMapping{mapping}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))

	require.Len(t, deps.sender.sent, 2)
	assert.Equal(t, "priya@acme.test", deps.sender.sent[0].to)
	assert.Equal(t, "finance@acme.test", deps.sender.sent[1].to)
}

func TestHandleEventNonEmailChannelIsLoggedNoOp(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {{Email: "priya@acme.test"}},
	}, nil)
	mapping := emailMapping(StrategyRequestor)
	mapping.Channels = []repository.NotificationChannel{{Channel: "SMS"}}
	deps.mappings.mappings = []*repository.NotificationMapping{mapping}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))

	assert.Empty(t, deps.sender.sent)
	rejected := deps.logs.byStatus(repository.NotificationRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "channel_not_implemented", rejected[0].Diagnostics["reason"])
}

func TestHandleEventSendFailureIsLoggedNotPropagated(t *testing.T) {
	orch, deps := newTestOrchestrator(map[string][]Recipient{
		StrategyRequestor: {{Email: "priya@acme.test"}},
	}, nil)
	deps.sender.err = errors.New("smtp unavailable")
	deps.mappings.mappings = []*repository.NotificationMapping{emailMapping(StrategyRequestor)}

	require.NoError(t, orch.HandleEvent(context.Background(), approvedEvent()))

	failed := deps.logs.byStatus(repository.NotificationFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].ErrorMessage)
	assert.Contains(t, *failed[0].ErrorMessage, "smtp unavailable")
}

// ── delivery gate ─────────────────────────────────────────────────────────────

func TestDeliverDuplicateSkip(t *testing.T) {
	orch, deps := newTestOrchestrator(nil, nil)
	deps.logs.recentSent = true

	err := orch.Deliver(context.Background(), DeliverInput{
		EventID:     "evt-1",
		CompanyID:   "co-1",
		Recipient:   Recipient{Email: "priya@acme.test"},
		Subject:     "s",
		Body:        "b",
		BusinessKey: "PR-042",
	})
	require.NoError(t, err, "duplicate skip is a successful outcome")

	assert.Empty(t, deps.sender.sent)
	rejected := deps.logs.byStatus(repository.NotificationRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "duplicate_skip", rejected[0].Diagnostics["reason"])
}

func TestDeliverDirectSendDedupedWithinWindow(t *testing.T) {
	orch, deps := newTestOrchestrator(nil, nil)
	deps.logs.matchRows = true

	in := DeliverInput{
		CompanyID:   "co-1",
		Recipient:   Recipient{Email: "priya@acme.test"},
		Subject:     "s",
		Body:        "b",
		BusinessKey: "PR-042",
	}
	require.NoError(t, orch.Deliver(context.Background(), in))
	require.NoError(t, orch.Deliver(context.Background(), in))

	assert.Len(t, deps.sender.sent, 1, "the second direct send inside the window is skipped")
	sent := deps.logs.byStatus(repository.NotificationSent)
	require.Len(t, sent, 1)
	assert.Nil(t, sent[0].EventID, "direct sends log a NULL event id")
	rejected := deps.logs.byStatus(repository.NotificationRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "duplicate_skip", rejected[0].Diagnostics["reason"])
}

func TestDeliverDedupeCutoffUsesInjectedClock(t *testing.T) {
	now := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)
	orch, deps := newTestOrchestrator(nil, func() time.Time { return now })

	err := orch.Deliver(context.Background(), DeliverInput{
		EventID:     "evt-1",
		CompanyID:   "co-1",
		Recipient:   Recipient{Email: "priya@acme.test"},
		Subject:     "s",
		Body:        "b",
		BusinessKey: "PR-042",
	})
	require.NoError(t, err)

	require.Len(t, deps.logs.cutoffs, 1)
	assert.Equal(t, now.Add(-10*time.Minute), deps.logs.cutoffs[0])
}

func TestDeliverDuringQuietHoursQueues(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 23, 0, 0, 0, ist)

	orch, deps := newTestOrchestrator(nil, func() time.Time { return now })
	deps.companies.cfg.QuietHours = kolkataWindow()

	err = orch.Deliver(context.Background(), DeliverInput{
		EventID:     "evt-1",
		CompanyID:   "co-1",
		Recipient:   Recipient{Email: "priya@acme.test"},
		Subject:     "s",
		Body:        "b",
		BusinessKey: "PR-042",
	})
	require.NoError(t, err)

	assert.Empty(t, deps.sender.sent)
	require.Len(t, deps.queue.enqueued, 1)
	item := deps.queue.enqueued[0]
	assert.Equal(t, repository.QueueStatusQueued, item.Status)
	// end of quiet hours (08:00 next day) plus the one-minute buffer
	assert.Equal(t, time.Date(2025, 3, 11, 8, 1, 0, 0, ist).UTC(), item.ScheduledFor.UTC())
}

func TestDeliverOutsideQuietHoursSendsImmediately(t *testing.T) {
	ist, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2025, 3, 11, 9, 0, 0, 0, ist)

	orch, deps := newTestOrchestrator(nil, func() time.Time { return now })
	deps.companies.cfg.QuietHours = kolkataWindow()

	err := orch.Deliver(context.Background(), DeliverInput{
		EventID:     "evt-1",
		CompanyID:   "co-1",
		Recipient:   Recipient{Email: "priya@acme.test"},
		Subject:     "s",
		Body:        "b",
		BusinessKey: "PR-042",
	})
	require.NoError(t, err)

	assert.Empty(t, deps.queue.enqueued)
	require.Len(t, deps.sender.sent, 1)
}

// ── queue sweep ───────────────────────────────────────────────────────────────

func queuedItem(id string) *repository.QueuedNotification {
	return &repository.QueuedNotification{
		ID:             id,
		EventID:        "evt-1",
		CompanyID:      "co-1",
		RecipientEmail: "priya@acme.test",
		Subject:        "s",
		Body:           "b",
		BusinessKey:    "PR-042",
		Status:         repository.QueueStatusProcessing,
	}
}

func TestProcessDueQueueSendsAndMarksDone(t *testing.T) {
	orch, deps := newTestOrchestrator(nil, nil)
	deps.queue.due = []*repository.QueuedNotification{queuedItem("q-1")}

	sent, err := orch.ProcessDueQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	assert.Equal(t, repository.QueueStatusSent, deps.queue.done["q-1"])
	require.Len(t, deps.logs.byStatus(repository.NotificationSent), 1)
}

func TestProcessDueQueueRequeuesWhileStillQuiet(t *testing.T) {
	ist, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Date(2025, 3, 11, 7, 0, 0, 0, ist)

	orch, deps := newTestOrchestrator(nil, func() time.Time { return now })
	deps.companies.cfg.QuietHours = kolkataWindow()
	deps.queue.due = []*repository.QueuedNotification{queuedItem("q-1")}

	sent, err := orch.ProcessDueQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	assert.Empty(t, deps.sender.sent)
	require.Len(t, deps.queue.requeued, 1)
	assert.False(t, deps.queue.requeued[0].countRetry, "re-queue inside the window does not burn a retry")
	assert.Equal(t, time.Date(2025, 3, 11, 8, 1, 0, 0, ist).UTC(), deps.queue.requeued[0].scheduledFor.UTC())
}

func TestProcessDueQueueRetriesThenFails(t *testing.T) {
	orch, deps := newTestOrchestrator(nil, nil)
	deps.sender.err = errors.New("smtp unavailable")

	item := queuedItem("q-1")
	deps.queue.due = []*repository.QueuedNotification{item}

	_, err := orch.ProcessDueQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, deps.queue.requeued, 1)
	assert.True(t, deps.queue.requeued[0].countRetry)

	// at the retry cap the item is marked failed instead of re-queued
	item.RetryCount = 2
	deps.queue.requeued = nil
	_, err = orch.ProcessDueQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deps.queue.requeued)
	assert.Equal(t, repository.QueueStatusFailed, deps.queue.done["q-1"])
}
