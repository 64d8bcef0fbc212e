// Package notification reacts to workflow events: it routes them through
// configured mappings, resolves recipients, renders templates and dispatches
// messages, logging every attempt. Failures here never reach the workflow
// transition that produced the event.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/config"
	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ── collaborator contracts ────────────────────────────────────────────────────

// MappingStore loads notification mappings. Implemented by
// repository.NotificationMappingRepository.
type MappingStore interface {
	FindForEvent(ctx context.Context, companyID, entityType, eventType string, stageKey *string) ([]*repository.NotificationMapping, error)
}

// LogStore writes and queries the notification log. Implemented by
// repository.NotificationLogRepository.
type LogStore interface {
	Append(ctx context.Context, entry *repository.NotificationLog) error
	HasRecentSent(ctx context.Context, eventID, recipientEmail, businessKey string, cutoff time.Time) (bool, error)
}

// QueueStore holds quiet-hours deferred sends. Implemented by
// repository.NotificationQueueRepository.
type QueueStore interface {
	Enqueue(ctx context.Context, item *repository.QueuedNotification) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*repository.QueuedNotification, error)
	Requeue(ctx context.Context, id string, scheduledFor time.Time, countRetry bool, lastError *string) error
	MarkDone(ctx context.Context, id, status string, lastError *string) error
}

// CompanyConfigs serves cached company notification configuration.
// Implemented by CompanyConfigCache.
type CompanyConfigs interface {
	Get(ctx context.Context, companyID string) (*repository.CompanyNotificationConfig, error)
}

// WorkflowConfigs loads the active workflow configuration, for stage-role
// recipient strategies. Implemented by repository.WorkflowConfigRepository.
type WorkflowConfigs interface {
	GetActive(ctx context.Context, companyID string, entityType repository.EntityType) (*repository.WorkflowConfiguration, error)
}

// Recipients resolves strategy names. Implemented by RecipientResolver.
type Recipients interface {
	Resolve(ctx context.Context, strategy string, evt *event.WorkflowEvent, cfg *repository.WorkflowConfiguration) ([]Recipient, error)
}

// Sender delivers one rendered message. Implemented by client.MailPublisher.
type Sender interface {
	Send(ctx context.Context, to, subject, body, fromDisplayName string) (string, error)
}

// ── orchestrator ──────────────────────────────────────────────────────────────

// Orchestrator is the event-bus subscriber that turns workflow events into
// delivered messages. HandleEvent never lets an error escalate beyond a log
// line plus a NotificationLog row.
type Orchestrator struct {
	mappings   MappingStore
	logs       LogStore
	queue      QueueStore
	companies  CompanyConfigs
	workflows  WorkflowConfigs
	recipients Recipients
	sender     Sender

	cfg config.NotificationConfig
	now func() time.Time

	log zerolog.Logger
}

// NewOrchestrator wires the orchestrator. now is injectable for tests; pass
// nil for the wall clock.
func NewOrchestrator(
	mappings MappingStore,
	logs LogStore,
	queue QueueStore,
	companies CompanyConfigs,
	workflows WorkflowConfigs,
	recipients Recipients,
	sender Sender,
	cfg config.NotificationConfig,
	now func() time.Time,
	log zerolog.Logger,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		mappings:   mappings,
		logs:       logs,
		queue:      queue,
		companies:  companies,
		workflows:  workflows,
		recipients: recipients,
		sender:     sender,
		cfg:        cfg,
		now:        now,
		log:        log,
	}
}

// HandleEvent is the event.Bus listener.
func (o *Orchestrator) HandleEvent(ctx context.Context, evt *event.WorkflowEvent) error {
	if !o.cfg.Enabled {
		return nil
	}

	companyCfg, err := o.companies.Get(ctx, evt.CompanyID)
	if err != nil {
		return err
	}
	if !companyCfg.NotificationsEnabled {
		o.log.Debug().Str("company_id", evt.CompanyID).Msg("notifications disabled for company")
		return nil
	}
	if override, ok := companyCfg.EventOverrides[string(evt.EventType)]; ok && !override.Enabled {
		return nil
	}

	mappings, err := o.mappings.FindForEvent(ctx, evt.CompanyID, string(evt.EntityType), string(evt.EventType), eventStage(evt))
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}

	// Stage-role strategies need the workflow configuration; its absence
	// just empties those strategies.
	workflowCfg, err := o.workflows.GetActive(ctx, evt.CompanyID, evt.EntityType)
	if err != nil {
		workflowCfg = nil
	}

	for _, mapping := range mappings {
		if !o.conditionsPass(mapping, evt) {
			continue
		}
		targets := o.resolveMappingRecipients(ctx, mapping, evt, workflowCfg)
		if len(targets) == 0 {
			continue
		}

		for _, channel := range mapping.Channels {
			tpl := templateFor(companyCfg, channel.TemplateKey, evt.EventType)
			o.dispatchChannel(ctx, channel, tpl, targets, evt, companyCfg)
		}
	}
	return nil
}

// conditionsPass evaluates the mapping's gating conditions; all non-empty
// conditions must hold.
func (o *Orchestrator) conditionsPass(m *repository.NotificationMapping, evt *event.WorkflowEvent) bool {
	if m.Conditions.MinAmount != nil {
		if evt.Snapshot == nil || evt.Snapshot.Amount == nil || *evt.Snapshot.Amount < *m.Conditions.MinAmount {
			return false
		}
	}
	if len(m.Conditions.EntityStatuses) > 0 && !containsFold(m.Conditions.EntityStatuses, evt.NewStatus) {
		return false
	}
	if len(m.Conditions.Roles) > 0 && !containsFold(m.Conditions.Roles, evt.ActorRole) {
		return false
	}
	return true
}

// resolveMappingRecipients aggregates all strategies plus custom recipients,
// deduplicates by lowercased email and applies the performer exclusion.
// Strategy failures are logged and skip only that strategy.
func (o *Orchestrator) resolveMappingRecipients(ctx context.Context, m *repository.NotificationMapping, evt *event.WorkflowEvent, workflowCfg *repository.WorkflowConfiguration) []Recipient {
	var all []Recipient
	for _, strategy := range m.RecipientResolvers {
		recipients, err := o.recipients.Resolve(ctx, strategy, evt, workflowCfg)
		if err != nil {
			o.log.Warn().Err(err).
				Str("strategy", strategy).
				Str("event_id", evt.EventID).
				Msg("recipient strategy failed")
		}
		all = append(all, recipients...)
	}
	for _, cr := range m.CustomRecipients {
		all = append(all, Recipient{Email: cr.Email, Name: cr.Name, Role: cr.Role})
	}

	performerEmail := ""
	if m.ExcludeActionPerformer {
		performerEmail = strings.ToLower(evt.ActorEmail)
	}

	seen := make(map[string]bool, len(all))
	out := make([]Recipient, 0, len(all))
	for _, r := range all {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email == "" || seen[email] {
			continue
		}
		if performerEmail != "" && email == performerEmail {
			continue
		}
		seen[email] = true
		r.Email = email
		out = append(out, r)
	}
	return out
}

// dispatchChannel renders and delivers to every recipient on one channel.
// Only EMAIL is implemented; other channels are logged no-ops.
func (o *Orchestrator) dispatchChannel(ctx context.Context, channel repository.NotificationChannel, tpl Template, targets []Recipient, evt *event.WorkflowEvent, companyCfg *repository.CompanyNotificationConfig) {
	baseCtx := buildContext(evt, companyCfg)
	businessKey := businessKeyOf(evt)

	for _, recipient := range targets {
		renderCtx := baseCtx
		if recipient.Name != "" {
			renderCtx = make(map[string]string, len(baseCtx)+1)
			for k, v := range baseCtx {
				renderCtx[k] = v
			}
			renderCtx["recipient_name"] = recipient.Name
		}
		subject := Render(tpl.Subject, renderCtx)
		body := Render(tpl.Body, renderCtx)

		if channel.Channel != "EMAIL" {
			o.appendLog(ctx, &repository.NotificationLog{
				EventID:        &evt.EventID,
				CompanyID:      evt.CompanyID,
				RecipientEmail: recipient.Email,
				RecipientRole:  recipient.Role,
				Subject:        subject,
				Status:         repository.NotificationRejected,
				BusinessKey:    &businessKey,
				Diagnostics:    map[string]any{"reason": "channel_not_implemented", "channel": channel.Channel},
			})
			continue
		}

		if err := o.Deliver(ctx, DeliverInput{
			EventID:       evt.EventID,
			CompanyID:     evt.CompanyID,
			Recipient:     recipient,
			Subject:       subject,
			Body:          body,
			BusinessKey:   businessKey,
			CompanyConfig: companyCfg,
		}); err != nil {
			o.log.Warn().Err(err).
				Str("event_id", evt.EventID).
				Str("recipient", recipient.Email).
				Msg("notification delivery failed")
		}
	}
}

// ── delivery gate ─────────────────────────────────────────────────────────────

// DeliverInput is one delivery request, event-triggered or direct.
type DeliverInput struct {
	EventID       string // "" for direct sends
	CompanyID     string
	Recipient     Recipient
	Subject       string
	Body          string
	BusinessKey   string
	CompanyConfig *repository.CompanyNotificationConfig // nil = load on demand
}

// Deliver runs the idempotency and quiet-hours gate, then sends. Duplicate
// skips and quiet-hours deferrals are successful outcomes, not failures; the
// returned error reports only infrastructure problems.
func (o *Orchestrator) Deliver(ctx context.Context, in DeliverInput) error {
	companyCfg := in.CompanyConfig
	if companyCfg == nil {
		loaded, err := o.companies.Get(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		companyCfg = loaded
	}

	// Dedupe: one SENT per (event, recipient, business key) inside the
	// trailing window. The cutoff comes from the injected clock, and an
	// empty event id still matches prior direct sends.
	dup, err := o.logs.HasRecentSent(ctx, in.EventID, in.Recipient.Email, in.BusinessKey, o.now().Add(-o.cfg.DedupeWindow))
	if err != nil {
		o.log.Warn().Err(err).Str("recipient", in.Recipient.Email).Msg("dedupe check failed, proceeding with send")
	}
	if dup {
		o.appendLog(ctx, o.logRow(in, repository.NotificationRejected, nil, nil,
			map[string]any{"reason": "duplicate_skip"}))
		return nil
	}

	// Quiet hours: defer to the durable queue, to be swept after the window.
	state, qhErr := evalQuietHours(companyCfg.QuietHours, o.now())
	if qhErr != nil {
		o.log.Warn().Err(qhErr).Str("company_id", in.CompanyID).Msg("quiet hours misconfigured, sending anyway")
	}
	if state.Inside {
		return o.queue.Enqueue(ctx, &repository.QueuedNotification{
			EventID:        in.EventID,
			CompanyID:      in.CompanyID,
			RecipientEmail: in.Recipient.Email,
			RecipientName:  in.Recipient.Name,
			RecipientRole:  in.Recipient.Role,
			Subject:        in.Subject,
			Body:           in.Body,
			BusinessKey:    in.BusinessKey,
			Status:         repository.QueueStatusQueued,
			ScheduledFor:   state.End.Add(o.cfg.QuietHoursBuffer),
		})
	}

	return o.send(ctx, in, companyCfg)
}

// send performs the actual dispatch and writes the outcome log row.
func (o *Orchestrator) send(ctx context.Context, in DeliverInput, companyCfg *repository.CompanyNotificationConfig) error {
	fromName := ""
	if companyCfg != nil {
		fromName = companyCfg.Branding.CompanyName
	}

	providerID, err := o.sender.Send(ctx, in.Recipient.Email, in.Subject, in.Body, fromName)
	if err != nil {
		msg := err.Error()
		o.appendLog(ctx, o.logRow(in, repository.NotificationFailed, nil, &msg, nil))
		return err
	}

	sentAt := o.now().UTC()
	row := o.logRow(in, repository.NotificationSent, &providerID, nil, nil)
	row.SentAt = &sentAt
	o.appendLog(ctx, row)
	return nil
}

// ── queue sweep ───────────────────────────────────────────────────────────────

// ProcessDueQueue claims due deferred items and sends them. Quiet hours are
// re-checked per item (a sweep racing the window start re-queues instead of
// sending); failures retry up to the configured cap.
func (o *Orchestrator) ProcessDueQueue(ctx context.Context) (int, error) {
	items, err := o.queue.ClaimDue(ctx, o.now(), o.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, item := range items {
		if o.processQueuedItem(ctx, item) {
			sent++
		}
	}
	return sent, nil
}

func (o *Orchestrator) processQueuedItem(ctx context.Context, item *repository.QueuedNotification) bool {
	companyCfg, err := o.companies.Get(ctx, item.CompanyID)
	if err != nil {
		msg := err.Error()
		if rqErr := o.queue.Requeue(ctx, item.ID, o.now().Add(o.cfg.RetryDelay), true, &msg); rqErr != nil {
			o.log.Error().Err(rqErr).Str("item_id", item.ID).Msg("failed to requeue notification")
		}
		return false
	}

	if state, qhErr := evalQuietHours(companyCfg.QuietHours, o.now()); qhErr == nil && state.Inside {
		// still inside the window; push past its end without burning a retry
		if rqErr := o.queue.Requeue(ctx, item.ID, state.End.Add(o.cfg.QuietHoursBuffer), false, nil); rqErr != nil {
			o.log.Error().Err(rqErr).Str("item_id", item.ID).Msg("failed to requeue notification")
		}
		return false
	}

	in := DeliverInput{
		EventID:       item.EventID,
		CompanyID:     item.CompanyID,
		Recipient:     Recipient{Email: item.RecipientEmail, Name: item.RecipientName, Role: item.RecipientRole},
		Subject:       item.Subject,
		Body:          item.Body,
		BusinessKey:   item.BusinessKey,
		CompanyConfig: companyCfg,
	}
	if err := o.send(ctx, in, companyCfg); err != nil {
		msg := err.Error()
		if item.RetryCount+1 >= o.cfg.MaxRetries {
			if mdErr := o.queue.MarkDone(ctx, item.ID, repository.QueueStatusFailed, &msg); mdErr != nil {
				o.log.Error().Err(mdErr).Str("item_id", item.ID).Msg("failed to mark notification failed")
			}
			return false
		}
		if rqErr := o.queue.Requeue(ctx, item.ID, o.now().Add(o.cfg.RetryDelay), true, &msg); rqErr != nil {
			o.log.Error().Err(rqErr).Str("item_id", item.ID).Msg("failed to requeue notification")
		}
		return false
	}

	if err := o.queue.MarkDone(ctx, item.ID, repository.QueueStatusSent, nil); err != nil {
		o.log.Error().Err(err).Str("item_id", item.ID).Msg("failed to mark notification sent")
	}
	return true
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (o *Orchestrator) logRow(in DeliverInput, status string, providerID, errMsg *string, diagnostics map[string]any) *repository.NotificationLog {
	row := &repository.NotificationLog{
		CompanyID:         in.CompanyID,
		RecipientEmail:    in.Recipient.Email,
		RecipientRole:     in.Recipient.Role,
		Subject:           in.Subject,
		Status:            status,
		ProviderMessageID: providerID,
		ErrorMessage:      errMsg,
		Diagnostics:       diagnostics,
	}
	if in.EventID != "" {
		row.EventID = &in.EventID
	}
	if in.BusinessKey != "" {
		row.BusinessKey = &in.BusinessKey
	}
	return row
}

// appendLog is best-effort; the log is a reconciliation record, not a
// delivery precondition.
func (o *Orchestrator) appendLog(ctx context.Context, row *repository.NotificationLog) {
	if err := o.logs.Append(ctx, row); err != nil {
		o.log.Warn().Err(err).
			Str("recipient", row.RecipientEmail).
			Str("status", row.Status).
			Msg("failed to write notification log")
	}
}

// eventStage is the stage a mapping's optional stage filter matches against.
func eventStage(evt *event.WorkflowEvent) *string {
	if evt.FromStage != nil && *evt.FromStage != "" {
		return evt.FromStage
	}
	return evt.ToStage
}

func businessKeyOf(evt *event.WorkflowEvent) string {
	if evt.Snapshot != nil && evt.Snapshot.EntityNumber != "" {
		return evt.Snapshot.EntityNumber
	}
	return evt.EntityID
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
