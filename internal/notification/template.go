package notification

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Template is one renderable message.
type Template struct {
	Subject string
	Body    string
}

// placeholderPattern matches {{identifier}} tokens. Identifiers are
// case-sensitive alphanumeric/underscore; anything else stays literal.
var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Render substitutes {{identifier}} tokens from the context. Tokens with no
// context value remain verbatim; rendering never fails on missing data.
func Render(tpl string, ctx map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := match[2 : len(match)-2]
		if v, ok := ctx[key]; ok {
			return v
		}
		return match
	})
}

// defaultTemplates are the compiled-in fallbacks, keyed by event type. Used
// when neither the mapping's template key nor a company override resolves.
var defaultTemplates = map[event.Type]Template{
	event.TypeEntitySubmitted: {
		Subject: "{{entity_type}} {{entity_number}} submitted for approval",
		Body: "Hello {{recipient_name}},\n\n" +
			"{{entity_type}} {{entity_number}} has been submitted and is awaiting approval at {{to_stage}}.\n\n" +
			"Regards,\n{{company_name}}",
	},
	event.TypeEntityApproved: {
		Subject: "{{entity_type}} {{entity_number}} approved at {{from_stage}}",
		Body: "Hello {{recipient_name}},\n\n" +
			"{{actor_name}} approved {{entity_type}} {{entity_number}} at {{from_stage}}. " +
			"Current status: {{new_status}}.\n\n" +
			"Regards,\n{{company_name}}",
	},
	event.TypeEntityRejected: {
		Subject: "{{entity_type}} {{entity_number}} rejected",
		Body: "Hello {{recipient_name}},\n\n" +
			"{{actor_name}} rejected {{entity_type}} {{entity_number}} at {{from_stage}}.\n" +
			"Reason: {{rejection_reason}}\n" +
			"Remarks: {{rejection_remarks}}\n\n" +
			"Regards,\n{{company_name}}",
	},
	event.TypeWorkflowCompleted: {
		Subject: "{{entity_type}} {{entity_number}} fully approved",
		Body: "Hello {{recipient_name}},\n\n" +
			"{{entity_type}} {{entity_number}} has completed its approval workflow. " +
			"Final status: {{new_status}}.\n\n" +
			"Regards,\n{{company_name}}",
	},
}

// registeredTemplates maps template keys declared on notification channels
// to templates. Keys shadow the event-type default when present.
var registeredTemplates = map[string]Template{}

// templateFor resolves a template: company event override, then the channel's
// template key, then the compiled-in default for the event type.
func templateFor(cfg *repository.CompanyNotificationConfig, templateKey string, eventType event.Type) Template {
	if cfg != nil {
		if o, ok := cfg.EventOverrides[string(eventType)]; ok && o.Enabled && (o.Subject != "" || o.Body != "") {
			tpl := defaultTemplates[eventType]
			if o.Subject != "" {
				tpl.Subject = o.Subject
			}
			if o.Body != "" {
				tpl.Body = o.Body
			}
			return tpl
		}
	}
	if templateKey != "" {
		if tpl, ok := registeredTemplates[templateKey]; ok {
			return tpl
		}
	}
	if tpl, ok := defaultTemplates[eventType]; ok {
		return tpl
	}
	return Template{
		Subject: "Update on {{entity_type}} {{entity_number}}",
		Body:    "{{entity_type}} {{entity_number}} status changed to {{new_status}}.",
	}
}

// buildContext flattens the event, its snapshot and the company branding into
// the substitution context. Every value is a display string.
func buildContext(evt *event.WorkflowEvent, cfg *repository.CompanyNotificationConfig) map[string]string {
	ctx := map[string]string{
		"event_type":      string(evt.EventType),
		"entity_type":     displayEntityType(evt.EntityType),
		"entity_id":       evt.EntityID,
		"previous_status": evt.PreviousStatus,
		"new_status":      evt.NewStatus,
		"actor_name":      evt.ActorName,
		"actor_role":      evt.ActorRole,
	}
	if evt.FromStage != nil {
		ctx["from_stage"] = *evt.FromStage
	}
	if evt.ToStage != nil {
		ctx["to_stage"] = *evt.ToStage
	}
	if snap := evt.Snapshot; snap != nil {
		ctx["entity_number"] = snap.EntityNumber
		if snap.Title != "" {
			ctx["title"] = snap.Title
		}
		if snap.Amount != nil {
			ctx["amount"] = formatAmount(*snap.Amount, snap.Currency)
		}
		if snap.RequestorName != "" {
			ctx["requestor_name"] = snap.RequestorName
		}
		if snap.VendorName != "" {
			ctx["vendor_name"] = snap.VendorName
		}
		for k, v := range snap.Extra {
			ctx[k] = v
		}
	}
	if rej := evt.Rejection; rej != nil {
		ctx["rejection_reason"] = rej.ReasonCode
		ctx["rejection_remarks"] = rej.Remarks
	}
	if cfg != nil {
		ctx["company_name"] = cfg.Branding.CompanyName
		if cfg.Branding.LogoURL != "" {
			ctx["company_logo_url"] = cfg.Branding.LogoURL
		}
	}
	return ctx
}

func displayEntityType(t repository.EntityType) string {
	words := strings.Split(strings.ToLower(string(t)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// formatAmount renders cents as a plain decimal with the currency appended.
func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	out := sign + strconv.FormatInt(cents/100, 10) + "." + pad2(cents%100)
	if currency != "" {
		out += " " + currency
	}
	return out
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
