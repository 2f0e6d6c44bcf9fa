// File: internal/policy/gate.go

// Package policy screens actions for irreversible consequences before they
// reach the page. The gate never blocks anything on its own; it produces a
// verdict and the caller decides whether to ask a human first.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// phraseGroup is one consequence category with the button phrases that
// usually trigger it. Matching is case folded with unicode aware word
// boundaries, so "Kaufen" hits but "Verkaufen" does not.
type phraseGroup struct {
	consequence string
	phrases     []string
}

var destructiveGroups = []phraseGroup{
	{
		consequence: "complete a purchase or payment",
		phrases: []string{
			"buy now", "buy it now", "place order", "place your order", "pay now",
			"confirm payment", "complete purchase", "complete order", "submit order",
			"confirm purchase", "purchase now", "proceed to pay",
			"jetzt kaufen", "kaufen", "jetzt bezahlen", "zahlungspflichtig bestellen",
			"kostenpflichtig bestellen", "bestellung abschicken",
			"acheter", "payer maintenant", "confirmer la commande", "commander",
			"comprar ahora", "comprar", "pagar ahora", "realizar pedido", "confirmar compra",
		},
	},
	{
		consequence: "delete data or an account",
		phrases: []string{
			"delete", "delete account", "delete my account", "remove permanently",
			"permanently delete", "erase all data",
			"löschen", "konto löschen", "endgültig löschen",
			"supprimer", "supprimer le compte", "supprimer définitivement",
			"eliminar", "eliminar cuenta", "borrar", "borrar definitivamente",
		},
	},
	{
		consequence: "cancel a subscription or service",
		phrases: []string{
			"cancel subscription", "cancel my subscription", "cancel membership",
			"unsubscribe", "close account", "deactivate account",
			"kündigen", "abo kündigen", "abonnement kündigen", "konto schließen",
			"se désabonner", "résilier", "résilier l'abonnement",
			"cancelar suscripción", "darse de baja", "cerrar cuenta",
		},
	},
	{
		consequence: "move money",
		phrases: []string{
			"transfer money", "send money", "confirm transfer", "wire transfer",
			"send payment",
			"geld senden", "überweisen", "überweisung bestätigen",
			"envoyer de l'argent", "effectuer le virement", "virement",
			"enviar dinero", "transferir", "confirmar transferencia",
		},
	},
	{
		consequence: "send a signed or binding submission",
		phrases: []string{
			"sign and submit", "accept and sign", "agree and continue",
			"i agree, submit", "submit application",
			"unterschreiben und absenden", "signer et envoyer", "firmar y enviar",
		},
	},
}

type compiledGroup struct {
	consequence string
	re          *regexp.Regexp
}

// Gate classifies actions that would be hard or impossible to undo.
type Gate struct {
	logger  *zap.Logger
	cfg     config.PolicyConfig
	builtin []compiledGroup
	extra   []*regexp.Regexp
}

// NewGate compiles the built in phrase table plus any operator supplied
// patterns. A malformed extra pattern is a configuration error, not
// something to skip silently.
func NewGate(cfg config.PolicyConfig, logger *zap.Logger) (*Gate, error) {
	g := &Gate{
		logger:  logger.Named("policy"),
		cfg:     cfg,
		builtin: make([]compiledGroup, 0, len(destructiveGroups)),
	}
	for _, group := range destructiveGroups {
		g.builtin = append(g.builtin, compiledGroup{
			consequence: group.consequence,
			re:          compilePhrases(group.phrases),
		})
	}
	for _, raw := range cfg.ExtraPatterns {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("invalid policy pattern %q: %w", raw, err)
		}
		g.extra = append(g.extra, re)
	}
	return g, nil
}

// compilePhrases builds one alternation regex for a phrase list. \b does not
// understand unicode letters, so the boundary is spelled out as
// "not preceded / followed by a letter".
func compilePhrases(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	pattern := `(?i)(^|[^\p{L}])(` + strings.Join(quoted, "|") + `)([^\p{L}]|$)`
	return regexp.MustCompile(pattern)
}

// Evaluate classifies one pending action. Only click_element is ever
// flagged. For a click it inspects the target element's visible texts and
// returns a destructive verdict with a human readable description of the
// suspected consequence. A non click action, a nil element (unknown id) or
// a disabled gate is always clean.
func (g *Gate) Evaluate(action string, el *schemas.Element) schemas.SecurityVerdict {
	if !g.cfg.ConfirmDestructive || action != schemas.ToolClickElement || el == nil {
		return schemas.SecurityVerdict{}
	}

	haystack := gatherText(el)
	if haystack == "" {
		return schemas.SecurityVerdict{}
	}

	for _, group := range g.builtin {
		m := group.re.FindStringSubmatch(haystack)
		if m == nil {
			continue
		}
		g.logger.Info("Flagged a potentially destructive action.",
			zap.Int("element_id", el.ID),
			zap.String("matched", m[2]),
			zap.String("consequence", group.consequence))
		return schemas.SecurityVerdict{
			Destructive: true,
			Description: fmt.Sprintf("Activating %q may %s.", strings.TrimSpace(m[2]), group.consequence),
		}
	}

	for _, re := range g.extra {
		if m := re.FindString(haystack); m != "" {
			g.logger.Info("Flagged an action via configured pattern.",
				zap.Int("element_id", el.ID),
				zap.String("matched", m))
			return schemas.SecurityVerdict{
				Destructive: true,
				Description: fmt.Sprintf("Activating this element matches the restricted pattern %q.", m),
			}
		}
	}
	return schemas.SecurityVerdict{}
}

// gatherText joins the element texts a user would read before clicking.
// Hrefs stay out: navigating to a checkout page is not the same as buying.
func gatherText(el *schemas.Element) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{el.Text, el.Label, el.Title, el.Value} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}
