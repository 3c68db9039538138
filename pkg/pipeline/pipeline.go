// Package pipeline implements the per-request gateway orchestrator:
// validate -> revocation check -> translate -> issue.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/wisbric/tollgate/internal/telemetry"
	"github.com/wisbric/tollgate/pkg/configstore"
	"github.com/wisbric/tollgate/pkg/issuer"
	"github.com/wisbric/tollgate/pkg/translate"
	"github.com/wisbric/tollgate/pkg/validator"
)

// Decision is the sum-type outcome of handling one request.
type Decision int

const (
	DecisionForward Decision = iota
	DecisionDeny
)

// Outcome is the result of running the pipeline for one inbound request.
type Outcome struct {
	Decision Decision

	// Populated on DecisionDeny.
	StatusCode int
	Reason     string

	// Populated on DecisionForward.
	Issued    issuer.IssuedToken
	Claims    translate.Claims
	Degraded  bool // true if forwarding the original token because issuance failed
	Original  string
}

// ConfigLoader resolves the active translation schema.
type ConfigLoader interface {
	GetActive(ctx context.Context) (configstore.Version, error)
}

// RevocationChecker is the fail-closed revocation decision. The bus fanout
// keeps it eventually consistent across instances, transparently to the
// pipeline.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) bool
}

// Pipeline orchestrates one request's validate/revoke/translate/issue
// sequence.
type Pipeline struct {
	validator    *validator.Validator
	revocation   RevocationChecker
	configs      ConfigLoader
	issuer       *issuer.Issuer
	providerCfg  validator.ProviderConfig
	issuerCfg    issuer.Config
	degradedMode bool
	logger       *slog.Logger
}

// New creates a Pipeline from its collaborators.
func New(
	v *validator.Validator,
	rev RevocationChecker,
	configs ConfigLoader,
	iss *issuer.Issuer,
	providerCfg validator.ProviderConfig,
	issuerCfg issuer.Config,
	degradedMode bool,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		validator:    v,
		revocation:   rev,
		configs:      configs,
		issuer:       iss,
		providerCfg:  providerCfg,
		issuerCfg:    issuerCfg,
		degradedMode: degradedMode,
		logger:       logger,
	}
}

// Handle runs the full sequence for one inbound bearer token.
func (p *Pipeline) Handle(ctx context.Context, rawToken string, audience string) Outcome {
	v := p.validator.Validate(ctx, rawToken, p.providerCfg)

	switch v.Outcome {
	case validator.OutcomeNoToken:
		telemetry.PipelineDecisionsTotal.WithLabelValues("deny", "no_token").Inc()
		return Outcome{Decision: DecisionDeny, StatusCode: 401, Reason: "no_token"}
	case validator.OutcomeInvalid:
		telemetry.PipelineDecisionsTotal.WithLabelValues("deny", string(v.Reason)).Inc()
		return Outcome{Decision: DecisionDeny, StatusCode: 401, Reason: string(v.Reason)}
	}

	if p.revocation.IsRevoked(ctx, v.JTI, v.Subject, v.IssuedAt) {
		telemetry.PipelineDecisionsTotal.WithLabelValues("deny", "revoked").Inc()
		return Outcome{Decision: DecisionDeny, StatusCode: 401, Reason: "revoked"}
	}

	cfgVersion, err := p.configs.GetActive(ctx)
	var schema translate.Schema
	if err != nil {
		p.logger.Warn("pipeline: no active translation config, applying deny-if-no-match default", "error", err)
		schema.Defaults.DenyIfNoMatch = true
	} else {
		schema = cfgVersion.Schema
	}

	claims := translate.Translate(schema, v.Claims)
	telemetry.TranslationsTotal.Inc()

	if len(claims.Roles) == 0 && len(claims.Permissions) == 0 && schema.Defaults.DenyIfNoMatch {
		telemetry.PipelineDecisionsTotal.WithLabelValues("deny", "no_match").Inc()
		return Outcome{Decision: DecisionDeny, StatusCode: 401, Reason: "no_match"}
	}

	issued, err := p.issuer.Issue(ctx, v, p.issuerCfg, audience)
	if err != nil {
		if p.degradedMode {
			telemetry.PipelineDecisionsTotal.WithLabelValues("forward", "degraded").Inc()
			// Strip any "Bearer " prefix so Original matches the bare-JWS shape
			// of Issued.JWS on the normal forwarding path — callers shouldn't
			// have to format the access_token differently depending on mode.
			bareToken := strings.TrimSpace(strings.TrimPrefix(rawToken, "Bearer "))
			return Outcome{
				Decision: DecisionForward,
				Claims:   claims,
				Degraded: true,
				Original: bareToken,
			}
		}
		telemetry.PipelineDecisionsTotal.WithLabelValues("deny", "issuer_unavailable").Inc()
		return Outcome{Decision: DecisionDeny, StatusCode: 503, Reason: "issuer_unavailable"}
	}

	telemetry.PipelineDecisionsTotal.WithLabelValues("forward", "ok").Inc()
	return Outcome{Decision: DecisionForward, Issued: issued, Claims: claims}
}
