package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

const (
	// initialScore is where every self-registered expertise entry starts.
	initialScore = 50
	// attestIncrement is added per valid peer attestation.
	attestIncrement = 5
	// maxScore caps the reputation score.
	maxScore = 100
	// attesterMinScore is the score an attester needs in the same domain.
	attesterMinScore = 70
	// autoVerifyAttestations is the attestation-set size at which an entry
	// flips to verified on its own.
	autoVerifyAttestations = 3
)

// RegisterExpertise creates an unverified entry at the initial score. The
// evidence string is carried into the audit trail only; scoring is driven
// entirely by peer attestation.
func (g *Module) RegisterExpertise(ctx context.Context, owner, expertiseDomain, evidence string) error {
	d := strings.TrimSpace(strings.ToLower(expertiseDomain))
	if d == "" {
		return fmt.Errorf("governance: expertise domain required")
	}
	if _, err := g.expertise.Get(ctx, owner, d); err == nil {
		return fmt.Errorf("governance: expertise %s/%s: %w", owner, d, domain.ErrAlreadyExists)
	}

	e := domain.Expertise{
		Owner:     owner,
		Domain:    d,
		Score:     initialScore,
		Verified:  false,
		CreatedAt: g.now(),
	}
	if err := g.expertise.Register(ctx, e); err != nil {
		return fmt.Errorf("governance: register expertise: %w", err)
	}
	g.logger.InfoContext(ctx, "expertise registered",
		slog.String("owner", owner),
		slog.String("domain", d),
		slog.String("evidence", evidence),
	)
	return nil
}

// AttestExpertise records a peer attestation. The attester must hold verified
// status with a qualifying score in the same domain; self-attestation and
// duplicate attestation are rejected without touching the score. Verification
// flips automatically once the attestation set reaches the threshold.
func (g *Module) AttestExpertise(ctx context.Context, attester, expert, expertiseDomain string) error {
	d := strings.TrimSpace(strings.ToLower(expertiseDomain))
	if attester == expert {
		return fmt.Errorf("governance: %s: %w", attester, domain.ErrSelfAttestation)
	}

	att, err := g.expertise.Get(ctx, attester, d)
	if err != nil {
		return fmt.Errorf("governance: attester %s/%s: %w", attester, d, domain.ErrAttesterNotQualified)
	}
	if !att.Verified || att.Score < attesterMinScore {
		return fmt.Errorf("governance: attester %s/%s (verified=%v score=%d): %w",
			attester, d, att.Verified, att.Score, domain.ErrAttesterNotQualified)
	}

	e, err := g.expertise.Get(ctx, expert, d)
	if err != nil {
		return fmt.Errorf("governance: expert %s/%s: %w", expert, d, err)
	}
	if e.HasAttester(attester) {
		return fmt.Errorf("governance: %s already attested %s/%s: %w", attester, expert, d, domain.ErrDuplicateAttestation)
	}

	e.Score += attestIncrement
	if e.Score > maxScore {
		e.Score = maxScore
	}
	e.Attesters = append(e.Attesters, attester)
	if !e.Verified && len(e.Attesters) >= autoVerifyAttestations {
		e.Verified = true
		now := g.now()
		e.VerifiedAt = &now
	}

	if err := g.expertise.Update(ctx, e); err != nil {
		return fmt.Errorf("governance: update expertise: %w", err)
	}
	g.logger.InfoContext(ctx, "expertise attested",
		slog.String("expert", expert),
		slog.String("attester", attester),
		slog.String("domain", d),
		slog.Int("score", e.Score),
		slog.Bool("verified", e.Verified),
	)
	return nil
}

// VerifyExpertise is the privileged manual verification path.
func (g *Module) VerifyExpertise(ctx context.Context, owner, expertiseDomain string) error {
	d := strings.TrimSpace(strings.ToLower(expertiseDomain))
	e, err := g.expertise.Get(ctx, owner, d)
	if err != nil {
		return fmt.Errorf("governance: expertise %s/%s: %w", owner, d, err)
	}
	if e.Verified {
		return nil
	}
	e.Verified = true
	now := g.now()
	e.VerifiedAt = &now
	if err := g.expertise.Update(ctx, e); err != nil {
		return fmt.Errorf("governance: verify expertise: %w", err)
	}
	return nil
}
