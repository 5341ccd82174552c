package risk

import "github.com/ppiankov/axiom/internal/model"

// OverallAction derives the response-level action from per-claim results.
//
// Precedence: a blocked critical/high claim blocks the response; otherwise
// any rewrite means rewrite; otherwise a blocked low/medium claim is
// downgraded to rewrite; otherwise allow. An empty list blocks, since
// nothing was verified.
func OverallAction(verifications []model.ClaimVerification) model.Action {
	if len(verifications) == 0 {
		return model.ActionBlock
	}

	anyRewrite, anyBlock := false, false
	for _, v := range verifications {
		switch v.Action {
		case model.ActionBlock:
			if v.Claim.Severity.IsSevere() {
				return model.ActionBlock
			}
			anyBlock = true
		case model.ActionRewrite:
			anyRewrite = true
		}
	}

	if anyRewrite || anyBlock {
		return model.ActionRewrite
	}
	return model.ActionAllow
}
