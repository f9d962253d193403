package synth

import (
	"fmt"

	"github.com/artpar/tunnelgate/internal/core/params"
)

// Exposure is a surface a parameter set leaves reachable without
// forward-auth in front of it.
type Exposure struct {
	Surface string
	Reason  string
}

func (e Exposure) String() string {
	return e.Surface + ": " + e.Reason
}

// Exposures lists the unguarded surfaces of p. The admin panel has no login
// of its own here, so with TOTP off nothing stands in front of it; the
// metrics binding serves the whole panel, not only /metrics, on loopback.
func Exposures(p params.Params) []Exposure {
	var out []Exposure
	if !p.TOTPEnabled {
		out = append(out, Exposure{
			Surface: "https://" + p.AdminHost(),
			Reason:  "admin panel is served without authentication while totp is disabled",
		})
	}
	if p.MetricsEnabled {
		out = append(out, Exposure{
			Surface: fmt.Sprintf("127.0.0.1:%d", AdminUIPort),
			Reason:  "admin panel is reachable by any local user without authentication",
		})
	}
	return out
}
