package checkpoint

import (
	"net/url"
	"strings"

	"github.com/droverhq/drover/pkg/types"
)

// Observation is everything one detection pass reasons over: the
// parsed URL plus the matcher snapshot. Snapshot may be nil when the
// matcher failed; only URL-based rules can fire then.
type Observation struct {
	RawURL   string
	URL      *url.URL
	Snapshot *types.Snapshot
}

// Rule maps a condition to a checkpoint. Rules are evaluated in
// declared order; the first hit wins.
type Rule struct {
	Checkpoint types.CheckpointID
	URLOnly    bool // evaluable without a snapshot
	Matches    func(obs *Observation) bool
}

// Platform is one site's checkpoint rule table
type Platform struct {
	Name  string
	Hosts []string // host suffixes considered on-site
	Rules []Rule
}

// Onsite reports whether a host belongs to the platform
func (p *Platform) Onsite(host string) bool {
	host = strings.ToLower(host)
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// matchedSuffix reports whether any matched container id's last
// segment equals name
func matchedSuffix(snap *types.Snapshot, name string) bool {
	if snap == nil {
		return false
	}
	for _, id := range snap.MatchedIDs {
		if id == name || strings.HasSuffix(id, "."+name) {
			return true
		}
	}
	return false
}

// urlContainsAny reports whether the URL path or query carries any of
// the markers
func urlContainsAny(obs *Observation, markers []string) bool {
	if obs.URL == nil {
		return false
	}
	probe := obs.URL.Path + "?" + obs.URL.RawQuery
	for _, m := range markers {
		if strings.Contains(probe, m) {
			return true
		}
	}
	return false
}

// Xiaohongshu returns the xiaohongshu.com checkpoint table. The rules
// deliberately combine URL and DOM evidence: on an anti-bot site the
// URL alone may lie (a note id lingers after the modal closes) and the
// DOM alone may lie (skeleton markup before hydration).
func Xiaohongshu() *Platform {
	riskMarkers := []string{"/website-login/captcha", "/web-login/captcha", "captcha", "verifypage", "security-check"}

	p := &Platform{
		Name:  "xiaohongshu",
		Hosts: []string{"xiaohongshu.com", "xhscdn.com"},
	}
	p.Rules = []Rule{
		{
			Checkpoint: types.CheckpointRiskControl,
			URLOnly:    true,
			Matches: func(obs *Observation) bool {
				return urlContainsAny(obs, riskMarkers) || matchedSuffix(obs.Snapshot, "risk_control")
			},
		},
		{
			Checkpoint: types.CheckpointOffsite,
			URLOnly:    true,
			Matches: func(obs *Observation) bool {
				return obs.URL == nil || !p.Onsite(obs.URL.Host)
			},
		},
		{
			Checkpoint: types.CheckpointLoginGuard,
			Matches: func(obs *Observation) bool {
				return !matchedSuffix(obs.Snapshot, "login_anchor") && matchedSuffix(obs.Snapshot, "login_guard")
			},
		},
		{
			Checkpoint: types.CheckpointCommentsReady,
			Matches: func(obs *Observation) bool {
				return matchedSuffix(obs.Snapshot, "comment_section") || matchedSuffix(obs.Snapshot, "comment_item")
			},
		},
		{
			Checkpoint: types.CheckpointDetailReady,
			Matches: func(obs *Observation) bool {
				return matchedSuffix(obs.Snapshot, "modal_shell") && matchedSuffix(obs.Snapshot, "content_anchor")
			},
		},
		{
			Checkpoint: types.CheckpointSearchReady,
			Matches: func(obs *Observation) bool {
				return matchedSuffix(obs.Snapshot, "search_bar") && matchedSuffix(obs.Snapshot, "search_result_list")
			},
		},
		{
			// DOM signal overrides URL here: a note id may linger
			// in the URL after the detail modal closes.
			Checkpoint: types.CheckpointHomeReady,
			Matches: func(obs *Observation) bool {
				if obs.Snapshot == nil {
					return false
				}
				return obs.Snapshot.Matched("xiaohongshu_home") && !obs.Snapshot.Signals.HasDetailMask
			},
		},
	}
	return p
}

// Weibo returns the weibo.com checkpoint table
func Weibo() *Platform {
	riskMarkers := []string{"/security", "captcha", "verifybridge", "sectips"}

	p := &Platform{
		Name:  "weibo",
		Hosts: []string{"weibo.com", "weibo.cn"},
	}
	p.Rules = []Rule{
		{
			Checkpoint: types.CheckpointRiskControl,
			URLOnly:    true,
			Matches: func(obs *Observation) bool {
				return urlContainsAny(obs, riskMarkers) || matchedSuffix(obs.Snapshot, "risk_control")
			},
		},
		{
			Checkpoint: types.CheckpointOffsite,
			URLOnly:    true,
			Matches: func(obs *Observation) bool {
				return obs.URL == nil || !p.Onsite(obs.URL.Host)
			},
		},
		{
			Checkpoint: types.CheckpointLoginGuard,
			Matches: func(obs *Observation) bool {
				return !matchedSuffix(obs.Snapshot, "login_anchor") && matchedSuffix(obs.Snapshot, "login_guard")
			},
		},
		{
			Checkpoint: types.CheckpointCommentsReady,
			Matches: func(obs *Observation) bool {
				return matchedSuffix(obs.Snapshot, "comment_list") || matchedSuffix(obs.Snapshot, "comment_item")
			},
		},
		{
			Checkpoint: types.CheckpointDetailReady,
			Matches: func(obs *Observation) bool {
				return matchedSuffix(obs.Snapshot, "post_detail") && matchedSuffix(obs.Snapshot, "post_content")
			},
		},
		{
			Checkpoint: types.CheckpointSearchReady,
			Matches: func(obs *Observation) bool {
				return matchedSuffix(obs.Snapshot, "search_bar") && matchedSuffix(obs.Snapshot, "search_feed")
			},
		},
		{
			Checkpoint: types.CheckpointHomeReady,
			Matches: func(obs *Observation) bool {
				if obs.Snapshot == nil {
					return false
				}
				return matchedSuffix(obs.Snapshot, "weibo_home") && !obs.Snapshot.Signals.HasDetailMask
			},
		},
	}
	return p
}
