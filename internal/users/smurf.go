package users

import (
	"context"
	"sort"
	"time"
)

// SmurfMatch is one probable alternate account.
type SmurfMatch struct {
	AccountKey string
	Confidence int // 100, 90, 80 or 60
}

// Smurf confidence tiers, derived from shared-IP linkage:
//
//	100% — shares the account's most recent IP, both seen within a day
//	 90% — shares the most recent IP
//	 80% — shares any recorded IP
//	 60% — shares an IP with an 80%+ match (one indirection)
const (
	confidenceDirectFresh = 100
	confidenceDirect      = 90
	confidenceShared      = 80
	confidenceIndirect    = 60
)

// Smurfs returns probable alternate accounts of accountKey, strongest
// first.
func (s *Store) Smurfs(ctx context.Context, accountKey string) ([]SmurfMatch, error) {
	ips, err := s.repo.IPs(ctx, accountKey)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, nil
	}

	ipValues := make([]string, len(ips))
	for i, e := range ips {
		ipValues[i] = e.Value
	}
	latestIP := ips[0].Value
	latestSeen := ips[0].LastSeen

	byIP, err := s.repo.AccountsByIPs(ctx, ipValues)
	if err != nil {
		return nil, err
	}

	conf := make(map[string]int)
	for ip, entries := range byIP {
		for _, e := range entries {
			if e.Value == accountKey {
				continue
			}
			level := confidenceShared
			if ip == latestIP {
				level = confidenceDirect
				if within(latestSeen, e.LastSeen, 24*time.Hour) {
					level = confidenceDirectFresh
				}
			}
			if level > conf[e.Value] {
				conf[e.Value] = level
			}
		}
	}

	// One indirection hop: accounts sharing an IP with an 80%+ match.
	direct := make([]string, 0, len(conf))
	for k, c := range conf {
		if c >= confidenceShared {
			direct = append(direct, k)
		}
	}
	for _, k := range direct {
		kips, err := s.repo.IPs(ctx, k)
		if err != nil {
			return nil, err
		}
		vals := make([]string, len(kips))
		for i, e := range kips {
			vals[i] = e.Value
		}
		indirect, err := s.repo.AccountsByIPs(ctx, vals)
		if err != nil {
			return nil, err
		}
		for _, entries := range indirect {
			for _, e := range entries {
				if e.Value == accountKey {
					continue
				}
				if _, seen := conf[e.Value]; !seen {
					conf[e.Value] = confidenceIndirect
				}
			}
		}
	}

	out := make([]SmurfMatch, 0, len(conf))
	for k, c := range conf {
		out = append(out, SmurfMatch{AccountKey: k, Confidence: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].AccountKey < out[j].AccountKey
	})
	return out, nil
}

func within(a, b time.Time, d time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d
}
